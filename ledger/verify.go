package ledger

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

// VerifyChain checks the balance integrity invariant over entries in
// chronological (Seq) order. Returns an *IntegrityError for the first entry
// whose BalanceAfter is not the previous balance plus its Delta.
func VerifyChain(entries []Entry) error {
	var balance int64
	var lastSeq int64
	for _, e := range entries {
		if e.Seq <= lastSeq && lastSeq != 0 {
			return &IntegrityError{
				AccountID: e.AccountID, EntryID: e.ID, Seq: e.Seq,
				Expected: lastSeq + 1, Actual: e.Seq,
			}
		}
		expected := balance + e.Delta
		if e.BalanceAfter != expected {
			return &IntegrityError{
				AccountID: e.AccountID, EntryID: e.ID, Seq: e.Seq,
				Expected: expected, Actual: e.BalanceAfter,
			}
		}
		if got := e.Breakdown.Total(); len(e.Breakdown) > 0 && got != e.Delta {
			return &IntegrityError{
				AccountID: e.AccountID, EntryID: e.ID, Seq: e.Seq,
				Expected: e.Delta, Actual: got,
			}
		}
		balance = e.BalanceAfter
		lastSeq = e.Seq
	}
	return nil
}

// Sum returns the arithmetic sum of all deltas.
func Sum(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Delta
	}
	return total
}
