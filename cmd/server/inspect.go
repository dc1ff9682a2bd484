package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/ledger"
)

func init() {
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(seedCmd)

	historyCmd.Flags().StringSlice("reason", nil, "Only show these reasons (repeat or comma-separate)")
	historyCmd.Flags().Int("limit", ledger.DefaultHistoryLimit, "Maximum entries to print")
	historyCmd.Flags().Int("offset", 0, "Entries to skip")
}

// ─── balance ────────────────────────────────────────────────────────────────

var balanceCmd = &cobra.Command{
	Use:   "balance ACCOUNT",
	Short: "Print an account's balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		balance, err := s.coord.CurrentBalance(cmd.Context(), ledger.AccountID(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", args[0], balance)
		return nil
	},
}

// ─── history ────────────────────────────────────────────────────────────────

var historyCmd = &cobra.Command{
	Use:   "history ACCOUNT",
	Short: "Print an account's ledger entries, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	reasons, _ := cmd.Flags().GetStringSlice("reason")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	filter := ledger.HistoryFilter{Limit: limit, Offset: offset}
	for _, r := range reasons {
		reason, err := ledger.ParseReason(strings.TrimSpace(r))
		if err != nil {
			return err
		}
		filter.Reasons = append(filter.Reasons, reason)
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.coord.History(cmd.Context(), ledger.AccountID(args[0]), filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tDAY\tREASON\tDELTA\tBALANCE\tKEY")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%+d\t%d\t%s\n",
			e.Seq, e.ActivityDay, e.Reason, e.Delta, e.BalanceAfter, e.IdempotencyKey)
	}
	return tw.Flush()
}

// ─── verify ─────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify [ACCOUNT]",
	Short: "Check balance chains",
	Long: `Check that every entry's balance_after equals the previous balance plus
its delta, and that the current balance equals the sum of deltas. Without
an account every account is checked. Exits non-zero on any violation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if err := s.coord.Verify(cmd.Context(), ledger.AccountID(args[0])); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: ok\n", args[0])
		return nil
	}

	report, err := s.coord.VerifyAll(cmd.Context())
	if err != nil {
		return err
	}
	for account, verr := range report.Violations {
		fmt.Fprintf(out, "%s: %v\n", account, verr)
	}
	fmt.Fprintf(out, "%d accounts checked, %d violations\n", report.Accounts, len(report.Violations))
	if !report.OK() {
		return errors.New("balance chain violations found")
	}
	return nil
}

// ─── seed ───────────────────────────────────────────────────────────────────

var seedCmd = &cobra.Command{
	Use:   "seed SCENARIO",
	Short: "Load a demo scenario (streak-week, broken-streak, quiz-and-redeem)",
	Long: `Apply a demo scenario's events so that its last day is today. Loading
the same scenario again replays the stored entries.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	loader := &api.ScenarioLoader{Coordinator: s.coord}
	results, err := loader.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	created := 0
	for _, res := range results {
		if !res.Replayed {
			created++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries created, %d replayed\n", args[0], created, len(results)-created)
	return nil
}
