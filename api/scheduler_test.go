package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/ledger/store"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/rewards"
)

type stubVerifier struct {
	calls  atomic.Int32
	report points.AuditReport
	err    error
}

func (s *stubVerifier) VerifyAll(ctx context.Context) (points.AuditReport, error) {
	s.calls.Add(1)
	return s.report, s.err
}

func TestAuditor_RunOnce_Clean(t *testing.T) {
	// GIVEN: A coordinator with two healthy accounts
	// WHEN: Running one audit pass
	// THEN: The report is clean and covers both accounts
	ctx := context.Background()
	c := points.New(store.NewMemory())
	_, err := c.Apply(ctx, "u1", rewards.DailyLogin{}, "k1")
	require.NoError(t, err)
	_, err = c.Apply(ctx, "u2", rewards.Grant{Amount: 5}, "k2")
	require.NoError(t, err)

	report, err := NewAuditor(c, time.Minute, nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Accounts)
}

func TestAuditor_RunOnce_LogsViolations(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	v := &stubVerifier{report: points.AuditReport{
		Accounts: 3,
		Violations: map[ledger.AccountID]error{
			"u2": &ledger.IntegrityError{AccountID: "u2", Expected: 10, Actual: 12},
		},
	}}

	report, err := NewAuditor(v, time.Minute, zap.New(core)).RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK())

	entries := logs.FilterMessage("balance chain violation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "u2", entries[0].ContextMap()["account_id"])
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestAuditor_RunOnce_Error(t *testing.T) {
	v := &stubVerifier{err: ledger.Unavailable("list accounts", errors.New("locked"))}

	_, err := NewAuditor(v, time.Minute, nil).RunOnce(context.Background())
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
}

func TestAuditor_StartRunsImmediatelyAndStops(t *testing.T) {
	v := &stubVerifier{}
	a := NewAuditor(v, time.Hour, nil)

	a.Start()
	a.Start() // no second loop
	assert.Eventually(t, func() bool { return v.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	a.Stop()
	a.Stop()
	assert.Equal(t, int32(1), v.calls.Load())
}

func TestAuditor_Disabled(t *testing.T) {
	v := &stubVerifier{}
	a := NewAuditor(v, time.Millisecond, nil)
	a.Enabled = false

	a.Start()
	time.Sleep(10 * time.Millisecond)
	a.Stop()
	assert.Zero(t, v.calls.Load())
}
