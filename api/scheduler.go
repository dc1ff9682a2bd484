/*
scheduler.go - Periodic balance chain audit

PURPOSE:
  Walks every account on a fixed interval and checks that its entries
  form an unbroken running total ending at the current balance. Broken
  chains are logged at error level and counted in metrics; the audit
  never rewrites the ledger.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start
  - Each pass is bounded by the interval so a slow store cannot stack runs

CONFIGURATION:
  - Interval: How often to check (default: 1 hour, config audit.interval)
  - Enabled: Whether the auditor is active (config audit.enabled)

USAGE:
  auditor := NewAuditor(coordinator, time.Hour, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: TriggerAudit endpoint (manual audit)
  - points/coordinator.go: VerifyAll
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-ledger/metrics"
	"github.com/warp/points-ledger/points"
)

// Verifier runs an integrity pass over every account.
type Verifier interface {
	VerifyAll(ctx context.Context) (points.AuditReport, error)
}

// Audit run results, used as the metrics label.
const (
	AuditResultOK         = "ok"
	AuditResultViolations = "violations"
	AuditResultError      = "error"
)

// Auditor runs Verifier.VerifyAll on an interval.
type Auditor struct {
	Verifier Verifier
	Interval time.Duration
	Enabled  bool
	Logger   *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditor creates an enabled auditor.
func NewAuditor(v Verifier, interval time.Duration, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{
		Verifier: v,
		Interval: interval,
		Enabled:  true,
		Logger:   logger.Named("audit"),
	}
}

// Start begins the audit loop. Calling Start twice is a no-op.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.Enabled || a.Interval <= 0 {
		a.Logger.Info("integrity audit disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.stop = make(chan struct{})
	a.ticker = time.NewTicker(a.Interval)
	a.wg.Add(1)

	go a.run(ctx)

	a.Logger.Info("integrity audit started", zap.Duration("interval", a.Interval))
}

// Stop cancels an in-flight pass and waits for the loop to exit.
func (a *Auditor) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ticker == nil {
		return
	}
	a.ticker.Stop()
	a.cancel()
	close(a.stop)
	a.wg.Wait()
	a.ticker = nil
	a.Logger.Info("integrity audit stopped")
}

func (a *Auditor) run(ctx context.Context) {
	defer a.wg.Done()

	a.RunOnce(ctx)

	for {
		select {
		case <-a.ticker.C:
			a.RunOnce(ctx)
		case <-a.stop:
			return
		}
	}
}

// RunOnce performs a single audit pass and records its outcome.
func (a *Auditor) RunOnce(ctx context.Context) (points.AuditReport, error) {
	if a.Interval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Interval)
		defer cancel()
	}

	started := time.Now()
	report, err := a.Verifier.VerifyAll(ctx)
	if err != nil {
		metrics.AuditRuns.WithLabelValues(AuditResultError).Inc()
		a.Logger.Error("integrity audit failed", zap.Error(err), zap.Duration("duration", time.Since(started)))
		return report, err
	}

	metrics.AuditAccounts.Set(float64(report.Accounts))
	if !report.OK() {
		metrics.AuditRuns.WithLabelValues(AuditResultViolations).Inc()
		metrics.AuditViolations.Add(float64(len(report.Violations)))
		for account, verr := range report.Violations {
			a.Logger.Error("balance chain violation",
				zap.String("account_id", string(account)),
				zap.Error(verr),
			)
		}
		return report, nil
	}

	metrics.AuditRuns.WithLabelValues(AuditResultOK).Inc()
	a.Logger.Info("integrity audit passed",
		zap.Int("accounts", report.Accounts),
		zap.Duration("duration", time.Since(started)),
	)
	return report, nil
}
