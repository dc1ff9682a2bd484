package points

import (
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-ledger/rewards"
	"github.com/warp/points-ledger/streak"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRules replaces the default point table.
func WithRules(r rewards.Rules) Option {
	return func(c *Coordinator) { c.rules = r }
}

// WithMilestones replaces the default streak milestone table.
func WithMilestones(m streak.Milestones) Option {
	return func(c *Coordinator) { c.milestones = m }
}

// WithClock sets the time source. Used by tests to move across days.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLocation sets the time zone that defines a calendar day.
func WithLocation(loc *time.Location) Option {
	return func(c *Coordinator) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHistoryLimit sets the page size used when a history filter has none.
func WithHistoryLimit(n int) Option {
	return func(c *Coordinator) { c.historyLimit = n }
}
