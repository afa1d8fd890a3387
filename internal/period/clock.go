package period

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultSeconds is the default period length (one day).
const DefaultSeconds = 86400

// StateName is the key under which the timekeeper persists its progress.
const StateName = "timekeeper"

// Clock maps block timestamps onto fixed-length periods using integer floor
// division on epoch seconds. No calendar logic.
type Clock struct {
	PeriodSeconds uint64
}

func NewClock(periodSeconds uint64) Clock {
	if periodSeconds == 0 {
		periodSeconds = DefaultSeconds
	}
	return Clock{PeriodSeconds: periodSeconds}
}

// PeriodStart returns the start of the period enclosing ts.
func (c Clock) PeriodStart(ts uint64) uint64 {
	return ts - (ts % c.PeriodSeconds)
}

// HasTransitioned reports whether ts falls into a different period than the
// one starting at previousStart.
func (c Clock) HasTransitioned(previousStart, ts uint64) bool {
	return c.PeriodStart(ts) != previousStart
}

// StateStore persists the last period start seen.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error
}

// Timekeeper tracks the last period start across successive blocks. It is
// constructed once per process and threaded explicitly through the engine.
type Timekeeper struct {
	clock  Clock
	state  StateStore
	logger *zap.Logger

	lastPeriodStart uint64
}

// NewTimekeeper recovers the last period start from the state store,
// defaulting to the Unix epoch when none is persisted yet.
func NewTimekeeper(ctx context.Context, clock Clock, state StateStore, logger *zap.Logger) (*Timekeeper, error) {
	if state == nil {
		return nil, fmt.Errorf("timekeeper state store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	last, ok, err := state.LoadState(ctx, StateName)
	if err != nil {
		return nil, fmt.Errorf("load timekeeper state: %w", err)
	}
	if !ok {
		last = 0
	}
	logger.Info("timekeeper recovered", zap.Uint64("last_period_start", last), zap.Bool("persisted", ok))

	return &Timekeeper{
		clock:           clock,
		state:           state,
		logger:          logger,
		lastPeriodStart: last,
	}, nil
}

// Clock returns the underlying period clock.
func (t *Timekeeper) Clock() Clock {
	return t.clock
}

// LastPeriodStart returns the start of the last period a snapshot cycle
// completed for.
func (t *Timekeeper) LastPeriodStart() uint64 {
	return t.lastPeriodStart
}

// IsNewPeriod reports whether ts begins a period the timekeeper has not yet
// snapshotted.
func (t *Timekeeper) IsNewPeriod(ts uint64) bool {
	return t.clock.HasTransitioned(t.lastPeriodStart, ts)
}

// Advance records a completed snapshot cycle for the period enclosing ts.
// It must only be called after the cycle's writes have been persisted.
func (t *Timekeeper) Advance(ctx context.Context, ts uint64) error {
	start := t.clock.PeriodStart(ts)
	if err := t.state.SaveState(ctx, StateName, start); err != nil {
		return fmt.Errorf("save timekeeper state: %w", err)
	}
	t.lastPeriodStart = start
	return nil
}
