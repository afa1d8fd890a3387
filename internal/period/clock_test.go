package period

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestPeriodStart(t *testing.T) {
	clock := NewClock(86400)

	cases := []struct {
		ts   uint64
		want uint64
	}{
		{0, 0},
		{1, 0},
		{86399, 0},
		{86400, 86400},
		{1700000000, 1699920000},
	}

	for _, tc := range cases {
		if got := clock.PeriodStart(tc.ts); got != tc.want {
			t.Fatalf("PeriodStart(%d) = %d, want %d", tc.ts, got, tc.want)
		}
	}
}

func TestHasTransitioned(t *testing.T) {
	clock := NewClock(3600)

	if clock.HasTransitioned(7200, 7200+3599) {
		t.Fatalf("same period should not transition")
	}
	if !clock.HasTransitioned(7200, 10800) {
		t.Fatalf("next period should transition")
	}
	if !clock.HasTransitioned(0, 3600) {
		t.Fatalf("epoch default should transition on first full period")
	}
}

type memState map[string]uint64

func (m memState) LoadState(_ context.Context, name string) (uint64, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

func (m memState) SaveState(_ context.Context, name string, value uint64) error {
	m[name] = value
	return nil
}

func TestTimekeeperAdvance(t *testing.T) {
	ctx := context.Background()
	state := memState{}

	tk, err := NewTimekeeper(ctx, NewClock(86400), state, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.LastPeriodStart() != 0 {
		t.Fatalf("fresh timekeeper should start at epoch")
	}
	if !tk.IsNewPeriod(86401) {
		t.Fatalf("expected new period")
	}

	if err := tk.Advance(ctx, 86401); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if tk.LastPeriodStart() != 86400 {
		t.Fatalf("expected period start 86400, got %d", tk.LastPeriodStart())
	}
	if tk.IsNewPeriod(86400 + 100) {
		t.Fatalf("same period should not be new after advance")
	}

	// A restart recovers the persisted value.
	tk2, err := NewTimekeeper(ctx, NewClock(86400), state, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk2.LastPeriodStart() != 86400 {
		t.Fatalf("expected recovered period start 86400, got %d", tk2.LastPeriodStart())
	}
}
