package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"lendscope/internal/fixed"
	"lendscope/internal/ledger"
	"lendscope/internal/model"
	"lendscope/internal/period"
	"lendscope/internal/protocol"
	"lendscope/internal/snapshot"
	"lendscope/internal/store"
)

const (
	testPool    = "1"
	testTranche = "0x00000000000000000000000000000001"
	testAccount = "0xAa00000000000000000000000000000000000001"
)

type stubSource struct {
	epochs map[string]protocol.EpochDetails
}

func (s *stubSource) EpochDetails(_ context.Context, poolID, trancheID string, epochIndex int) (protocol.EpochDetails, bool, error) {
	details, ok := s.epochs[fmt.Sprintf("%s-%d-%s", poolID, epochIndex, trancheID)]
	return details, ok, nil
}

func (s *stubSource) PoolDetails(_ context.Context, _ string) (protocol.PoolDetails, bool, error) {
	return protocol.PoolDetails{}, false, nil
}

func (s *stubSource) TrancheSupply(_ context.Context, _, _ string) (*big.Int, bool, error) {
	return nil, false, nil
}

func (s *stubSource) TranchePrice(_ context.Context, _, _ string) (*big.Int, bool, error) {
	return nil, false, nil
}

func (s *stubSource) TrancheDebt(_ context.Context, _, _ string) (*big.Int, bool, error) {
	return nil, false, nil
}

func newTestProcessor(t *testing.T) (*Processor, *store.Memory, *stubSource) {
	t.Helper()
	mem := store.NewMemory()
	source := &stubSource{epochs: make(map[string]protocol.EpochDetails)}
	ldg := ledger.New(mem, source, nil)

	clock := period.NewClock(86400)
	timekeeper, err := period.NewTimekeeper(context.Background(), clock, mem, nil)
	if err != nil {
		t.Fatalf("NewTimekeeper: %v", err)
	}
	snapshots := snapshot.NewService(nil, snapshot.Pools(mem), snapshot.Tranches(mem))
	p, err := NewProcessor(context.Background(), mem, ldg, snapshots, timekeeper, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p, mem, source
}

// restartProcessor builds a fresh processor over the same store, the way the
// process command does after a crash.
func restartProcessor(t *testing.T, mem *store.Memory, source *stubSource) *Processor {
	t.Helper()
	ldg := ledger.New(mem, source, nil)
	clock := period.NewClock(86400)
	timekeeper, err := period.NewTimekeeper(context.Background(), clock, mem, nil)
	if err != nil {
		t.Fatalf("NewTimekeeper: %v", err)
	}
	snapshots := snapshot.NewService(nil, snapshot.Pools(mem), snapshot.Tranches(mem))
	p, err := NewProcessor(context.Background(), mem, ldg, snapshots, timekeeper, nil)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func record(t *testing.T, name string, block, logIndex, ts uint64, data any) *model.EventRecord {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	return &model.EventRecord{
		Name:        name,
		PoolID:      testPool,
		BlockNumber: block,
		LogIndex:    logIndex,
		Timestamp:   ts,
		TxHash:      fmt.Sprintf("0x%064d", block*10+logIndex),
		Data:        raw,
	}
}

func poolCreatedRecord(t *testing.T, block, ts uint64) *model.EventRecord {
	t.Helper()
	return record(t, model.EventPoolCreated, block, 0, ts, model.PoolCreatedData{
		CurrencyID:     "0xCc00000000000000000000000000000000000001",
		CurrencyDigits: 6,
		MaxReserve:     "1000000000",
		Tranches: []model.TrancheSetup{
			{TrancheID: testTranche, Index: 0, IsResidual: true},
		},
	})
}

func TestProcessorSettlesAcrossPeriods(t *testing.T) {
	p, mem, source := newTestProcessor(t)
	ctx := context.Background()

	events := []*model.EventRecord{
		poolCreatedRecord(t, 100, 1_000),
		record(t, model.EventInvestOrderUpdated, 101, 0, 2_000, model.OrderUpdatedData{
			TrancheID: testTranche, AccountID: testAccount, OldAmount: "0", NewAmount: "1000000",
		}),
		record(t, model.EventEpochClosed, 102, 0, 3_000, model.EpochEventData{EpochIndex: 1}),
	}
	source.epochs[fmt.Sprintf("%s-1-%s", testPool, testTranche)] = protocol.EpochDetails{
		Price:             new(big.Int).Set(fixed.Ray),
		InvestFulfillment: new(big.Int).Set(fixed.Ray),
		RedeemFulfillment: big.NewInt(0),
	}
	events = append(events,
		record(t, model.EventEpochExecuted, 103, 0, 4_000, model.EpochEventData{EpochIndex: 1}),
		// First event of the next day triggers the period cycle before
		// it applies.
		record(t, model.EventLoanCreated, 200, 0, 90_000, model.LoanEventData{LoanID: "7"}),
	)

	for _, ev := range events {
		if err := p.ProcessEvent(ctx, ev); err != nil {
			t.Fatalf("ProcessEvent %s: %v", ev.Name, err)
		}
	}

	// The boundary snapshot preserves the first period's invested volume.
	var snap model.PoolSnapshot
	ok, err := mem.Get(ctx, model.KindPoolSnapshot, model.SnapshotID(testPool, 200), &snap)
	if err != nil || !ok {
		t.Fatalf("pool snapshot missing: ok=%v err=%v", ok, err)
	}
	if snap.InvestedAmountByPeriod.String() != "1000000" {
		t.Fatalf("snapshot InvestedAmountByPeriod = %s, want 1000000", snap.InvestedAmountByPeriod)
	}
	if snap.PeriodStart != 86_400 {
		t.Fatalf("snapshot PeriodStart = %d, want 86400", snap.PeriodStart)
	}

	// The live pool starts the new period reset, with the loan applied.
	var pool model.Pool
	if _, err := mem.Get(ctx, model.KindPool, testPool, &pool); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.InvestedAmountByPeriod.Sign() != 0 {
		t.Fatalf("InvestedAmountByPeriod = %s, want 0 after reset", pool.InvestedAmountByPeriod)
	}
	if pool.LoansCreatedByPeriod != 1 {
		t.Fatalf("LoansCreatedByPeriod = %d, want 1", pool.LoansCreatedByPeriod)
	}

	if p.timekeeper.LastPeriodStart() != 86_400 {
		t.Fatalf("LastPeriodStart = %d, want 86400", p.timekeeper.LastPeriodStart())
	}
}

func TestProcessorSkipsUnavailableExecution(t *testing.T) {
	p, mem, _ := newTestProcessor(t)
	ctx := context.Background()

	events := []*model.EventRecord{
		poolCreatedRecord(t, 100, 1_000),
		record(t, model.EventEpochClosed, 102, 0, 3_000, model.EpochEventData{EpochIndex: 1}),
		// No protocol details registered for epoch 1.
		record(t, model.EventEpochExecuted, 103, 0, 4_000, model.EpochEventData{EpochIndex: 1}),
	}
	for _, ev := range events {
		if err := p.ProcessEvent(ctx, ev); err != nil {
			t.Fatalf("ProcessEvent %s: %v", ev.Name, err)
		}
	}

	var epoch model.Epoch
	if _, err := mem.Get(ctx, model.KindEpoch, model.EpochID(testPool, 1), &epoch); err != nil {
		t.Fatalf("get epoch: %v", err)
	}
	if epoch.IsExecuted() {
		t.Fatalf("epoch must stay unexecuted after a skipped execution")
	}
}

func TestProcessorSkipsReplayedEvent(t *testing.T) {
	p, mem, _ := newTestProcessor(t)
	ctx := context.Background()

	update := record(t, model.EventInvestOrderUpdated, 101, 0, 2_000, model.OrderUpdatedData{
		TrancheID: testTranche, AccountID: testAccount, OldAmount: "0", NewAmount: "1000000",
	})
	events := []*model.EventRecord{
		poolCreatedRecord(t, 100, 1_000),
		update,
		// The same event delivered again must not re-apply its delta.
		update,
	}
	for _, ev := range events {
		if err := p.ProcessEvent(ctx, ev); err != nil {
			t.Fatalf("ProcessEvent %s: %v", ev.Name, err)
		}
	}

	var state model.EpochState
	ok, err := mem.Get(ctx, model.KindEpochState, model.EpochStateID(testPool, 1, testTranche), &state)
	if err != nil || !ok {
		t.Fatalf("epoch state missing: ok=%v err=%v", ok, err)
	}
	if state.OutstandingInvestOrders.String() != "1000000" {
		t.Fatalf("OutstandingInvestOrders = %s, want 1000000", state.OutstandingInvestOrders)
	}

	// An out-of-order earlier event counts as applied too.
	if err := p.ProcessEvent(ctx, record(t, model.EventLoanCreated, 99, 0, 1_100, model.LoanEventData{LoanID: "7"})); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	var pool model.Pool
	if _, err := mem.Get(ctx, model.KindPool, testPool, &pool); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.LoansCreatedByPeriod != 0 {
		t.Fatalf("LoansCreatedByPeriod = %d, want 0", pool.LoansCreatedByPeriod)
	}
}

func TestProcessorReplaysFeedOnceAfterRestart(t *testing.T) {
	p, mem, source := newTestProcessor(t)
	ctx := context.Background()

	events := []*model.EventRecord{
		poolCreatedRecord(t, 100, 1_000),
		record(t, model.EventInvestOrderUpdated, 101, 0, 2_000, model.OrderUpdatedData{
			TrancheID: testTranche, AccountID: testAccount, OldAmount: "0", NewAmount: "1000000",
		}),
		record(t, model.EventLoanCreated, 102, 0, 3_000, model.LoanEventData{LoanID: "7"}),
	}
	for _, ev := range events {
		if err := p.ProcessEvent(ctx, ev); err != nil {
			t.Fatalf("ProcessEvent %s: %v", ev.Name, err)
		}
	}

	// A restarted processor replays the whole feed against the same store;
	// the persisted position keeps already-applied events from recounting.
	restarted := restartProcessor(t, mem, source)
	for _, ev := range events {
		if err := restarted.ProcessEvent(ctx, ev); err != nil {
			t.Fatalf("replay %s: %v", ev.Name, err)
		}
	}

	var state model.EpochState
	ok, err := mem.Get(ctx, model.KindEpochState, model.EpochStateID(testPool, 1, testTranche), &state)
	if err != nil || !ok {
		t.Fatalf("epoch state missing: ok=%v err=%v", ok, err)
	}
	if state.OutstandingInvestOrders.String() != "1000000" {
		t.Fatalf("OutstandingInvestOrders = %s, want 1000000", state.OutstandingInvestOrders)
	}
	var pool model.Pool
	if _, err := mem.Get(ctx, model.KindPool, testPool, &pool); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.LoansCreatedByPeriod != 1 {
		t.Fatalf("LoansCreatedByPeriod = %d, want 1", pool.LoansCreatedByPeriod)
	}

	// New events past the persisted position still apply.
	if err := restarted.ProcessEvent(ctx, record(t, model.EventLoanCreated, 103, 0, 4_000, model.LoanEventData{LoanID: "8"})); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if _, err := mem.Get(ctx, model.KindPool, testPool, &pool); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.LoansCreatedByPeriod != 2 {
		t.Fatalf("LoansCreatedByPeriod = %d, want 2", pool.LoansCreatedByPeriod)
	}
}

func TestFeedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	records := []*model.EventRecord{
		record(t, model.EventLoanCreated, 10, 0, 1_000, model.LoanEventData{LoanID: "1"}),
		record(t, model.EventLoanCreated, 11, 2, 1_100, model.LoanEventData{LoanID: "2"}),
	}
	var lines []byte
	for _, ev := range records {
		line, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		lines = append(lines, line...)
		lines = append(lines, '\n')
	}
	lines = append(lines, '\n')
	if err := os.WriteFile(path, lines, 0o644); err != nil {
		t.Fatalf("write feed: %v", err)
	}

	feed, err := OpenFeed(path)
	if err != nil {
		t.Fatalf("OpenFeed: %v", err)
	}
	defer feed.Close()

	for i, want := range records {
		got, ok, err := feed.Next()
		if err != nil || !ok {
			t.Fatalf("Next %d: ok=%v err=%v", i, ok, err)
		}
		if got.BlockNumber != want.BlockNumber || got.LogIndex != want.LogIndex || got.Name != want.Name {
			t.Fatalf("record %d = %+v, want %+v", i, got, want)
		}
	}
	if _, ok, err := feed.Next(); ok || err != nil {
		t.Fatalf("expected clean end of feed, ok=%v err=%v", ok, err)
	}
}
