package snapshot

import (
	"context"
	"math/big"
	"testing"

	"lendscope/internal/model"
	"lendscope/internal/store"
)

func seedPool(t *testing.T, mem *store.Memory, id string) *model.Pool {
	t.Helper()
	pool := model.NewPool(id, "0xCc00", big.NewInt(0), 1_000, 10)
	pool.IncreaseBorrowings(big.NewInt(500))
	pool.IncreaseLoansCreated()
	if err := mem.Set(context.Background(), model.KindPool, pool.ID, pool); err != nil {
		t.Fatalf("seed pool: %v", err)
	}
	return pool
}

func TestPoolCollectionSnapshotAndReset(t *testing.T) {
	mem := store.NewMemory()
	seedPool(t, mem, "1")
	seedPool(t, mem, "2")

	meta := model.SnapshotMeta{Timestamp: 90_000, BlockNumber: 777, PeriodStart: 86_400}
	service := NewService(nil, Pools(mem))
	if err := service.Run(context.Background(), meta); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := mem.Count(model.KindPoolSnapshot); got != 2 {
		t.Fatalf("snapshot count = %d, want 2", got)
	}

	// Snapshot keys embed the block number.
	var snap model.PoolSnapshot
	ok, err := mem.Get(context.Background(), model.KindPoolSnapshot, model.SnapshotID("1", 777), &snap)
	if err != nil || !ok {
		t.Fatalf("snapshot missing: ok=%v err=%v", ok, err)
	}
	if snap.PeriodStart != 86_400 {
		t.Fatalf("PeriodStart = %d, want 86400", snap.PeriodStart)
	}
	// The snapshot keeps the pre-reset accumulator values.
	if snap.BorrowedAmountByPeriod.String() != "500" {
		t.Fatalf("snapshot BorrowedAmountByPeriod = %s, want 500", snap.BorrowedAmountByPeriod)
	}

	// The live pool was reset; lifetime totals survive.
	var pool model.Pool
	if _, err := mem.Get(context.Background(), model.KindPool, "1", &pool); err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if pool.BorrowedAmountByPeriod.Sign() != 0 || pool.LoansCreatedByPeriod != 0 {
		t.Fatalf("period accumulators not reset: %s / %d", pool.BorrowedAmountByPeriod, pool.LoansCreatedByPeriod)
	}
	if pool.SumBorrowedAmount.String() != "500" || pool.SumLoansCreated != 1 {
		t.Fatalf("lifetime totals must survive reset")
	}
}

func TestSnapshotOverwritesOnRetry(t *testing.T) {
	mem := store.NewMemory()
	seedPool(t, mem, "1")

	meta := model.SnapshotMeta{Timestamp: 90_000, BlockNumber: 777, PeriodStart: 86_400}
	service := NewService(nil, Pools(mem))
	if err := service.Run(context.Background(), meta); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := service.Run(context.Background(), meta); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := mem.Count(model.KindPoolSnapshot); got != 1 {
		t.Fatalf("snapshot count = %d, want 1 after retry", got)
	}
}

func TestCollectionRejectsMissingConfig(t *testing.T) {
	mem := store.NewMemory()
	c := &Collection[*model.Pool]{Store: mem, Kind: model.KindPool, SnapshotKind: model.KindPoolSnapshot}
	meta := model.SnapshotMeta{BlockNumber: 1}
	if err := c.Snapshot(context.Background(), meta); err == nil {
		t.Fatalf("expected configuration error")
	}
}

func TestTrancheCollectionSkipsInactive(t *testing.T) {
	mem := store.NewMemory()
	active := &model.Tranche{ID: "1-a", PoolID: "1", TrancheID: "a", IsActive: true,
		TokenPrice: big.NewInt(1), TokenSupply: big.NewInt(0), Debt: big.NewInt(0)}
	active.ResetPeriodValues()
	inactive := &model.Tranche{ID: "1-b", PoolID: "1", TrancheID: "b", IsActive: false,
		TokenPrice: big.NewInt(1), TokenSupply: big.NewInt(0), Debt: big.NewInt(0)}
	inactive.ResetPeriodValues()
	for _, tr := range []*model.Tranche{active, inactive} {
		if err := mem.Set(context.Background(), model.KindTranche, tr.ID, tr); err != nil {
			t.Fatalf("seed tranche: %v", err)
		}
	}

	service := NewService(nil, Tranches(mem))
	meta := model.SnapshotMeta{Timestamp: 90_000, BlockNumber: 5, PeriodStart: 86_400}
	if err := service.Run(context.Background(), meta); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := mem.Count(model.KindTrancheSnapshot); got != 1 {
		t.Fatalf("snapshot count = %d, want 1", got)
	}
}
