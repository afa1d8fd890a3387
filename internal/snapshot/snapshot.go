// Package snapshot copies period-scoped entities into immutable snapshot
// records at period boundaries and resets their per-period accumulators.
package snapshot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"lendscope/internal/model"
	"lendscope/internal/store"
)

// Resettable is an entity that carries per-period accumulators. The entity
// owns the list of fields that reset; the service never inspects them.
type Resettable interface {
	EntityID() string
	ResetPeriodValues()
}

// Snapshotter snapshots one entity collection for a period.
type Snapshotter interface {
	Name() string
	Snapshot(ctx context.Context, meta model.SnapshotMeta) error
}

// Collection wires one entity kind to its snapshot kind. List enumerates
// the live entities to snapshot; Build produces the snapshot document and
// its key for one of them.
type Collection[E Resettable] struct {
	Store        store.Store
	Kind         string
	SnapshotKind string
	List         func(ctx context.Context) ([]E, error)
	Build        func(entity E, meta model.SnapshotMeta) (string, any)
}

func (c *Collection[E]) Name() string { return c.Kind }

// Snapshot writes a snapshot for every listed entity in one batch, then
// resets and saves the entities in another. Snapshot keys embed the block
// number, so a retried period overwrites the same records instead of
// duplicating them. An error leaves already written snapshots in place for
// the retry to overwrite; no entity is reset until every snapshot of the
// collection has been written.
func (c *Collection[E]) Snapshot(ctx context.Context, meta model.SnapshotMeta) error {
	if c.List == nil || c.Build == nil {
		return fmt.Errorf("snapshot collection %s is not fully configured", c.Kind)
	}
	entities, err := c.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s: %w", c.Kind, err)
	}
	snapshots := make(map[string]any, len(entities))
	for _, entity := range entities {
		id, doc := c.Build(entity, meta)
		snapshots[id] = doc
	}
	if err := c.Store.SetBatch(ctx, c.SnapshotKind, snapshots); err != nil {
		return fmt.Errorf("write %s: %w", c.SnapshotKind, err)
	}

	reset := make(map[string]any, len(entities))
	for _, entity := range entities {
		entity.ResetPeriodValues()
		reset[entity.EntityID()] = entity
	}
	if err := c.Store.SetBatch(ctx, c.Kind, reset); err != nil {
		return fmt.Errorf("reset %s: %w", c.Kind, err)
	}
	return nil
}

// Service runs every registered collection for a period boundary.
type Service struct {
	collections []Snapshotter
	logger      *zap.Logger
}

func NewService(logger *zap.Logger, collections ...Snapshotter) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{collections: collections, logger: logger}
}

// Run snapshots all collections. It fails on the first collection error so
// the caller can retry the whole boundary; completed collections are
// idempotent under retry.
func (s *Service) Run(ctx context.Context, meta model.SnapshotMeta) error {
	for _, c := range s.collections {
		if err := c.Snapshot(ctx, meta); err != nil {
			return fmt.Errorf("snapshot %s: %w", c.Name(), err)
		}
		s.logger.Debug("collection snapshotted",
			zap.String("collection", c.Name()),
			zap.Uint64("period_start", meta.PeriodStart),
			zap.Uint64("block", meta.BlockNumber))
	}
	return nil
}

// Pools builds the pool snapshot collection.
func Pools(s store.Store) *Collection[*model.Pool] {
	return &Collection[*model.Pool]{
		Store:        s,
		Kind:         model.KindPool,
		SnapshotKind: model.KindPoolSnapshot,
		List: func(ctx context.Context) ([]*model.Pool, error) {
			var pools []*model.Pool
			err := store.QueryAll(ctx, s, model.KindPool, "is_active", "true", func(p *model.Pool) error {
				pools = append(pools, p)
				return nil
			})
			return pools, err
		},
		Build: func(pool *model.Pool, meta model.SnapshotMeta) (string, any) {
			snap := &model.PoolSnapshot{Pool: *pool, SnapshotMeta: meta}
			return snap.SnapshotKey(), snap
		},
	}
}

// Tranches builds the tranche snapshot collection.
func Tranches(s store.Store) *Collection[*model.Tranche] {
	return &Collection[*model.Tranche]{
		Store:        s,
		Kind:         model.KindTranche,
		SnapshotKind: model.KindTrancheSnapshot,
		List: func(ctx context.Context) ([]*model.Tranche, error) {
			var tranches []*model.Tranche
			err := store.QueryAll(ctx, s, model.KindTranche, "is_active", "true", func(t *model.Tranche) error {
				tranches = append(tranches, t)
				return nil
			})
			return tranches, err
		},
		Build: func(tranche *model.Tranche, meta model.SnapshotMeta) (string, any) {
			snap := &model.TrancheSnapshot{Tranche: *tranche, SnapshotMeta: meta}
			return snap.SnapshotKey(), snap
		},
	}
}
