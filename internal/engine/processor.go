// Package engine drives the ledger from the ordered protocol event feed and
// runs the period boundary cycle.
package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lendscope/internal/ledger"
	"lendscope/internal/model"
	"lendscope/internal/period"
	"lendscope/internal/snapshot"
	"lendscope/internal/store"
)

// feedPosition is the persisted (block, log index) of the last applied
// event. Both fields travel in one document so a crash can never persist a
// half-advanced position.
type feedPosition struct {
	Block    uint64 `json:"block"`
	LogIndex uint64 `json:"log_index"`
}

const feedPositionID = "processor"

// Processor applies protocol events to the ledger in order. Events must
// arrive sorted by block number and, within a block, by log index. The
// position of the last applied event is persisted, and anything at or
// before it is skipped, so replaying the feed after a restart does not
// apply an event's deltas twice.
type Processor struct {
	store      store.Store
	ledger     *ledger.Ledger
	snapshots  *snapshot.Service
	timekeeper *period.Timekeeper
	logger     *zap.Logger

	position    feedPosition
	hasPosition bool
}

// NewProcessor recovers the persisted feed position, if any.
func NewProcessor(ctx context.Context, entityStore store.Store, ldg *ledger.Ledger, snapshots *snapshot.Service, timekeeper *period.Timekeeper, logger *zap.Logger) (*Processor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		store:      entityStore,
		ledger:     ldg,
		snapshots:  snapshots,
		timekeeper: timekeeper,
		logger:     logger,
	}
	ok, err := entityStore.Get(ctx, model.KindFeedPosition, feedPositionID, &p.position)
	if err != nil {
		return nil, fmt.Errorf("load feed position: %w", err)
	}
	if ok {
		p.hasPosition = true
		logger.Info("resume after applied event",
			zap.Uint64("block", p.position.Block),
			zap.Uint64("log_index", p.position.LogIndex))
	}
	return p, nil
}

// Run consumes the feed until it is exhausted or an event fails.
func (p *Processor) Run(ctx context.Context, feed *Feed) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		ev, ok, err := feed.Next()
		if err != nil {
			return fmt.Errorf("read feed: %w", err)
		}
		if !ok {
			return nil
		}
		if err := p.ProcessEvent(ctx, ev); err != nil {
			return err
		}
	}
}

// ProcessEvent closes the current period if the event crosses a boundary,
// then applies the event and persists its position. Events at or before the
// persisted position were already applied and are skipped. Errors the
// ledger marks recoverable are logged and skipped; everything else aborts
// processing with the event's context attached.
func (p *Processor) ProcessEvent(ctx context.Context, ev *model.EventRecord) error {
	if p.alreadyApplied(ev) {
		p.logger.Debug("event already applied, skipping",
			zap.String("event", ev.Name),
			zap.Uint64("block", ev.BlockNumber),
			zap.Uint64("log_index", ev.LogIndex))
		return nil
	}

	if p.timekeeper.IsNewPeriod(ev.Timestamp) {
		if err := p.periodCycle(ctx, ev); err != nil {
			return fmt.Errorf("period cycle at block %d: %w", ev.BlockNumber, err)
		}
	}

	if err := p.dispatch(ctx, ev); err != nil {
		if errors.Is(err, ledger.ErrEpochDetailsUnavailable) {
			p.logger.Warn("skipping event, protocol data unavailable",
				zap.String("event", ev.Name),
				zap.String("pool", ev.PoolID),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err))
		} else {
			return fmt.Errorf("%s for pool %s at block %d: %w", ev.Name, ev.PoolID, ev.BlockNumber, err)
		}
	}

	p.position = feedPosition{Block: ev.BlockNumber, LogIndex: ev.LogIndex}
	p.hasPosition = true
	if err := p.store.Set(ctx, model.KindFeedPosition, feedPositionID, p.position); err != nil {
		return fmt.Errorf("save feed position: %w", err)
	}
	return nil
}

// alreadyApplied reports whether the event is at or before the persisted
// feed position. Log indexes are unique within a block, so an equal
// position can only be a replay of the same event.
func (p *Processor) alreadyApplied(ev *model.EventRecord) bool {
	if !p.hasPosition {
		return false
	}
	if ev.BlockNumber != p.position.Block {
		return ev.BlockNumber < p.position.Block
	}
	return ev.LogIndex <= p.position.LogIndex
}

func (p *Processor) dispatch(ctx context.Context, ev *model.EventRecord) error {
	switch ev.Name {
	case model.EventPoolCreated:
		return p.ledger.HandlePoolCreated(ctx, ev)
	case model.EventPoolUpdated:
		return p.ledger.HandlePoolUpdated(ctx, ev)
	case model.EventEpochClosed:
		return p.ledger.HandleEpochClosed(ctx, ev)
	case model.EventEpochExecuted:
		return p.ledger.HandleEpochExecuted(ctx, ev)
	case model.EventInvestOrderUpdated:
		return p.ledger.HandleInvestOrderUpdated(ctx, ev)
	case model.EventRedeemOrderUpdated:
		return p.ledger.HandleRedeemOrderUpdated(ctx, ev)
	case model.EventOrdersCollected:
		return p.ledger.HandleOrdersCollected(ctx, ev)
	case model.EventLoanCreated:
		return p.ledger.HandleLoanCreated(ctx, ev)
	case model.EventLoanBorrowed:
		return p.ledger.HandleLoanBorrowed(ctx, ev)
	case model.EventLoanRepaid:
		return p.ledger.HandleLoanRepaid(ctx, ev)
	case model.EventLoanWrittenOff:
		return p.ledger.HandleLoanWrittenOff(ctx, ev)
	case model.EventTokenTransfer:
		return p.ledger.HandleTokenTransfer(ctx, ev)
	default:
		p.logger.Warn("unknown event", zap.String("event", ev.Name))
		return nil
	}
}

// periodCycle finalizes the period that just ended: refresh every active
// pool from the protocol, recompute tranche yields, snapshot and reset the
// period-scoped entities, then advance the timekeeper. The timekeeper is
// advanced last, so a crash mid-cycle replays the whole boundary.
func (p *Processor) periodCycle(ctx context.Context, ev *model.EventRecord) error {
	periodStart := p.timekeeper.Clock().PeriodStart(ev.Timestamp)
	p.logger.Info("period boundary",
		zap.Uint64("period_start", periodStart),
		zap.Uint64("block", ev.BlockNumber))

	var pools []*model.Pool
	err := store.QueryAll(ctx, p.store, model.KindPool, "is_active", "true", func(pool *model.Pool) error {
		pools = append(pools, pool)
		return nil
	})
	if err != nil {
		return err
	}
	for _, pool := range pools {
		if err := p.ledger.RefreshPoolState(ctx, pool.ID); err != nil {
			return fmt.Errorf("refresh pool %s: %w", pool.ID, err)
		}
	}

	var tranches []*model.Tranche
	err = store.QueryAll(ctx, p.store, model.KindTranche, "is_active", "true", func(t *model.Tranche) error {
		tranches = append(tranches, t)
		return nil
	})
	if err != nil {
		return err
	}
	for _, tranche := range tranches {
		p.ledger.ComputeTrancheYields(ctx, tranche, periodStart)
		if err := p.store.Set(ctx, model.KindTranche, tranche.ID, tranche); err != nil {
			return err
		}
	}

	meta := model.SnapshotMeta{
		Timestamp:   ev.Timestamp,
		BlockNumber: ev.BlockNumber,
		PeriodStart: periodStart,
	}
	if err := p.snapshots.Run(ctx, meta); err != nil {
		return err
	}
	return p.timekeeper.Advance(ctx, ev.Timestamp)
}
