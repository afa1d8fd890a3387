package ledger

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"lendscope/internal/model"
	"lendscope/internal/protocol"
	"lendscope/internal/store"
)

var (
	// ErrEpochAlreadyExecuted signals a fatal attempt to re-execute an
	// epoch after per-order settlement has been applied.
	ErrEpochAlreadyExecuted = errors.New("epoch already executed")
	// ErrEpochDetailsUnavailable signals that the protocol has not
	// published execution details yet; callers skip and retry later.
	ErrEpochDetailsUnavailable = errors.New("epoch details not available")
	// ErrMissingEpochState signals a tranche without its expected state
	// row in an epoch.
	ErrMissingEpochState = errors.New("missing epoch state")
)

// Ledger derives accounting state from protocol events. All mutation goes
// through the entity store; protocol reads go through the source.
type Ledger struct {
	store  store.Store
	source protocol.Source
	logger *zap.Logger
}

func New(entityStore store.Store, source protocol.Source, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: entityStore, source: source, logger: logger}
}

func (l *Ledger) getPool(ctx context.Context, poolID string) (*model.Pool, error) {
	var pool model.Pool
	ok, err := l.store.Get(ctx, model.KindPool, poolID, &pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("pool %s not found", poolID)
	}
	return &pool, nil
}

func (l *Ledger) savePool(ctx context.Context, pool *model.Pool) error {
	return l.store.Set(ctx, model.KindPool, pool.ID, pool)
}

func (l *Ledger) getTranche(ctx context.Context, poolID, trancheID string) (*model.Tranche, error) {
	var tranche model.Tranche
	id := model.TrancheEntityID(poolID, trancheID)
	ok, err := l.store.Get(ctx, model.KindTranche, id, &tranche)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tranche %s not found", id)
	}
	return &tranche, nil
}

func (l *Ledger) saveTranche(ctx context.Context, tranche *model.Tranche) error {
	return l.store.Set(ctx, model.KindTranche, tranche.ID, tranche)
}

// tranchesByPool returns every tranche of a pool, active or not.
func (l *Ledger) tranchesByPool(ctx context.Context, poolID string) ([]*model.Tranche, error) {
	var tranches []*model.Tranche
	err := store.QueryAll(ctx, l.store, model.KindTranche, "pool_id", poolID, func(t *model.Tranche) error {
		tranches = append(tranches, t)
		return nil
	})
	return tranches, err
}

// activeTranches returns the tranches currently present in the pool's
// tranche set.
func (l *Ledger) activeTranches(ctx context.Context, poolID string) ([]*model.Tranche, error) {
	all, err := l.tranchesByPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, t := range all {
		if t.IsActive {
			active = append(active, t)
		}
	}
	return active, nil
}

func (l *Ledger) getEpoch(ctx context.Context, poolID string, index int) (*model.Epoch, error) {
	var epoch model.Epoch
	ok, err := l.store.Get(ctx, model.KindEpoch, model.EpochID(poolID, index), &epoch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("epoch %s not found", model.EpochID(poolID, index))
	}
	return &epoch, nil
}

func (l *Ledger) saveEpoch(ctx context.Context, epoch *model.Epoch) error {
	return l.store.Set(ctx, model.KindEpoch, epoch.ID, epoch)
}

func (l *Ledger) getEpochState(ctx context.Context, poolID string, index int, trancheID string) (*model.EpochState, error) {
	var state model.EpochState
	id := model.EpochStateID(poolID, index, trancheID)
	ok, err := l.store.Get(ctx, model.KindEpochState, id, &state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingEpochState, id)
	}
	return &state, nil
}

func (l *Ledger) saveEpochState(ctx context.Context, state *model.EpochState) error {
	return l.store.Set(ctx, model.KindEpochState, state.ID, state)
}

// epochStates returns the per-tranche states owned by an epoch.
func (l *Ledger) epochStates(ctx context.Context, epochID string) ([]*model.EpochState, error) {
	var states []*model.EpochState
	err := store.QueryAll(ctx, l.store, model.KindEpochState, "epoch_id", epochID, func(s *model.EpochState) error {
		states = append(states, s)
		return nil
	})
	return states, err
}

func (l *Ledger) currencyDigits(ctx context.Context, currencyID string) (int, error) {
	var currency model.Currency
	ok, err := l.store.Get(ctx, model.KindCurrency, currencyID, &currency)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("currency %s not found", currencyID)
	}
	return currency.Digits, nil
}

func (l *Ledger) saveInvestorTransaction(ctx context.Context, tx *model.InvestorTransaction) error {
	return l.store.Set(ctx, model.KindInvestorTransaction, tx.ID, tx)
}

func (l *Ledger) getOrInitTrancheBalance(ctx context.Context, accountID, poolID, trancheID string) (*model.TrancheBalance, error) {
	var balance model.TrancheBalance
	id := model.TrancheBalanceID(accountID, poolID, trancheID)
	ok, err := l.store.Get(ctx, model.KindTrancheBalance, id, &balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return model.NewTrancheBalance(accountID, poolID, trancheID), nil
	}
	return &balance, nil
}

func (l *Ledger) saveTrancheBalance(ctx context.Context, balance *model.TrancheBalance) error {
	return l.store.Set(ctx, model.KindTrancheBalance, balance.ID, balance)
}
