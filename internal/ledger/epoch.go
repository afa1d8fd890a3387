package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"lendscope/internal/fixed"
	"lendscope/internal/model"
)

// HandleEpochClosed stamps the closing epoch and opens its successor. The
// successor's per-tranche states start from the closing epoch's outstanding
// order volumes; execution later replaces them with the unfulfilled
// remainder.
func (l *Ledger) HandleEpochClosed(ctx context.Context, ev *model.EventRecord) error {
	var data model.EpochEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode epochClosed: %w", err)
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	epoch, err := l.getEpoch(ctx, pool.ID, data.EpochIndex)
	if err != nil {
		return err
	}
	epoch.ClosedAt = ev.Timestamp
	if err := l.saveEpoch(ctx, epoch); err != nil {
		return err
	}
	pool.CloseEpoch(data.EpochIndex)
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}

	states, err := l.epochStates(ctx, epoch.ID)
	if err != nil {
		return err
	}
	seed := make(map[string]*model.EpochState, len(states))
	for _, state := range states {
		seed[state.TrancheID] = state
	}
	tranches, err := l.activeTranches(ctx, pool.ID)
	if err != nil {
		return err
	}

	l.logger.Info("epoch closed",
		zap.String("pool", pool.ID),
		zap.Int("epoch", data.EpochIndex),
		zap.Uint64("block", ev.BlockNumber))

	return l.openEpoch(ctx, pool, data.EpochIndex+1, ev.Timestamp, tranches, seed)
}

// openEpoch creates epoch index with one state per tranche. When seed holds
// a state for a tranche, the new state inherits its outstanding volumes.
func (l *Ledger) openEpoch(ctx context.Context, pool *model.Pool, index int, ts uint64, tranches []*model.Tranche, seed map[string]*model.EpochState) error {
	epoch := &model.Epoch{
		ID:       model.EpochID(pool.ID, index),
		PoolID:   pool.ID,
		Index:    index,
		OpenedAt: ts,

		TotalBorrowed: big.NewInt(0),
		TotalRepaid:   big.NewInt(0),
		TotalInvested: big.NewInt(0),
		TotalRedeemed: big.NewInt(0),
	}
	if err := l.saveEpoch(ctx, epoch); err != nil {
		return err
	}
	for _, tranche := range tranches {
		state := newEpochState(pool.ID, index, tranche.TrancheID)
		if prev, ok := seed[tranche.TrancheID]; ok {
			state.OutstandingInvestOrders = new(big.Int).Set(prev.OutstandingInvestOrders)
			state.OutstandingRedeemOrders = new(big.Int).Set(prev.OutstandingRedeemOrders)
			state.OutstandingRedeemOrdersCurrency = new(big.Int).Set(prev.OutstandingRedeemOrdersCurrency)
		}
		if err := l.saveEpochState(ctx, state); err != nil {
			return err
		}
	}
	return nil
}

func newEpochState(poolID string, index int, trancheID string) *model.EpochState {
	return &model.EpochState{
		ID:        model.EpochStateID(poolID, index, trancheID),
		EpochID:   model.EpochID(poolID, index),
		TrancheID: trancheID,

		OutstandingInvestOrders:         big.NewInt(0),
		OutstandingRedeemOrders:         big.NewInt(0),
		OutstandingRedeemOrdersCurrency: big.NewInt(0),
	}
}

// HandleEpochExecuted settles a closed epoch against the protocol's cleared
// prices and fulfillment rates. Re-executing an executed epoch is fatal:
// per-order settlement has side effects that must not be applied twice.
// Details the protocol has not published yet are recoverable; nothing is
// mutated in that case.
func (l *Ledger) HandleEpochExecuted(ctx context.Context, ev *model.EventRecord) error {
	var data model.EpochEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode epochExecuted: %w", err)
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	epoch, err := l.getEpoch(ctx, pool.ID, data.EpochIndex)
	if err != nil {
		return err
	}
	if epoch.IsExecuted() {
		return fmt.Errorf("%w: %s", ErrEpochAlreadyExecuted, epoch.ID)
	}
	digits, err := l.currencyDigits(ctx, pool.CurrencyID)
	if err != nil {
		return err
	}
	states, err := l.epochStates(ctx, epoch.ID)
	if err != nil {
		return err
	}

	// Fetch every tranche's details before mutating anything, so a
	// partially published execution leaves the epoch untouched.
	details := make(map[string]protocolDetails, len(states))
	for _, state := range states {
		d, ok, err := l.source.EpochDetails(ctx, pool.ID, state.TrancheID, data.EpochIndex)
		if err != nil {
			return fmt.Errorf("epoch details %s: %w", state.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrEpochDetailsUnavailable, state.ID)
		}
		details[state.TrancheID] = protocolDetails{
			price:      d.Price,
			investRate: d.InvestFulfillment,
			redeemRate: d.RedeemFulfillment,
		}
	}

	epoch.ExecutedAt = ev.Timestamp
	pool.ExecuteEpoch(data.EpochIndex)

	for _, state := range states {
		d := details[state.TrancheID]
		if err := l.settleTranche(ctx, pool, epoch, state, d, digits, ev); err != nil {
			return err
		}
	}
	if err := l.saveEpoch(ctx, epoch); err != nil {
		return err
	}
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}

	l.logger.Info("epoch executed",
		zap.String("pool", pool.ID),
		zap.Int("epoch", data.EpochIndex),
		zap.String("invested", epoch.TotalInvested.String()),
		zap.String("redeemed", epoch.TotalRedeemed.String()),
		zap.Uint64("block", ev.BlockNumber))
	return nil
}

type protocolDetails struct {
	price      *big.Int
	investRate *big.Int
	redeemRate *big.Int
}

// settleTranche applies one tranche's cleared execution: fulfilled volumes
// on the epoch state, carry-forward into the successor state, aggregates on
// epoch, pool and tranche, and per-order settlement.
func (l *Ledger) settleTranche(ctx context.Context, pool *model.Pool, epoch *model.Epoch, state *model.EpochState, d protocolDetails, digits int, ev *model.EventRecord) error {
	fulfilledInvest := fixed.ApplyRatio(state.OutstandingInvestOrders, d.investRate, fixed.RayDigits)
	fulfilledRedeem := fixed.ApplyRatio(state.OutstandingRedeemOrders, d.redeemRate, fixed.RayDigits)
	fulfilledRedeemCurrency := fixed.CurrencyAmount(fulfilledRedeem, d.price, digits)

	state.Price = d.price
	state.InvestFulfillmentRate = d.investRate
	state.RedeemFulfillmentRate = d.redeemRate
	state.FulfilledInvestOrders = fulfilledInvest
	state.FulfilledRedeemOrders = fulfilledRedeem
	state.FulfilledRedeemOrdersCurrency = fulfilledRedeemCurrency
	if err := l.saveEpochState(ctx, state); err != nil {
		return err
	}

	epoch.TotalInvested = new(big.Int).Add(epoch.TotalInvested, fulfilledInvest)
	epoch.TotalRedeemed = new(big.Int).Add(epoch.TotalRedeemed, fulfilledRedeemCurrency)
	pool.IncreaseInvestments(fulfilledInvest)
	pool.IncreaseRedemptions(fulfilledRedeemCurrency)

	tranche, err := l.getTranche(ctx, pool.ID, state.TrancheID)
	if err != nil {
		return err
	}
	l.updateTranchePrice(tranche, d.price)
	supply, ok, err := l.source.TrancheSupply(ctx, pool.ID, state.TrancheID)
	if err != nil {
		return fmt.Errorf("tranche supply %s: %w", tranche.ID, err)
	}
	if ok {
		tranche.TokenSupply = supply
	}
	tranche.FulfilledInvestOrdersByPeriod = new(big.Int).Add(tranche.FulfilledInvestOrdersByPeriod, fulfilledInvest)
	tranche.FulfilledRedeemOrdersByPeriod = new(big.Int).Add(tranche.FulfilledRedeemOrdersByPeriod, fulfilledRedeem)
	tranche.FulfilledRedeemOrdersCurrencyByPeriod = new(big.Int).Add(tranche.FulfilledRedeemOrdersCurrencyByPeriod, fulfilledRedeemCurrency)
	if err := l.saveTranche(ctx, tranche); err != nil {
		return err
	}

	// Carry-forward: the successor epoch was seeded with this epoch's full
	// outstanding volumes at close time; replace them with the
	// unfulfilled remainder.
	next, err := l.getEpochState(ctx, pool.ID, epoch.Index+1, state.TrancheID)
	if err != nil {
		return err
	}
	next.OutstandingInvestOrders = new(big.Int).Sub(state.OutstandingInvestOrders, fulfilledInvest)
	next.OutstandingRedeemOrders = new(big.Int).Sub(state.OutstandingRedeemOrders, fulfilledRedeem)
	next.OutstandingRedeemOrdersCurrency = fixed.CurrencyAmount(next.OutstandingRedeemOrders, d.price, digits)
	if err := l.saveEpochState(ctx, next); err != nil {
		return err
	}

	return l.settleOrders(ctx, pool, tranche, epoch.Index, d, digits, ev)
}
