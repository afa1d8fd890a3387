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

// HandleInvestOrderUpdated applies an investor's replacement of their
// pending invest volume. The new amount replaces the old one; the order's
// redeem leg is untouched.
func (l *Ledger) HandleInvestOrderUpdated(ctx context.Context, ev *model.EventRecord) error {
	data, oldAmount, newAmount, err := decodeOrderUpdate(ev)
	if err != nil {
		return err
	}
	pool, tranche, state, err := l.orderContext(ctx, ev, data.TrancheID)
	if err != nil {
		return err
	}

	delta := new(big.Int).Sub(newAmount, oldAmount)
	state.OutstandingInvestOrders = new(big.Int).Add(state.OutstandingInvestOrders, delta)
	if err := l.saveEpochState(ctx, state); err != nil {
		return err
	}
	tranche.OutstandingInvestOrdersByPeriod = new(big.Int).Add(tranche.OutstandingInvestOrdersByPeriod, delta)
	if err := l.saveTranche(ctx, tranche); err != nil {
		return err
	}

	order, err := l.getOrInitOrder(ctx, pool.ID, data.TrancheID, data.AccountID)
	if err != nil {
		return err
	}
	order.Invest = newAmount
	if err := l.stampAndStoreOrder(ctx, order, pool.CurrentEpoch, ev); err != nil {
		return err
	}

	kind := model.TxUpdateInvest
	if newAmount.Sign() == 0 {
		kind = model.TxCancelInvest
	}
	tx := l.newOrderTx(kind, order, pool.CurrentEpoch, tranche.TokenPrice, ev)
	tx.CurrencyAmount = newAmount
	if err := l.saveInvestorTransaction(ctx, tx); err != nil {
		return err
	}

	balance, err := l.getOrInitTrancheBalance(ctx, data.AccountID, pool.ID, data.TrancheID)
	if err != nil {
		return err
	}
	balance.InvestOrder(newAmount)
	return l.saveTrancheBalance(ctx, balance)
}

// HandleRedeemOrderUpdated applies an investor's replacement of their
// pending redeem volume, denominated in tranche tokens. The state's currency
// view of redeem orders is revalued at the tranche's current price.
func (l *Ledger) HandleRedeemOrderUpdated(ctx context.Context, ev *model.EventRecord) error {
	data, oldAmount, newAmount, err := decodeOrderUpdate(ev)
	if err != nil {
		return err
	}
	pool, tranche, state, err := l.orderContext(ctx, ev, data.TrancheID)
	if err != nil {
		return err
	}
	digits, err := l.currencyDigits(ctx, pool.CurrencyID)
	if err != nil {
		return err
	}

	delta := new(big.Int).Sub(newAmount, oldAmount)
	deltaCurrency := fixed.CurrencyAmount(delta, tranche.TokenPrice, digits)
	state.OutstandingRedeemOrders = new(big.Int).Add(state.OutstandingRedeemOrders, delta)
	state.OutstandingRedeemOrdersCurrency = new(big.Int).Add(state.OutstandingRedeemOrdersCurrency, deltaCurrency)
	if err := l.saveEpochState(ctx, state); err != nil {
		return err
	}
	tranche.OutstandingRedeemOrdersByPeriod = new(big.Int).Add(tranche.OutstandingRedeemOrdersByPeriod, delta)
	tranche.OutstandingRedeemOrdersCurrencyByPeriod = new(big.Int).Add(tranche.OutstandingRedeemOrdersCurrencyByPeriod, deltaCurrency)
	if err := l.saveTranche(ctx, tranche); err != nil {
		return err
	}

	order, err := l.getOrInitOrder(ctx, pool.ID, data.TrancheID, data.AccountID)
	if err != nil {
		return err
	}
	order.Redeem = newAmount
	if err := l.stampAndStoreOrder(ctx, order, pool.CurrentEpoch, ev); err != nil {
		return err
	}

	kind := model.TxUpdateRedeem
	if newAmount.Sign() == 0 {
		kind = model.TxCancelRedeem
	}
	tx := l.newOrderTx(kind, order, pool.CurrentEpoch, tranche.TokenPrice, ev)
	tx.TokenAmount = newAmount
	tx.CurrencyAmount = fixed.CurrencyAmount(newAmount, tranche.TokenPrice, digits)
	if err := l.saveInvestorTransaction(ctx, tx); err != nil {
		return err
	}

	balance, err := l.getOrInitTrancheBalance(ctx, data.AccountID, pool.ID, data.TrancheID)
	if err != nil {
		return err
	}
	balance.RedeemOrder(newAmount)
	return l.saveTrancheBalance(ctx, balance)
}

// HandleOrdersCollected settles an investor's claim of executed payouts.
func (l *Ledger) HandleOrdersCollected(ctx context.Context, ev *model.EventRecord) error {
	var data model.OrdersCollectedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode ordersCollected: %w", err)
	}
	tokenAmount, err := model.ParseAmount(data.PayoutTokenAmount)
	if err != nil {
		return fmt.Errorf("ordersCollected token payout: %w", err)
	}
	currencyAmount, err := model.ParseAmount(data.PayoutCurrencyAmount)
	if err != nil {
		return fmt.Errorf("ordersCollected currency payout: %w", err)
	}
	if tokenAmount.Sign() == 0 && currencyAmount.Sign() == 0 {
		return nil
	}
	tranche, err := l.getTranche(ctx, ev.PoolID, data.TrancheID)
	if err != nil {
		return err
	}
	balance, err := l.getOrInitTrancheBalance(ctx, data.AccountID, ev.PoolID, data.TrancheID)
	if err != nil {
		return err
	}

	base := fmt.Sprintf("%s-%d", ev.TxHash, ev.LogIndex)
	if tokenAmount.Sign() > 0 {
		balance.InvestCollect(tokenAmount)
		tx := &model.InvestorTransaction{
			ID:          model.InvestorTransactionID(base, model.TxCollectInvest),
			Kind:        model.TxCollectInvest,
			PoolID:      ev.PoolID,
			TrancheID:   data.TrancheID,
			AccountID:   data.AccountID,
			EpochNumber: data.EndEpoch,
			TxHash:      ev.TxHash,
			Timestamp:   ev.Timestamp,
			Price:       tranche.TokenPrice,
			TokenAmount: tokenAmount,
		}
		if err := l.saveInvestorTransaction(ctx, tx); err != nil {
			return err
		}
	}
	if currencyAmount.Sign() > 0 {
		balance.RedeemCollect(currencyAmount)
		tx := &model.InvestorTransaction{
			ID:             model.InvestorTransactionID(base, model.TxCollectRedeem),
			Kind:           model.TxCollectRedeem,
			PoolID:         ev.PoolID,
			TrancheID:      data.TrancheID,
			AccountID:      data.AccountID,
			EpochNumber:    data.EndEpoch,
			TxHash:         ev.TxHash,
			Timestamp:      ev.Timestamp,
			Price:          tranche.TokenPrice,
			CurrencyAmount: currencyAmount,
		}
		if err := l.saveInvestorTransaction(ctx, tx); err != nil {
			return err
		}
	}
	return l.saveTrancheBalance(ctx, balance)
}

func decodeOrderUpdate(ev *model.EventRecord) (model.OrderUpdatedData, *big.Int, *big.Int, error) {
	var data model.OrderUpdatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return data, nil, nil, fmt.Errorf("decode %s: %w", ev.Name, err)
	}
	oldAmount, err := model.ParseAmount(data.OldAmount)
	if err != nil {
		return data, nil, nil, fmt.Errorf("%s old amount: %w", ev.Name, err)
	}
	newAmount, err := model.ParseAmount(data.NewAmount)
	if err != nil {
		return data, nil, nil, fmt.Errorf("%s new amount: %w", ev.Name, err)
	}
	return data, oldAmount, newAmount, nil
}

// orderContext loads the pool, the tranche with a freshly pulled token
// price, and the open epoch's state for the tranche. A missing state means
// the event stream and the epoch lifecycle disagree, which is an error.
func (l *Ledger) orderContext(ctx context.Context, ev *model.EventRecord, trancheID string) (*model.Pool, *model.Tranche, *model.EpochState, error) {
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return nil, nil, nil, err
	}
	tranche, err := l.getTranche(ctx, pool.ID, trancheID)
	if err != nil {
		return nil, nil, nil, err
	}
	price, ok, err := l.source.TranchePrice(ctx, pool.ID, trancheID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tranche price %s: %w", tranche.ID, err)
	}
	if ok {
		l.updateTranchePrice(tranche, price)
	}
	state, err := l.getEpochState(ctx, pool.ID, pool.CurrentEpoch, trancheID)
	if err != nil {
		return nil, nil, nil, err
	}
	return pool, tranche, state, nil
}

// getOrInitOrder loads the account's order for a tranche, creating a zeroed
// one if none exists. Updates to one leg must not clobber the other.
func (l *Ledger) getOrInitOrder(ctx context.Context, poolID, trancheID, accountID string) (*model.OutstandingOrder, error) {
	var order model.OutstandingOrder
	id := model.OrderID(poolID, trancheID, accountID)
	ok, err := l.store.Get(ctx, model.KindOutstandingOrder, id, &order)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &model.OutstandingOrder{
			ID:        id,
			PoolID:    poolID,
			TrancheID: trancheID,
			AccountID: accountID,
			Invest:    big.NewInt(0),
			Redeem:    big.NewInt(0),
		}, nil
	}
	return &order, nil
}

// stampAndStoreOrder records the update provenance and persists the order,
// removing it when both legs are zero.
func (l *Ledger) stampAndStoreOrder(ctx context.Context, order *model.OutstandingOrder, epochNumber int, ev *model.EventRecord) error {
	order.EpochNumber = epochNumber
	order.Timestamp = ev.Timestamp
	order.TxHash = ev.TxHash
	if order.IsResolved() {
		l.logger.Debug("order cancelled", zap.String("order", order.ID))
		return l.store.Delete(ctx, model.KindOutstandingOrder, order.ID)
	}
	return l.store.Set(ctx, model.KindOutstandingOrder, order.ID, order)
}

func (l *Ledger) newOrderTx(kind string, order *model.OutstandingOrder, epochNumber int, price *big.Int, ev *model.EventRecord) *model.InvestorTransaction {
	// A transaction may carry order updates for several accounts; the log
	// index keeps their records distinct.
	base := fmt.Sprintf("%s-%d", ev.TxHash, ev.LogIndex)
	return &model.InvestorTransaction{
		ID:          model.InvestorTransactionID(base, kind),
		Kind:        kind,
		PoolID:      order.PoolID,
		TrancheID:   order.TrancheID,
		AccountID:   order.AccountID,
		EpochNumber: epochNumber,
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
		Price:       price,
	}
}
