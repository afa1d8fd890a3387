package ledger

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"lendscope/internal/fixed"
	"lendscope/internal/model"
	"lendscope/internal/store"
)

// settleOrders applies an executed epoch's fulfillment rates to every
// outstanding order of one tranche. Each order is settled at the same rate
// the tranche cleared at, so the per-order fulfilled volumes never exceed
// the tranche totals. Orders with both legs depleted are removed.
func (l *Ledger) settleOrders(ctx context.Context, pool *model.Pool, tranche *model.Tranche, epochIndex int, d protocolDetails, digits int, ev *model.EventRecord) error {
	// Collect first: settlement deletes resolved orders, which would shift
	// pagination offsets mid-query.
	var orders []*model.OutstandingOrder
	err := store.QueryAll(ctx, l.store, model.KindOutstandingOrder, "tranche_id", tranche.TrancheID, func(o *model.OutstandingOrder) error {
		if o.PoolID == pool.ID {
			orders = append(orders, o)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, order := range orders {
		balance, err := l.getOrInitTrancheBalance(ctx, order.AccountID, pool.ID, tranche.TrancheID)
		if err != nil {
			return err
		}

		if order.Invest.Sign() > 0 {
			currencyAmount := fixed.ApplyRatio(order.Invest, d.investRate, fixed.RayDigits)
			if currencyAmount.Sign() > 0 {
				tokenAmount := fixed.TokenAmount(currencyAmount, d.price, digits)
				tx := l.newExecutionTx(model.TxExecuteInvest, order, epochIndex, d.price, ev)
				tx.CurrencyAmount = currencyAmount
				tx.TokenAmount = tokenAmount
				if err := l.saveInvestorTransaction(ctx, tx); err != nil {
					return err
				}
				order.Invest = new(big.Int).Sub(order.Invest, currencyAmount)
				balance.InvestExecute(currencyAmount, tokenAmount)
			}
		}
		if order.Redeem.Sign() > 0 {
			tokenAmount := fixed.ApplyRatio(order.Redeem, d.redeemRate, fixed.RayDigits)
			if tokenAmount.Sign() > 0 {
				currencyAmount := fixed.CurrencyAmount(tokenAmount, d.price, digits)
				tx := l.newExecutionTx(model.TxExecuteRedeem, order, epochIndex, d.price, ev)
				tx.TokenAmount = tokenAmount
				tx.CurrencyAmount = currencyAmount
				if err := l.saveInvestorTransaction(ctx, tx); err != nil {
					return err
				}
				order.Redeem = new(big.Int).Sub(order.Redeem, tokenAmount)
				balance.RedeemExecute(tokenAmount, currencyAmount)
			}
		}

		if err := l.saveTrancheBalance(ctx, balance); err != nil {
			return err
		}
		if order.IsResolved() {
			if err := l.store.Delete(ctx, model.KindOutstandingOrder, order.ID); err != nil {
				return err
			}
			l.logger.Debug("order resolved",
				zap.String("order", order.ID), zap.Int("epoch", epochIndex))
			continue
		}
		order.EpochNumber = epochIndex + 1
		if err := l.store.Set(ctx, model.KindOutstandingOrder, order.ID, order); err != nil {
			return err
		}
	}
	return nil
}

// newExecutionTx builds an execution transaction record. Execution is not
// tied to a single on-chain transaction per order, so identity derives from
// the order and the epoch, keeping replays idempotent.
func (l *Ledger) newExecutionTx(kind string, order *model.OutstandingOrder, epochIndex int, price *big.Int, ev *model.EventRecord) *model.InvestorTransaction {
	return &model.InvestorTransaction{
		ID:          model.InvestorTransactionID(fmt.Sprintf("%s-%d", order.ID, epochIndex), kind),
		Kind:        kind,
		PoolID:      order.PoolID,
		TrancheID:   order.TrancheID,
		AccountID:   order.AccountID,
		EpochNumber: epochIndex,
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
		Price:       price,
	}
}
