package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"lendscope/internal/model"
)

// HandleLoanCreated counts a new loan against the pool's period and
// lifetime totals.
func (l *Ledger) HandleLoanCreated(ctx context.Context, ev *model.EventRecord) error {
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	pool.IncreaseLoansCreated()
	return l.savePool(ctx, pool)
}

// HandleLoanBorrowed books a drawdown against the pool and the open epoch.
func (l *Ledger) HandleLoanBorrowed(ctx context.Context, ev *model.EventRecord) error {
	data, err := decodeLoanEvent(ev)
	if err != nil {
		return err
	}
	amount, err := model.ParseAmount(data.Amount)
	if err != nil {
		return fmt.Errorf("loanBorrowed amount: %w", err)
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	pool.IncreaseBorrowings(amount)
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}
	epoch, err := l.getEpoch(ctx, pool.ID, pool.CurrentEpoch)
	if err != nil {
		return err
	}
	epoch.TotalBorrowed = new(big.Int).Add(epoch.TotalBorrowed, amount)
	return l.saveEpoch(ctx, epoch)
}

// HandleLoanRepaid books a repayment against the pool and the open epoch.
// Principal, interest and unscheduled repayments all count toward the
// repaid totals.
func (l *Ledger) HandleLoanRepaid(ctx context.Context, ev *model.EventRecord) error {
	data, err := decodeLoanEvent(ev)
	if err != nil {
		return err
	}
	principal, err := model.ParseAmount(data.Principal)
	if err != nil {
		return fmt.Errorf("loanRepaid principal: %w", err)
	}
	interest, err := model.ParseAmount(data.Interest)
	if err != nil {
		return fmt.Errorf("loanRepaid interest: %w", err)
	}
	unscheduled, err := model.ParseAmount(data.Unscheduled)
	if err != nil {
		return fmt.Errorf("loanRepaid unscheduled: %w", err)
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	pool.IncreaseRepayments(principal, interest, unscheduled)
	if err := l.savePool(ctx, pool); err != nil {
		return err
	}
	epoch, err := l.getEpoch(ctx, pool.ID, pool.CurrentEpoch)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(principal, interest)
	total.Add(total, unscheduled)
	epoch.TotalRepaid = new(big.Int).Add(epoch.TotalRepaid, total)
	return l.saveEpoch(ctx, epoch)
}

// HandleLoanWrittenOff books a write-off against the pool's period total.
func (l *Ledger) HandleLoanWrittenOff(ctx context.Context, ev *model.EventRecord) error {
	data, err := decodeLoanEvent(ev)
	if err != nil {
		return err
	}
	amount, err := model.ParseAmount(data.Amount)
	if err != nil {
		return fmt.Errorf("loanWrittenOff amount: %w", err)
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	pool.IncreaseWriteOffs(amount)
	l.logger.Info("loan written off",
		zap.String("pool", pool.ID),
		zap.String("loan", data.LoanID),
		zap.String("amount", amount.String()))
	return l.savePool(ctx, pool)
}

// HandleTokenTransfer records a tranche token movement as a transferOut for
// the sender and a transferIn for the recipient.
func (l *Ledger) HandleTokenTransfer(ctx context.Context, ev *model.EventRecord) error {
	var data model.TokenTransferData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("decode tokenTransfer: %w", err)
	}
	amount, err := model.ParseAmount(data.Amount)
	if err != nil {
		return fmt.Errorf("tokenTransfer amount: %w", err)
	}
	if amount.Sign() == 0 {
		return nil
	}
	pool, err := l.getPool(ctx, ev.PoolID)
	if err != nil {
		return err
	}
	tranche, err := l.getTranche(ctx, pool.ID, data.TrancheID)
	if err != nil {
		return err
	}

	// A transaction may carry several transfers; the log index keeps their
	// records distinct.
	base := fmt.Sprintf("%s-%d", ev.TxHash, ev.LogIndex)
	out := &model.InvestorTransaction{
		ID:          model.InvestorTransactionID(base, model.TxTransferOut),
		Kind:        model.TxTransferOut,
		PoolID:      pool.ID,
		TrancheID:   data.TrancheID,
		AccountID:   data.From,
		EpochNumber: pool.CurrentEpoch,
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
		Price:       tranche.TokenPrice,
		TokenAmount: amount,
	}
	if err := l.saveInvestorTransaction(ctx, out); err != nil {
		return err
	}
	in := &model.InvestorTransaction{
		ID:          model.InvestorTransactionID(base, model.TxTransferIn),
		Kind:        model.TxTransferIn,
		PoolID:      pool.ID,
		TrancheID:   data.TrancheID,
		AccountID:   data.To,
		EpochNumber: pool.CurrentEpoch,
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
		Price:       tranche.TokenPrice,
		TokenAmount: amount,
	}
	return l.saveInvestorTransaction(ctx, in)
}

func decodeLoanEvent(ev *model.EventRecord) (model.LoanEventData, error) {
	var data model.LoanEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return data, fmt.Errorf("decode %s: %w", ev.Name, err)
	}
	return data, nil
}
