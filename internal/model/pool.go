package model

import (
	"fmt"
	"math/big"
)

// Pool is the live derived state of one lending pool.
type Pool struct {
	ID             string `json:"id"`
	CurrencyID     string `json:"currency_id"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      uint64 `json:"created_at"`
	CreatedAtBlock uint64 `json:"created_at_block"`

	TotalReserve     *big.Int `json:"total_reserve"`
	AvailableReserve *big.Int `json:"available_reserve"`
	MaxReserve       *big.Int `json:"max_reserve"`
	NetAssetValue    *big.Int `json:"net_asset_value"`
	// Value is NetAssetValue + TotalReserve, refreshed with the reserves.
	Value *big.Int `json:"value"`

	CurrentEpoch      int `json:"current_epoch"`
	LastEpochClosed   int `json:"last_epoch_closed"`
	LastEpochExecuted int `json:"last_epoch_executed"`

	// Period accumulators, reset by the snapshot cycle.
	BorrowedAmountByPeriod   *big.Int `json:"borrowed_amount_by_period"`
	RepaidAmountByPeriod     *big.Int `json:"repaid_amount_by_period"`
	InvestedAmountByPeriod   *big.Int `json:"invested_amount_by_period"`
	RedeemedAmountByPeriod   *big.Int `json:"redeemed_amount_by_period"`
	WrittenOffAmountByPeriod *big.Int `json:"written_off_amount_by_period"`
	LoansCreatedByPeriod     uint64   `json:"loans_created_by_period"`

	// Running totals over the pool lifetime.
	SumBorrowedAmount *big.Int `json:"sum_borrowed_amount"`
	SumRepaidAmount   *big.Int `json:"sum_repaid_amount"`
	SumLoansCreated   uint64   `json:"sum_loans_created"`
}

// NewPool initialises a pool created at the given block.
func NewPool(id, currencyID string, maxReserve *big.Int, timestamp, blockNumber uint64) *Pool {
	if maxReserve == nil {
		maxReserve = big.NewInt(0)
	}
	return &Pool{
		ID:             id,
		CurrencyID:     currencyID,
		IsActive:       true,
		CreatedAt:      timestamp,
		CreatedAtBlock: blockNumber,

		TotalReserve:     big.NewInt(0),
		AvailableReserve: big.NewInt(0),
		MaxReserve:       maxReserve,
		NetAssetValue:    big.NewInt(0),
		Value:            big.NewInt(0),

		CurrentEpoch: 1,

		BorrowedAmountByPeriod:   big.NewInt(0),
		RepaidAmountByPeriod:     big.NewInt(0),
		InvestedAmountByPeriod:   big.NewInt(0),
		RedeemedAmountByPeriod:   big.NewInt(0),
		WrittenOffAmountByPeriod: big.NewInt(0),

		SumBorrowedAmount: big.NewInt(0),
		SumRepaidAmount:   big.NewInt(0),
	}
}

func (p *Pool) EntityID() string { return p.ID }

// ResetPeriodValues zeroes every per-period accumulator. The list is the
// single source of truth for which pool fields reset at a period boundary.
func (p *Pool) ResetPeriodValues() {
	p.BorrowedAmountByPeriod = big.NewInt(0)
	p.RepaidAmountByPeriod = big.NewInt(0)
	p.InvestedAmountByPeriod = big.NewInt(0)
	p.RedeemedAmountByPeriod = big.NewInt(0)
	p.WrittenOffAmountByPeriod = big.NewInt(0)
	p.LoansCreatedByPeriod = 0
}

// ComputeValue refreshes the pool value from NAV and total reserve.
func (p *Pool) ComputeValue() {
	p.Value = new(big.Int).Add(p.NetAssetValue, p.TotalReserve)
}

// CloseEpoch records the close of epoch index and opens the next one.
func (p *Pool) CloseEpoch(index int) {
	p.LastEpochClosed = index
	p.CurrentEpoch = index + 1
}

// ExecuteEpoch records the execution of epoch index.
func (p *Pool) ExecuteEpoch(index int) {
	p.LastEpochExecuted = index
}

func (p *Pool) IncreaseBorrowings(amount *big.Int) {
	p.BorrowedAmountByPeriod = new(big.Int).Add(p.BorrowedAmountByPeriod, amount)
	p.SumBorrowedAmount = new(big.Int).Add(p.SumBorrowedAmount, amount)
}

func (p *Pool) IncreaseRepayments(principal, interest, unscheduled *big.Int) {
	total := new(big.Int).Add(principal, interest)
	total.Add(total, unscheduled)
	p.RepaidAmountByPeriod = new(big.Int).Add(p.RepaidAmountByPeriod, total)
	p.SumRepaidAmount = new(big.Int).Add(p.SumRepaidAmount, total)
}

func (p *Pool) IncreaseInvestments(currencyAmount *big.Int) {
	p.InvestedAmountByPeriod = new(big.Int).Add(p.InvestedAmountByPeriod, currencyAmount)
}

func (p *Pool) IncreaseRedemptions(currencyAmount *big.Int) {
	p.RedeemedAmountByPeriod = new(big.Int).Add(p.RedeemedAmountByPeriod, currencyAmount)
}

func (p *Pool) IncreaseWriteOffs(amount *big.Int) {
	p.WrittenOffAmountByPeriod = new(big.Int).Add(p.WrittenOffAmountByPeriod, amount)
}

func (p *Pool) IncreaseLoansCreated() {
	p.LoansCreatedByPeriod++
	p.SumLoansCreated++
}

// EpochID builds the identity of an epoch of this pool.
func EpochID(poolID string, index int) string {
	return fmt.Sprintf("%s-%d", poolID, index)
}
