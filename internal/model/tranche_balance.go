package model

import (
	"fmt"
	"math/big"
)

// TrancheBalance tracks one investor's pending and claimable positions in a
// tranche. Identity is "{accountID}-{poolID}-{trancheID}".
type TrancheBalance struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	PoolID    string `json:"pool_id"`
	TrancheID string `json:"tranche_id"`

	PendingInvestCurrency   *big.Int `json:"pending_invest_currency"`
	ClaimableTrancheTokens  *big.Int `json:"claimable_tranche_tokens"`
	SumClaimedTrancheTokens *big.Int `json:"sum_claimed_tranche_tokens"`

	PendingRedeemTrancheTokens *big.Int `json:"pending_redeem_tranche_tokens"`
	ClaimableCurrency          *big.Int `json:"claimable_currency"`
	SumClaimedCurrency         *big.Int `json:"sum_claimed_currency"`
}

// TrancheBalanceID builds the identity of a tranche balance.
func TrancheBalanceID(accountID, poolID, trancheID string) string {
	return fmt.Sprintf("%s-%s-%s", accountID, poolID, trancheID)
}

// NewTrancheBalance initialises a zeroed balance.
func NewTrancheBalance(accountID, poolID, trancheID string) *TrancheBalance {
	return &TrancheBalance{
		ID:        TrancheBalanceID(accountID, poolID, trancheID),
		AccountID: accountID,
		PoolID:    poolID,
		TrancheID: trancheID,

		PendingInvestCurrency:      big.NewInt(0),
		ClaimableTrancheTokens:     big.NewInt(0),
		SumClaimedTrancheTokens:    big.NewInt(0),
		PendingRedeemTrancheTokens: big.NewInt(0),
		ClaimableCurrency:          big.NewInt(0),
		SumClaimedCurrency:         big.NewInt(0),
	}
}

func (b *TrancheBalance) EntityID() string { return b.ID }

// InvestOrder replaces the pending invest amount with the latest order value.
func (b *TrancheBalance) InvestOrder(currencyAmount *big.Int) {
	b.PendingInvestCurrency = new(big.Int).Set(currencyAmount)
}

// RedeemOrder replaces the pending redeem amount with the latest order value.
func (b *TrancheBalance) RedeemOrder(tokenAmount *big.Int) {
	b.PendingRedeemTrancheTokens = new(big.Int).Set(tokenAmount)
}

// InvestExecute moves executed invest volume from pending to claimable.
func (b *TrancheBalance) InvestExecute(currencyAmount, tokenAmount *big.Int) {
	b.PendingInvestCurrency = new(big.Int).Sub(b.PendingInvestCurrency, currencyAmount)
	b.ClaimableTrancheTokens = new(big.Int).Add(b.ClaimableTrancheTokens, tokenAmount)
}

// RedeemExecute moves executed redeem volume from pending to claimable.
func (b *TrancheBalance) RedeemExecute(tokenAmount, currencyAmount *big.Int) {
	b.PendingRedeemTrancheTokens = new(big.Int).Sub(b.PendingRedeemTrancheTokens, tokenAmount)
	b.ClaimableCurrency = new(big.Int).Add(b.ClaimableCurrency, currencyAmount)
}

// InvestCollect settles a claimable token payout.
func (b *TrancheBalance) InvestCollect(tokenAmount *big.Int) {
	b.ClaimableTrancheTokens = new(big.Int).Sub(b.ClaimableTrancheTokens, tokenAmount)
	b.SumClaimedTrancheTokens = new(big.Int).Add(b.SumClaimedTrancheTokens, tokenAmount)
}

// RedeemCollect settles a claimable currency payout.
func (b *TrancheBalance) RedeemCollect(currencyAmount *big.Int) {
	b.ClaimableCurrency = new(big.Int).Sub(b.ClaimableCurrency, currencyAmount)
	b.SumClaimedCurrency = new(big.Int).Add(b.SumClaimedCurrency, currencyAmount)
}
