package model

import (
	"fmt"
	"math/big"
)

// Tranche is the live derived state of one risk slice of a pool. Its identity
// is "{poolID}-{trancheID}".
type Tranche struct {
	ID        string `json:"id"`
	PoolID    string `json:"pool_id"`
	TrancheID string `json:"tranche_id"`
	Index     int    `json:"index"`
	Seniority int    `json:"seniority"`

	IsResidual bool `json:"is_residual"`
	IsActive   bool `json:"is_active"`

	// Only non-residual tranches carry an interest rate and a risk buffer.
	InterestRatePerSec *big.Int `json:"interest_rate_per_sec,omitempty"`
	MinRiskBuffer      *big.Int `json:"min_risk_buffer,omitempty"`

	// TokenPrice is ray-scaled and strictly positive.
	TokenPrice  *big.Int `json:"token_price"`
	TokenSupply *big.Int `json:"token_supply"`
	Debt        *big.Int `json:"debt"`

	// Period accumulators, reset by the snapshot cycle. Outstanding sums
	// track net order flow within the period; fulfilled sums track what the
	// settlement engine matched within the period.
	OutstandingInvestOrdersByPeriod         *big.Int `json:"outstanding_invest_orders_by_period"`
	OutstandingRedeemOrdersByPeriod         *big.Int `json:"outstanding_redeem_orders_by_period"`
	OutstandingRedeemOrdersCurrencyByPeriod *big.Int `json:"outstanding_redeem_orders_currency_by_period"`
	FulfilledInvestOrdersByPeriod           *big.Int `json:"fulfilled_invest_orders_by_period"`
	FulfilledRedeemOrdersByPeriod           *big.Int `json:"fulfilled_redeem_orders_by_period"`
	FulfilledRedeemOrdersCurrencyByPeriod   *big.Int `json:"fulfilled_redeem_orders_currency_by_period"`

	// Yields over reference windows, refreshed at period boundaries.
	YieldSinceInception   *big.Int `json:"yield_since_inception,omitempty"`
	Yield30DaysAnnualized *big.Int `json:"yield_30_days_annualized,omitempty"`
	Yield90DaysAnnualized *big.Int `json:"yield_90_days_annualized,omitempty"`
}

// TrancheEntityID builds the identity of a tranche within a pool.
func TrancheEntityID(poolID, trancheID string) string {
	return fmt.Sprintf("%s-%s", poolID, trancheID)
}

func (t *Tranche) EntityID() string { return t.ID }

// ResetPeriodValues zeroes every per-period accumulator.
func (t *Tranche) ResetPeriodValues() {
	t.OutstandingInvestOrdersByPeriod = big.NewInt(0)
	t.OutstandingRedeemOrdersByPeriod = big.NewInt(0)
	t.OutstandingRedeemOrdersCurrencyByPeriod = big.NewInt(0)
	t.FulfilledInvestOrdersByPeriod = big.NewInt(0)
	t.FulfilledRedeemOrdersByPeriod = big.NewInt(0)
	t.FulfilledRedeemOrdersCurrencyByPeriod = big.NewInt(0)
}
