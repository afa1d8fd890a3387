package model

import (
	"fmt"
	"math/big"
)

// Epoch is one settlement round of a pool. Identity is "{poolID}-{index}".
// Lifecycle is open -> closed -> executed, strictly sequential.
type Epoch struct {
	ID     string `json:"id"`
	PoolID string `json:"pool_id"`
	Index  int    `json:"index"`

	OpenedAt   uint64 `json:"opened_at"`
	ClosedAt   uint64 `json:"closed_at,omitempty"`
	ExecutedAt uint64 `json:"executed_at,omitempty"`

	// Aggregates accumulated from the child epoch states.
	TotalBorrowed *big.Int `json:"total_borrowed"`
	TotalRepaid   *big.Int `json:"total_repaid"`
	TotalInvested *big.Int `json:"total_invested"`
	TotalRedeemed *big.Int `json:"total_redeemed"`
}

func (e *Epoch) EntityID() string { return e.ID }

// IsClosed reports whether the epoch has been closed.
func (e *Epoch) IsClosed() bool { return e.ClosedAt != 0 }

// IsExecuted reports whether the epoch has been executed.
func (e *Epoch) IsExecuted() bool { return e.ExecutedAt != 0 }

// EpochState is the per-tranche order ledger of one epoch. Identity is
// "{poolID}-{epochIndex}-{trancheID}". It is owned by its epoch: created when
// the epoch opens, mutated while it is open, frozen after execution.
type EpochState struct {
	ID        string `json:"id"`
	EpochID   string `json:"epoch_id"`
	TrancheID string `json:"tranche_id"`

	// Set at execution from the protocol's cleared values.
	Price                 *big.Int `json:"price,omitempty"`
	InvestFulfillmentRate *big.Int `json:"invest_fulfillment_rate,omitempty"`
	RedeemFulfillmentRate *big.Int `json:"redeem_fulfillment_rate,omitempty"`

	OutstandingInvestOrders         *big.Int `json:"outstanding_invest_orders"`
	OutstandingRedeemOrders         *big.Int `json:"outstanding_redeem_orders"`
	OutstandingRedeemOrdersCurrency *big.Int `json:"outstanding_redeem_orders_currency"`

	FulfilledInvestOrders         *big.Int `json:"fulfilled_invest_orders,omitempty"`
	FulfilledRedeemOrders         *big.Int `json:"fulfilled_redeem_orders,omitempty"`
	FulfilledRedeemOrdersCurrency *big.Int `json:"fulfilled_redeem_orders_currency,omitempty"`
}

// EpochStateID builds the identity of an epoch state.
func EpochStateID(poolID string, index int, trancheID string) string {
	return fmt.Sprintf("%s-%d-%s", poolID, index, trancheID)
}

func (s *EpochState) EntityID() string { return s.ID }
