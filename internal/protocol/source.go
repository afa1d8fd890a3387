package protocol

import (
	"context"
	"math/big"
)

// EpochDetails is the protocol's cleared outcome for one tranche in one
// executed epoch. Price and rates are ray-scaled.
type EpochDetails struct {
	Price             *big.Int
	InvestFulfillment *big.Int
	RedeemFulfillment *big.Int
}

// PoolDetails is the protocol's current reserve and valuation figures.
type PoolDetails struct {
	TotalReserve     *big.Int
	AvailableReserve *big.Int
	MaxReserve       *big.Int
	NetAssetValue    *big.Int
}

// TrancheConfig is one tranche's on-chain configuration. Rates and buffers
// are ray-scaled; residual tranches carry neither.
type TrancheConfig struct {
	TrancheID          string
	Seniority          int
	IsResidual         bool
	InterestRatePerSec *big.Int
	MinRiskBuffer      *big.Int
}

// Source is a point-in-time read of protocol state. A false ok result means
// the data is not available yet (e.g. an epoch not executed on-chain); that
// is a normal condition, not an error.
type Source interface {
	EpochDetails(ctx context.Context, poolID, trancheID string, epochIndex int) (EpochDetails, bool, error)
	PoolDetails(ctx context.Context, poolID string) (PoolDetails, bool, error)
	TrancheSupply(ctx context.Context, poolID, trancheID string) (*big.Int, bool, error)
	TranchePrice(ctx context.Context, poolID, trancheID string) (*big.Int, bool, error)
	TrancheDebt(ctx context.Context, poolID, trancheID string) (*big.Int, bool, error)
}
