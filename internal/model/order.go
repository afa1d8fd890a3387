package model

import (
	"fmt"
	"math/big"
)

// OutstandingOrder is the unresolved investor intent carried by one account
// for one tranche. Identity is "{poolID}-{trancheID}-{accountID}". It is
// keyed by tranche, not epoch, so it survives partial fulfillment and is
// deleted only when both volumes reach zero.
type OutstandingOrder struct {
	ID        string `json:"id"`
	PoolID    string `json:"pool_id"`
	TrancheID string `json:"tranche_id"`
	AccountID string `json:"account_id"`

	// EpochNumber is the epoch the order was last updated in.
	EpochNumber int    `json:"epoch_number"`
	Timestamp   uint64 `json:"timestamp"`
	TxHash      string `json:"tx_hash,omitempty"`

	Invest *big.Int `json:"invest"`
	Redeem *big.Int `json:"redeem"`
}

// OrderID builds the identity of an outstanding order.
func OrderID(poolID, trancheID, accountID string) string {
	return fmt.Sprintf("%s-%s-%s", poolID, trancheID, accountID)
}

func (o *OutstandingOrder) EntityID() string { return o.ID }

// IsResolved reports whether both volumes have been fully matched.
func (o *OutstandingOrder) IsResolved() bool {
	return o.Invest.Sign() == 0 && o.Redeem.Sign() == 0
}
