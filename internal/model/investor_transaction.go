package model

import (
	"fmt"
	"math/big"
)

// Investor transaction kinds.
const (
	TxUpdateInvest  = "updateInvest"
	TxCancelInvest  = "cancelInvest"
	TxExecuteInvest = "executeInvest"
	TxCollectInvest = "collectInvest"
	TxUpdateRedeem  = "updateRedeem"
	TxCancelRedeem  = "cancelRedeem"
	TxExecuteRedeem = "executeRedeem"
	TxCollectRedeem = "collectRedeem"
	TxTransferIn    = "transferIn"
	TxTransferOut   = "transferOut"
)

// InvestorTransaction is a derived ledger record of one investor-facing
// action. Identity is "{txHash}-{kind}" so a retried block overwrites the
// same record instead of duplicating it.
type InvestorTransaction struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	PoolID      string `json:"pool_id"`
	TrancheID   string `json:"tranche_id"`
	AccountID   string `json:"account_id"`
	EpochNumber int    `json:"epoch_number"`
	TxHash      string `json:"tx_hash"`
	Timestamp   uint64 `json:"timestamp"`

	// Execution kinds carry the cleared ray price; order updates carry the
	// tranche price observed at update time.
	Price          *big.Int `json:"price,omitempty"`
	TokenAmount    *big.Int `json:"token_amount,omitempty"`
	CurrencyAmount *big.Int `json:"currency_amount,omitempty"`
}

// InvestorTransactionID builds the identity of an investor transaction.
func InvestorTransactionID(txHash, kind string) string {
	return fmt.Sprintf("%s-%s", txHash, kind)
}

func (t *InvestorTransaction) EntityID() string { return t.ID }
