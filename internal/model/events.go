package model

import "encoding/json"

// Event names emitted by the lending protocol.
const (
	EventPoolCreated        = "poolCreated"
	EventPoolUpdated        = "poolUpdated"
	EventEpochClosed        = "epochClosed"
	EventEpochExecuted      = "epochExecuted"
	EventInvestOrderUpdated = "investOrderUpdated"
	EventRedeemOrderUpdated = "redeemOrderUpdated"
	EventOrdersCollected    = "ordersCollected"
	EventLoanCreated        = "loanCreated"
	EventLoanBorrowed       = "loanBorrowed"
	EventLoanRepaid         = "loanRepaid"
	EventLoanWrittenOff     = "loanWrittenOff"
	EventTokenTransfer      = "tokenTransfer"
)

// EventRecord is one protocol event as stored in the JSONL feed. Records are
// strictly ordered by block number and, within a block, by log index.
type EventRecord struct {
	Name        string          `json:"name"`
	PoolID      string          `json:"pool_id"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint64          `json:"log_index"`
	Timestamp   uint64          `json:"timestamp"`
	TxHash      string          `json:"tx_hash"`
	Data        json.RawMessage `json:"data"`
}

// TrancheSetup describes one tranche within a pool creation or update.
type TrancheSetup struct {
	TrancheID          string `json:"tranche_id"`
	Index              int    `json:"index"`
	Seniority          int    `json:"seniority"`
	IsResidual         bool   `json:"is_residual"`
	InterestRatePerSec string `json:"interest_rate_per_sec,omitempty"`
	MinRiskBuffer      string `json:"min_risk_buffer,omitempty"`
}

// PoolCreatedData is the payload of poolCreated and poolUpdated events.
type PoolCreatedData struct {
	CurrencyID     string         `json:"currency_id"`
	CurrencyDigits int            `json:"currency_digits"`
	MaxReserve     string         `json:"max_reserve"`
	Tranches       []TrancheSetup `json:"tranches"`
}

// EpochEventData is the payload of epochClosed and epochExecuted events.
type EpochEventData struct {
	EpochIndex int `json:"epoch_index"`
}

// OrderUpdatedData is the payload of invest/redeem order update events. The
// protocol reports the replaced and the replacing order volume.
type OrderUpdatedData struct {
	TrancheID string `json:"tranche_id"`
	AccountID string `json:"account_id"`
	OldAmount string `json:"old_amount"`
	NewAmount string `json:"new_amount"`
}

// OrdersCollectedData is the payload of ordersCollected events.
type OrdersCollectedData struct {
	TrancheID            string `json:"tranche_id"`
	AccountID            string `json:"account_id"`
	EndEpoch             int    `json:"end_epoch"`
	PayoutTokenAmount    string `json:"payout_token_amount"`
	PayoutCurrencyAmount string `json:"payout_currency_amount"`
}

// LoanEventData is the payload of loan lifecycle events.
type LoanEventData struct {
	LoanID      string `json:"loan_id"`
	Amount      string `json:"amount,omitempty"`
	Principal   string `json:"principal,omitempty"`
	Interest    string `json:"interest,omitempty"`
	Unscheduled string `json:"unscheduled,omitempty"`
}

// TokenTransferData is the payload of tranche token transfer events.
type TokenTransferData struct {
	TrancheID string `json:"tranche_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
}
