package model

// Entity kinds used as the document store partition key.
const (
	KindCurrency            = "currency"
	KindPool                = "pool"
	KindTranche             = "tranche"
	KindEpoch               = "epoch"
	KindEpochState          = "epochState"
	KindOutstandingOrder    = "outstandingOrder"
	KindInvestorTransaction = "investorTransaction"
	KindTrancheBalance      = "trancheBalance"
	KindPoolSnapshot        = "poolSnapshot"
	KindTrancheSnapshot     = "trancheSnapshot"
	KindFeedPosition        = "feedPosition"
)
