package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"lendscope/internal/model"
	"lendscope/internal/protocol"
)

// Events emitted by the lending protocol contracts.
const protocolABIJSON = `[
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": false, "name": "currency", "type": "address"},
    {"indexed": false, "name": "currencyDigits", "type": "uint8"},
    {"indexed": false, "name": "maxReserve", "type": "uint128"}
  ], "name": "PoolCreated", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": false, "name": "maxReserve", "type": "uint128"}
  ], "name": "PoolUpdated", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": false, "name": "epochIndex", "type": "uint32"}
  ], "name": "EpochClosed", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": false, "name": "epochIndex", "type": "uint32"}
  ], "name": "EpochExecuted", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "trancheId", "type": "bytes16"},
    {"indexed": true, "name": "account", "type": "address"},
    {"indexed": false, "name": "oldAmount", "type": "uint128"},
    {"indexed": false, "name": "newAmount", "type": "uint128"}
  ], "name": "InvestOrderUpdated", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "trancheId", "type": "bytes16"},
    {"indexed": true, "name": "account", "type": "address"},
    {"indexed": false, "name": "oldAmount", "type": "uint128"},
    {"indexed": false, "name": "newAmount", "type": "uint128"}
  ], "name": "RedeemOrderUpdated", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "trancheId", "type": "bytes16"},
    {"indexed": true, "name": "account", "type": "address"},
    {"indexed": false, "name": "endEpoch", "type": "uint32"},
    {"indexed": false, "name": "payoutTokenAmount", "type": "uint128"},
    {"indexed": false, "name": "payoutCurrencyAmount", "type": "uint128"}
  ], "name": "OrdersCollected", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "loanId", "type": "uint128"}
  ], "name": "LoanCreated", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "loanId", "type": "uint128"},
    {"indexed": false, "name": "amount", "type": "uint128"}
  ], "name": "LoanBorrowed", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "loanId", "type": "uint128"},
    {"indexed": false, "name": "principal", "type": "uint128"},
    {"indexed": false, "name": "interest", "type": "uint128"},
    {"indexed": false, "name": "unscheduled", "type": "uint128"}
  ], "name": "LoanRepaid", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "loanId", "type": "uint128"},
    {"indexed": false, "name": "amount", "type": "uint128"}
  ], "name": "LoanWrittenOff", "type": "event"},
  {"anonymous": false, "inputs": [
    {"indexed": true, "name": "poolId", "type": "uint64"},
    {"indexed": true, "name": "trancheId", "type": "bytes16"},
    {"indexed": false, "name": "from", "type": "address"},
    {"indexed": false, "name": "to", "type": "address"},
    {"indexed": false, "name": "amount", "type": "uint128"}
  ], "name": "TokenTransfer", "type": "event"}
]`

var (
	protocolABI    abi.ABI
	protocolOnce   sync.Once
	protocolABIErr error
)

func getProtocolABI() (abi.ABI, error) {
	protocolOnce.Do(func() {
		protocolABI, protocolABIErr = abi.JSON(strings.NewReader(protocolABIJSON))
	})
	return protocolABI, protocolABIErr
}

// TrancheLister looks up a pool's tranche configuration. Pool events carry
// only flat fields; the tranche set comes from the registry.
type TrancheLister interface {
	PoolTranches(ctx context.Context, poolID string) ([]protocol.TrancheConfig, error)
}

// eventName maps a contract event to its feed record name.
var eventNames = map[string]string{
	"PoolCreated":        model.EventPoolCreated,
	"PoolUpdated":        model.EventPoolUpdated,
	"EpochClosed":        model.EventEpochClosed,
	"EpochExecuted":      model.EventEpochExecuted,
	"InvestOrderUpdated": model.EventInvestOrderUpdated,
	"RedeemOrderUpdated": model.EventRedeemOrderUpdated,
	"OrdersCollected":    model.EventOrdersCollected,
	"LoanCreated":        model.EventLoanCreated,
	"LoanBorrowed":       model.EventLoanBorrowed,
	"LoanRepaid":         model.EventLoanRepaid,
	"LoanWrittenOff":     model.EventLoanWrittenOff,
	"TokenTransfer":      model.EventTokenTransfer,
}

// Decoder converts protocol logs into feed event records.
type Decoder struct {
	contractABI abi.ABI
	topicToName map[common.Hash]string
	registry    TrancheLister
}

func NewDecoder(registry TrancheLister) (*Decoder, error) {
	contractABI, err := getProtocolABI()
	if err != nil {
		return nil, err
	}
	topicToName := make(map[common.Hash]string, len(eventNames))
	for abiName := range eventNames {
		event, ok := contractABI.Events[abiName]
		if !ok {
			return nil, fmt.Errorf("event %s missing from protocol abi", abiName)
		}
		topicToName[event.ID] = abiName
	}
	return &Decoder{
		contractABI: contractABI,
		topicToName: topicToName,
		registry:    registry,
	}, nil
}

// Topics returns the topic0 filter covering every protocol event.
func (d *Decoder) Topics() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToName))
	for topic := range d.topicToName {
		topics = append(topics, topic)
	}
	return topics
}

// CanDecode reports whether the log carries a protocol event.
func (d *Decoder) CanDecode(log types.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	_, ok := d.topicToName[log.Topics[0]]
	return ok
}

// Decode converts one log into a feed record. The timestamp is the log's
// block timestamp, fetched by the caller.
func (d *Decoder) Decode(ctx context.Context, log types.Log, timestamp uint64) (*model.EventRecord, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topic0")
	}
	abiName, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}
	event := d.contractABI.Events[abiName]

	poolID, err := poolIDFromTopic(log.Topics)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abiName, err)
	}

	var payload any
	switch abiName {
	case "PoolCreated":
		payload, err = d.decodePoolCreated(ctx, event, log, poolID)
	case "PoolUpdated":
		payload, err = d.decodePoolUpdated(ctx, event, log, poolID)
	case "EpochClosed", "EpochExecuted":
		payload, err = decodeEpochEvent(event, log)
	case "InvestOrderUpdated", "RedeemOrderUpdated":
		payload, err = decodeOrderUpdated(event, log)
	case "OrdersCollected":
		payload, err = decodeOrdersCollected(event, log)
	case "LoanCreated", "LoanBorrowed", "LoanWrittenOff":
		payload, err = decodeLoanAmount(event, log)
	case "LoanRepaid":
		payload, err = decodeLoanRepaid(event, log)
	case "TokenTransfer":
		payload, err = decodeTokenTransfer(event, log)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", abiName)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", abiName, err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", abiName, err)
	}
	return &model.EventRecord{
		Name:        eventNames[abiName],
		PoolID:      poolID,
		BlockNumber: log.BlockNumber,
		LogIndex:    uint64(log.Index),
		Timestamp:   timestamp,
		TxHash:      log.TxHash.Hex(),
		Data:        data,
	}, nil
}

func (d *Decoder) decodePoolCreated(ctx context.Context, event abi.Event, log types.Log, poolID string) (any, error) {
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	currency, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected currency type %T", values[0])
	}
	digits, ok := values[1].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected digits type %T", values[1])
	}
	maxReserve, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected reserve type %T", values[2])
	}
	tranches, err := d.listTranches(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return model.PoolCreatedData{
		CurrencyID:     currency.Hex(),
		CurrencyDigits: int(digits),
		MaxReserve:     maxReserve.String(),
		Tranches:       tranches,
	}, nil
}

func (d *Decoder) decodePoolUpdated(ctx context.Context, event abi.Event, log types.Log, poolID string) (any, error) {
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	maxReserve, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected reserve type %T", values[0])
	}
	tranches, err := d.listTranches(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return model.PoolCreatedData{
		MaxReserve: maxReserve.String(),
		Tranches:   tranches,
	}, nil
}

func (d *Decoder) listTranches(ctx context.Context, poolID string) ([]model.TrancheSetup, error) {
	if d.registry == nil {
		return nil, fmt.Errorf("tranche registry is nil")
	}
	configs, err := d.registry.PoolTranches(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("pool tranches %s: %w", poolID, err)
	}
	setups := make([]model.TrancheSetup, 0, len(configs))
	for i, cfg := range configs {
		setup := model.TrancheSetup{
			TrancheID:  cfg.TrancheID,
			Index:      i,
			Seniority:  cfg.Seniority,
			IsResidual: cfg.IsResidual,
		}
		if !cfg.IsResidual {
			setup.InterestRatePerSec = cfg.InterestRatePerSec.String()
			setup.MinRiskBuffer = cfg.MinRiskBuffer.String()
		}
		setups = append(setups, setup)
	}
	return setups, nil
}

func decodeEpochEvent(event abi.Event, log types.Log) (any, error) {
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	index, ok := values[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected index type %T", values[0])
	}
	return model.EpochEventData{EpochIndex: int(index)}, nil
}

func decodeOrderUpdated(event abi.Event, log types.Log) (any, error) {
	trancheID, account, err := orderTopics(event, log)
	if err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	oldAmount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected old amount type %T", values[0])
	}
	newAmount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected new amount type %T", values[1])
	}
	return model.OrderUpdatedData{
		TrancheID: trancheID,
		AccountID: account,
		OldAmount: oldAmount.String(),
		NewAmount: newAmount.String(),
	}, nil
}

func decodeOrdersCollected(event abi.Event, log types.Log) (any, error) {
	trancheID, account, err := orderTopics(event, log)
	if err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	endEpoch, ok := values[0].(uint32)
	if !ok {
		return nil, fmt.Errorf("unexpected end epoch type %T", values[0])
	}
	tokenAmount, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected token payout type %T", values[1])
	}
	currencyAmount, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected currency payout type %T", values[2])
	}
	return model.OrdersCollectedData{
		TrancheID:            trancheID,
		AccountID:            account,
		EndEpoch:             int(endEpoch),
		PayoutTokenAmount:    tokenAmount.String(),
		PayoutCurrencyAmount: currencyAmount.String(),
	}, nil
}

func decodeLoanAmount(event abi.Event, log types.Log) (any, error) {
	loanID, err := loanIDFromTopic(event, log)
	if err != nil {
		return nil, err
	}
	data := model.LoanEventData{LoanID: loanID}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		amount, ok := values[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected amount type %T", values[0])
		}
		data.Amount = amount.String()
	}
	return data, nil
}

func decodeLoanRepaid(event abi.Event, log types.Log) (any, error) {
	loanID, err := loanIDFromTopic(event, log)
	if err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	amounts := make([]string, 3)
	for i, value := range values {
		amount, ok := value.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("unexpected amount type %T", value)
		}
		amounts[i] = amount.String()
	}
	return model.LoanEventData{
		LoanID:      loanID,
		Principal:   amounts[0],
		Interest:    amounts[1],
		Unscheduled: amounts[2],
	}, nil
}

func decodeTokenTransfer(event abi.Event, log types.Log) (any, error) {
	var indexed struct {
		PoolId    uint64
		TrancheId [16]byte
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return nil, err
	}
	values, err := unpackNonIndexed(event, log.Data)
	if err != nil {
		return nil, err
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected value count %d", len(values))
	}
	from, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected sender type %T", values[0])
	}
	to, ok := values[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected recipient type %T", values[1])
	}
	amount, ok := values[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T", values[2])
	}
	return model.TokenTransferData{
		TrancheID: hexutil.Encode(indexed.TrancheId[:]),
		From:      from.Hex(),
		To:        to.Hex(),
		Amount:    amount.String(),
	}, nil
}

func orderTopics(event abi.Event, log types.Log) (string, string, error) {
	var indexed struct {
		PoolId    uint64
		TrancheId [16]byte
		Account   common.Address
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return "", "", err
	}
	return hexutil.Encode(indexed.TrancheId[:]), indexed.Account.Hex(), nil
}

func loanIDFromTopic(event abi.Event, log types.Log) (string, error) {
	var indexed struct {
		PoolId uint64
		LoanId *big.Int
	}
	if err := parseIndexed(event, log, &indexed); err != nil {
		return "", err
	}
	return indexed.LoanId.String(), nil
}

// poolIDFromTopic reads the pool id every protocol event indexes first.
func poolIDFromTopic(topics []common.Hash) (string, error) {
	if len(topics) < 2 {
		return "", fmt.Errorf("missing pool id topic")
	}
	value := new(big.Int).SetBytes(topics[1].Bytes())
	if !value.IsUint64() {
		return "", fmt.Errorf("pool id overflows uint64: %s", value)
	}
	return strconv.FormatUint(value.Uint64(), 10), nil
}

func parseIndexed(event abi.Event, log types.Log, out any) error {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("parse topics: %w", err)
	}
	return nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, data []byte) ([]interface{}, error) {
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
