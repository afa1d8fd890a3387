package ingest

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lendscope/internal/model"
	"lendscope/internal/protocol"
)

type stubLister struct {
	tranches []protocol.TrancheConfig
}

func (s *stubLister) PoolTranches(_ context.Context, _ string) ([]protocol.TrancheConfig, error) {
	return s.tranches, nil
}

func poolIDTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

func trancheIDTopic(id [16]byte) common.Hash {
	var h common.Hash
	copy(h[:16], id[:])
	return h
}

func packData(t *testing.T, eventName string, args ...interface{}) []byte {
	t.Helper()
	contractABI, err := getProtocolABI()
	if err != nil {
		t.Fatalf("protocol abi: %v", err)
	}
	data, err := contractABI.Events[eventName].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		t.Fatalf("pack %s: %v", eventName, err)
	}
	return data
}

func eventTopic(t *testing.T, eventName string) common.Hash {
	t.Helper()
	contractABI, err := getProtocolABI()
	if err != nil {
		t.Fatalf("protocol abi: %v", err)
	}
	return contractABI.Events[eventName].ID
}

func TestDecodeEpochClosed(t *testing.T) {
	decoder, err := NewDecoder(&stubLister{})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	log := types.Log{
		Topics:      []common.Hash{eventTopic(t, "EpochClosed"), poolIDTopic(7)},
		Data:        packData(t, "EpochClosed", uint32(3)),
		BlockNumber: 500,
		Index:       2,
		TxHash:      common.HexToHash("0x01"),
	}

	ev, err := decoder.Decode(context.Background(), log, 123_456)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Name != model.EventEpochClosed || ev.PoolID != "7" {
		t.Fatalf("record = %s/%s, want epochClosed/7", ev.Name, ev.PoolID)
	}
	if ev.Timestamp != 123_456 || ev.BlockNumber != 500 || ev.LogIndex != 2 {
		t.Fatalf("provenance mismatch: %+v", ev)
	}

	var data model.EpochEventData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.EpochIndex != 3 {
		t.Fatalf("EpochIndex = %d, want 3", data.EpochIndex)
	}
}

func TestDecodeInvestOrderUpdated(t *testing.T) {
	decoder, err := NewDecoder(&stubLister{})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	var trancheID [16]byte
	trancheID[15] = 1
	account := common.HexToAddress("0xAa00000000000000000000000000000000000001")

	log := types.Log{
		Topics: []common.Hash{
			eventTopic(t, "InvestOrderUpdated"),
			poolIDTopic(1),
			trancheIDTopic(trancheID),
			common.BytesToHash(account.Bytes()),
		},
		Data:        packData(t, "InvestOrderUpdated", big.NewInt(250), big.NewInt(1000)),
		BlockNumber: 501,
		TxHash:      common.HexToHash("0x02"),
	}

	ev, err := decoder.Decode(context.Background(), log, 200_000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Name != model.EventInvestOrderUpdated {
		t.Fatalf("Name = %s, want investOrderUpdated", ev.Name)
	}

	var data model.OrderUpdatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.AccountID != account.Hex() {
		t.Fatalf("AccountID = %s, want %s", data.AccountID, account.Hex())
	}
	if data.OldAmount != "250" || data.NewAmount != "1000" {
		t.Fatalf("amounts = %s/%s, want 250/1000", data.OldAmount, data.NewAmount)
	}
	want := "0x00000000000000000000000000000001"
	if data.TrancheID != want {
		t.Fatalf("TrancheID = %s, want %s", data.TrancheID, want)
	}
}

func TestDecodePoolCreatedFetchesTranches(t *testing.T) {
	lister := &stubLister{tranches: []protocol.TrancheConfig{
		{TrancheID: "0x00000000000000000000000000000001", IsResidual: true},
		{TrancheID: "0x00000000000000000000000000000002", Seniority: 1,
			InterestRatePerSec: big.NewInt(42), MinRiskBuffer: big.NewInt(7)},
	}}
	decoder, err := NewDecoder(lister)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	currency := common.HexToAddress("0xCc00000000000000000000000000000000000001")
	log := types.Log{
		Topics:      []common.Hash{eventTopic(t, "PoolCreated"), poolIDTopic(1)},
		Data:        packData(t, "PoolCreated", currency, uint8(6), big.NewInt(1_000_000)),
		BlockNumber: 100,
		TxHash:      common.HexToHash("0x03"),
	}

	ev, err := decoder.Decode(context.Background(), log, 1_000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var data model.PoolCreatedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data.CurrencyID != currency.Hex() || data.CurrencyDigits != 6 {
		t.Fatalf("currency = %s/%d", data.CurrencyID, data.CurrencyDigits)
	}
	if data.MaxReserve != "1000000" {
		t.Fatalf("MaxReserve = %s, want 1000000", data.MaxReserve)
	}
	if len(data.Tranches) != 2 {
		t.Fatalf("tranche count = %d, want 2", len(data.Tranches))
	}
	if !data.Tranches[0].IsResidual || data.Tranches[0].Index != 0 {
		t.Fatalf("tranche 0 = %+v", data.Tranches[0])
	}
	if data.Tranches[1].InterestRatePerSec != "42" || data.Tranches[1].Index != 1 {
		t.Fatalf("tranche 1 = %+v", data.Tranches[1])
	}
}

func TestDecoderRejectsForeignTopic(t *testing.T) {
	decoder, err := NewDecoder(&stubLister{})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	log := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	if decoder.CanDecode(log) {
		t.Fatalf("foreign topic must not be decodable")
	}
	if _, err := decoder.Decode(context.Background(), log, 0); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTopicsCoverEveryEvent(t *testing.T) {
	decoder, err := NewDecoder(&stubLister{})
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	if got, want := len(decoder.Topics()), len(eventNames); got != want {
		t.Fatalf("topic count = %d, want %d", got, want)
	}
}
