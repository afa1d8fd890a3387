package protocol

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"lendscope/internal/chain"
)

// View methods exposed by the pool registry contract.
const registryABIJSON = `[
  {"inputs": [{"name": "poolId", "type": "uint256"}, {"name": "trancheId", "type": "bytes16"}, {"name": "index", "type": "uint32"}], "name": "epochDetails", "outputs": [{"name": "price", "type": "uint256"}, {"name": "investFulfillment", "type": "uint256"}, {"name": "redeemFulfillment", "type": "uint256"}, {"name": "executed", "type": "bool"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "poolId", "type": "uint256"}], "name": "poolDetails", "outputs": [{"name": "totalReserve", "type": "uint256"}, {"name": "availableReserve", "type": "uint256"}, {"name": "maxReserve", "type": "uint256"}, {"name": "netAssetValue", "type": "uint256"}, {"name": "exists", "type": "bool"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "poolId", "type": "uint256"}, {"name": "trancheId", "type": "bytes16"}], "name": "trancheTokenSupply", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "poolId", "type": "uint256"}, {"name": "trancheId", "type": "bytes16"}], "name": "trancheTokenPrice", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "poolId", "type": "uint256"}, {"name": "trancheId", "type": "bytes16"}], "name": "trancheDebt", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"name": "poolId", "type": "uint256"}], "name": "poolTranches", "outputs": [{"name": "trancheIds", "type": "bytes16[]"}, {"name": "seniorities", "type": "uint8[]"}, {"name": "isResidual", "type": "bool[]"}, {"name": "interestRatesPerSec", "type": "uint256[]"}, {"name": "minRiskBuffers", "type": "uint256[]"}], "stateMutability": "view", "type": "function"}
]`

var (
	registryABI    abi.ABI
	registryOnce   sync.Once
	registryABIErr error
)

func getRegistryABI() (abi.ABI, error) {
	registryOnce.Do(func() {
		registryABI, registryABIErr = abi.JSON(strings.NewReader(registryABIJSON))
	})
	return registryABI, registryABIErr
}

// EthSource reads protocol state from the pool registry contract via
// eth_call against the latest block.
type EthSource struct {
	client   *chain.Client
	registry common.Address
}

func NewEthSource(client *chain.Client, registry common.Address) *EthSource {
	return &EthSource{client: client, registry: registry}
}

func (s *EthSource) EpochDetails(ctx context.Context, poolID, trancheID string, epochIndex int) (EpochDetails, bool, error) {
	pool, tranche, err := parseIDs(poolID, trancheID)
	if err != nil {
		return EpochDetails{}, false, err
	}

	values, err := s.call(ctx, "epochDetails", pool, tranche, uint32(epochIndex))
	if err != nil {
		return EpochDetails{}, false, err
	}
	if len(values) != 4 {
		return EpochDetails{}, false, fmt.Errorf("epochDetails return size %d", len(values))
	}
	executed, ok := values[3].(bool)
	if !ok {
		return EpochDetails{}, false, fmt.Errorf("epochDetails unexpected flag type %T", values[3])
	}
	if !executed {
		return EpochDetails{}, false, nil
	}

	details := EpochDetails{}
	if details.Price, ok = values[0].(*big.Int); !ok {
		return EpochDetails{}, false, fmt.Errorf("epochDetails unexpected price type %T", values[0])
	}
	if details.InvestFulfillment, ok = values[1].(*big.Int); !ok {
		return EpochDetails{}, false, fmt.Errorf("epochDetails unexpected rate type %T", values[1])
	}
	if details.RedeemFulfillment, ok = values[2].(*big.Int); !ok {
		return EpochDetails{}, false, fmt.Errorf("epochDetails unexpected rate type %T", values[2])
	}
	return details, true, nil
}

func (s *EthSource) PoolDetails(ctx context.Context, poolID string) (PoolDetails, bool, error) {
	pool, err := parsePoolID(poolID)
	if err != nil {
		return PoolDetails{}, false, err
	}

	values, err := s.call(ctx, "poolDetails", pool)
	if err != nil {
		return PoolDetails{}, false, err
	}
	if len(values) != 5 {
		return PoolDetails{}, false, fmt.Errorf("poolDetails return size %d", len(values))
	}
	exists, ok := values[4].(bool)
	if !ok || !exists {
		return PoolDetails{}, false, nil
	}

	details := PoolDetails{
		TotalReserve:     values[0].(*big.Int),
		AvailableReserve: values[1].(*big.Int),
		MaxReserve:       values[2].(*big.Int),
		NetAssetValue:    values[3].(*big.Int),
	}
	return details, true, nil
}

func (s *EthSource) TrancheSupply(ctx context.Context, poolID, trancheID string) (*big.Int, bool, error) {
	return s.singleValue(ctx, "trancheTokenSupply", poolID, trancheID)
}

func (s *EthSource) TranchePrice(ctx context.Context, poolID, trancheID string) (*big.Int, bool, error) {
	return s.singleValue(ctx, "trancheTokenPrice", poolID, trancheID)
}

func (s *EthSource) TrancheDebt(ctx context.Context, poolID, trancheID string) (*big.Int, bool, error) {
	return s.singleValue(ctx, "trancheDebt", poolID, trancheID)
}

func (s *EthSource) singleValue(ctx context.Context, method, poolID, trancheID string) (*big.Int, bool, error) {
	pool, tranche, err := parseIDs(poolID, trancheID)
	if err != nil {
		return nil, false, err
	}

	values, err := s.call(ctx, method, pool, tranche)
	if err != nil {
		return nil, false, err
	}
	if len(values) != 1 {
		return nil, false, fmt.Errorf("%s return size %d", method, len(values))
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, false, fmt.Errorf("%s unexpected type %T", method, values[0])
	}
	if value.Sign() == 0 {
		return nil, false, nil
	}
	return value, true, nil
}

// PoolTranches returns the pool's current tranche configuration in tranche
// index order.
func (s *EthSource) PoolTranches(ctx context.Context, poolID string) ([]TrancheConfig, error) {
	pool, err := parsePoolID(poolID)
	if err != nil {
		return nil, err
	}

	values, err := s.call(ctx, "poolTranches", pool)
	if err != nil {
		return nil, err
	}
	if len(values) != 5 {
		return nil, fmt.Errorf("poolTranches return size %d", len(values))
	}
	ids, ok := values[0].([][16]byte)
	if !ok {
		return nil, fmt.Errorf("poolTranches unexpected ids type %T", values[0])
	}
	seniorities, ok := values[1].([]uint8)
	if !ok {
		return nil, fmt.Errorf("poolTranches unexpected seniorities type %T", values[1])
	}
	residuals, ok := values[2].([]bool)
	if !ok {
		return nil, fmt.Errorf("poolTranches unexpected residuals type %T", values[2])
	}
	rates, ok := values[3].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("poolTranches unexpected rates type %T", values[3])
	}
	buffers, ok := values[4].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("poolTranches unexpected buffers type %T", values[4])
	}
	if len(seniorities) != len(ids) || len(residuals) != len(ids) || len(rates) != len(ids) || len(buffers) != len(ids) {
		return nil, fmt.Errorf("poolTranches mismatched array lengths")
	}

	tranches := make([]TrancheConfig, 0, len(ids))
	for i, id := range ids {
		tranches = append(tranches, TrancheConfig{
			TrancheID:          hexutil.Encode(id[:]),
			Seniority:          int(seniorities[i]),
			IsResidual:         residuals[i],
			InterestRatePerSec: rates[i],
			MinRiskBuffer:      buffers[i],
		})
	}
	return tranches, nil
}

func (s *EthSource) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if s.client == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	contractABI, err := getRegistryABI()
	if err != nil {
		return nil, err
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	to := s.registry
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := contractABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func parsePoolID(poolID string) (*big.Int, error) {
	pool, ok := new(big.Int).SetString(poolID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid pool id: %s", poolID)
	}
	return pool, nil
}

func parseIDs(poolID, trancheID string) (*big.Int, [16]byte, error) {
	var tranche [16]byte

	pool, err := parsePoolID(poolID)
	if err != nil {
		return nil, tranche, err
	}

	raw, err := hexutil.Decode(trancheID)
	if err != nil {
		return nil, tranche, fmt.Errorf("invalid tranche id: %s", trancheID)
	}
	if len(raw) != 16 {
		return nil, tranche, fmt.Errorf("invalid tranche id length: %s", trancheID)
	}
	copy(tranche[:], raw)
	return pool, tranche, nil
}
