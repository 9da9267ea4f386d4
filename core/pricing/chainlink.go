package pricing

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AggregatorABI is the subset of the Chainlink AggregatorV3Interface used by
// ChainlinkFeed.
const AggregatorABI = `[
 {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"uint80","name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[
  {"internalType":"uint80","name":"roundId","type":"uint80"},
  {"internalType":"int256","name":"answer","type":"int256"},
  {"internalType":"uint256","name":"startedAt","type":"uint256"},
  {"internalType":"uint256","name":"updatedAt","type":"uint256"},
  {"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

// ContractCaller is the read-only contract call surface of an EVM node.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainlinkFeed reads rounds from an on-chain Chainlink aggregator.
type ChainlinkFeed struct {
	caller     ContractCaller
	aggregator common.Address
	abi        abi.ABI
}

// NewChainlinkFeed binds a feed to the aggregator deployed at address.
func NewChainlinkFeed(caller ContractCaller, aggregator common.Address) (*ChainlinkFeed, error) {
	if caller == nil {
		return nil, fmt.Errorf("chainlink feed: caller required")
	}
	if (aggregator == common.Address{}) {
		return nil, fmt.Errorf("chainlink feed: aggregator address required")
	}
	parsed, err := abi.JSON(strings.NewReader(AggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("chainlink feed: parse abi: %w", err)
	}
	return &ChainlinkFeed{caller: caller, aggregator: aggregator, abi: parsed}, nil
}

func (f *ChainlinkFeed) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := f.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := f.aggregator
	raw, err := f.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := f.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// Decimals implements RoundFeed.
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	out, err := f.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("decimals: unexpected output")
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", out[0])
	}
	return decimals, nil
}

// maxRoundID is the largest uint80 accepted by getRoundData.
var maxRoundID = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 80), big.NewInt(1))

// RoundData implements RoundFeed.
func (f *ChainlinkFeed) RoundData(ctx context.Context, roundID *big.Int) (Round, error) {
	if roundID == nil || roundID.Sign() < 0 || roundID.Cmp(maxRoundID) > 0 {
		return Round{}, fmt.Errorf("getRoundData: round id %v outside uint80", roundID)
	}
	out, err := f.call(ctx, "getRoundData", new(big.Int).Set(roundID))
	if err != nil {
		return Round{}, err
	}
	if len(out) != 5 {
		return Round{}, fmt.Errorf("getRoundData: unexpected output")
	}
	id, ok := out[0].(*big.Int)
	if !ok {
		return Round{}, fmt.Errorf("getRoundData: unexpected roundId type %T", out[0])
	}
	answer, ok := out[1].(*big.Int)
	if !ok {
		return Round{}, fmt.Errorf("getRoundData: unexpected answer type %T", out[1])
	}
	updatedAt, ok := out[3].(*big.Int)
	if !ok {
		return Round{}, fmt.Errorf("getRoundData: unexpected updatedAt type %T", out[3])
	}
	if updatedAt.Sign() == 0 {
		return Round{}, fmt.Errorf("getRoundData: round %s not found", roundID)
	}
	return Round{
		ID:        new(big.Int).Set(id),
		Answer:    new(big.Int).Set(answer),
		UpdatedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
	}, nil
}
