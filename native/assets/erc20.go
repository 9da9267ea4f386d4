package assets

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals is assumed for tokens that do not expose decimals().
const DefaultDecimals uint8 = 18

// ERC20ABI is the subset of the ERC20 interface used for the capability check.
const ERC20ABI = `[
 {"constant":true,"inputs":[],"name":"totalSupply","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
 {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// ErrNotAValidToken is returned when a contract fails the ERC20 capability check.
var ErrNotAValidToken = errors.New("assets: not a valid token")

var erc20ABI = mustParseABI(ERC20ABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("assets: parse erc20 abi: %v", err))
	}
	return parsed
}

// ContractCaller is the read-only contract call surface of an EVM node.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Asset describes an admitted ERC20 payment asset.
type Asset struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

func call(ctx context.Context, caller ContractCaller, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return erc20ABI.Unpack(method, raw)
}

// Inspect checks that the contract at token answers totalSupply() and
// balanceOf(address) with uint256 results. decimals() and symbol() are read
// when available.
func Inspect(ctx context.Context, caller ContractCaller, token common.Address) (*Asset, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: no contract caller configured", ErrNotAValidToken)
	}
	if (token == common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrNotAValidToken)
	}
	out, err := call(ctx, caller, token, "totalSupply")
	if err != nil || len(out) != 1 {
		return nil, fmt.Errorf("%w: totalSupply: %v", ErrNotAValidToken, err)
	}
	if _, ok := out[0].(*big.Int); !ok {
		return nil, fmt.Errorf("%w: totalSupply returned %T", ErrNotAValidToken, out[0])
	}
	out, err = call(ctx, caller, token, "balanceOf", common.Address{})
	if err != nil || len(out) != 1 {
		return nil, fmt.Errorf("%w: balanceOf: %v", ErrNotAValidToken, err)
	}
	if _, ok := out[0].(*big.Int); !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", ErrNotAValidToken, out[0])
	}
	asset := &Asset{Address: token, Decimals: DefaultDecimals}
	if out, err := call(ctx, caller, token, "decimals"); err == nil && len(out) == 1 {
		if dec, ok := out[0].(uint8); ok {
			asset.Decimals = dec
		}
	}
	if out, err := call(ctx, caller, token, "symbol"); err == nil && len(out) == 1 {
		if sym, ok := out[0].(string); ok {
			asset.Symbol = sym
		}
	}
	return asset, nil
}
