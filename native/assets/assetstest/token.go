// Package assetstest provides an in-memory ERC20 contract for tests.
package assetstest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"dropmarket/native/assets"
)

// Chain answers ERC20 view calls for the registered token contracts. Calls to
// any other address fail like calls to an account without code.
type Chain struct {
	abi    abi.ABI
	tokens map[common.Address]Token
	calls  int
}

// Token is the view state of a fake ERC20 contract.
type Token struct {
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
	// NoDecimals makes decimals() revert.
	NoDecimals bool
}

// NewChain returns an empty fake chain.
func NewChain() *Chain {
	parsed, err := abi.JSON(strings.NewReader(assets.ERC20ABI))
	if err != nil {
		panic(err)
	}
	return &Chain{abi: parsed, tokens: make(map[common.Address]Token)}
}

// Deploy registers a token contract at addr.
func (c *Chain) Deploy(addr common.Address, token Token) {
	if token.TotalSupply == nil {
		token.TotalSupply = big.NewInt(0)
	}
	c.tokens[addr] = token
}

// Calls reports how many contract calls were served.
func (c *Chain) Calls() int { return c.calls }

// CallContract implements assets.ContractCaller.
func (c *Chain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls++
	if call.To == nil {
		return nil, errors.New("missing contract address")
	}
	token, ok := c.tokens[*call.To]
	if !ok {
		return nil, nil
	}
	if len(call.Data) < 4 {
		return nil, errors.New("execution reverted")
	}
	method, err := c.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("execution reverted: %w", err)
	}
	switch method.Name {
	case "totalSupply":
		return method.Outputs.Pack(token.TotalSupply)
	case "balanceOf":
		return method.Outputs.Pack(big.NewInt(0))
	case "decimals":
		if token.NoDecimals {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(token.Decimals)
	case "symbol":
		return method.Outputs.Pack(token.Symbol)
	}
	return nil, errors.New("execution reverted")
}
