package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient balance")
	ErrInvalidAmount     = errors.New("bank: amount must not be negative")
	ErrSupplyOverflow    = errors.New("bank: supply exceeds uint256")
	errNilState          = errors.New("bank: state not configured")
)

// Native selects the chain's native currency. Any other asset address refers
// to an admitted ERC20 contract.
var Native = common.Address{}

var (
	balancePrefix = []byte("bank/balance/")
	supplyPrefix  = []byte("bank/supply/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger keeps payment balances per (asset, holder).
type Ledger struct {
	state ledgerState
}

// NewLedger constructs a ledger over the supplied state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func balanceKey(asset, holder common.Address) []byte {
	buf := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	buf = append(buf, balancePrefix...)
	buf = append(buf, asset.Bytes()...)
	return append(buf, holder.Bytes()...)
}

func supplyKey(asset common.Address) []byte {
	return append(append([]byte{}, supplyPrefix...), asset.Bytes()...)
}

func (l *Ledger) load(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	if _, err := l.state.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// Balance returns the holder's balance of asset.
func (l *Ledger) Balance(asset, holder common.Address) (*big.Int, error) {
	return l.load(balanceKey(asset, holder))
}

// Supply returns the total amount of asset credited into the ledger.
func (l *Ledger) Supply(asset common.Address) (*big.Int, error) {
	return l.load(supplyKey(asset))
}

// Credit mints amount of asset to holder, increasing the tracked supply.
// Supplies are bounded by the EVM word size, so no balance can overflow.
func (l *Ledger) Credit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	balance, err := l.Balance(asset, holder)
	if err != nil {
		return err
	}
	supply, err := l.Supply(asset)
	if err != nil {
		return err
	}
	nextSupply := new(big.Int).Add(supply, amount)
	if _, overflow := uint256.FromBig(nextSupply); overflow {
		return fmt.Errorf("%w: %s", ErrSupplyOverflow, asset.Hex())
	}
	if err := l.state.KVPut(balanceKey(asset, holder), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return l.state.KVPut(supplyKey(asset), nextSupply)
}

// Transfer moves amount of asset between holders. Zero amounts are a no-op.
func (l *Ledger) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	fromBal, err := l.Balance(asset, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientFunds, from.Hex(), fromBal, amount)
	}
	if from == to {
		return nil
	}
	toBal, err := l.Balance(asset, to)
	if err != nil {
		return err
	}
	if err := l.state.KVPut(balanceKey(asset, from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.KVPut(balanceKey(asset, to), new(big.Int).Add(toBal, amount))
}
