package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/core/state"
	"dropmarket/storage"
)

func newLedger(t *testing.T) (*Ledger, *state.Manager) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	return NewLedger(mgr), mgr
}

func addr(last byte) common.Address {
	var out common.Address
	out[19] = last
	return out
}

func TestCreditAndTransfer(t *testing.T) {
	ledger, _ := newLedger(t)
	alice, bob := addr(1), addr(2)
	if err := ledger.Credit(Native, alice, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(Native, alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := ledger.Balance(Native, alice)
	b, _ := ledger.Balance(Native, bob)
	if a.Int64() != 70 || b.Int64() != 30 {
		t.Fatalf("balances alice=%s bob=%s", a, b)
	}
	supply, _ := ledger.Supply(Native)
	if supply.Int64() != 100 {
		t.Fatalf("supply = %s, want 100", supply)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	ledger, _ := newLedger(t)
	err := ledger.Transfer(Native, addr(1), addr(2), big.NewInt(1))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestZeroAndNegativeAmounts(t *testing.T) {
	ledger, _ := newLedger(t)
	if err := ledger.Transfer(Native, addr(1), addr(2), big.NewInt(0)); err != nil {
		t.Fatalf("zero transfer should be a no-op: %v", err)
	}
	if err := ledger.Credit(Native, addr(1), big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAssetsAreIsolated(t *testing.T) {
	ledger, _ := newLedger(t)
	token := addr(0xee)
	if err := ledger.Credit(token, addr(1), big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	native, _ := ledger.Balance(Native, addr(1))
	if native.Sign() != 0 {
		t.Fatalf("token credit leaked into native balance")
	}
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	ledger, _ := newLedger(t)
	if err := ledger.Credit(Native, addr(1), big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(Native, addr(1), addr(1), big.NewInt(10)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	bal, _ := ledger.Balance(Native, addr(1))
	if bal.Int64() != 10 {
		t.Fatalf("balance = %s after self transfer", bal)
	}
}

func TestCreditRejectsSupplyOverflow(t *testing.T) {
	ledger, _ := newLedger(t)
	ceiling := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := ledger.Credit(Native, addr(1), ceiling); err != nil {
		t.Fatalf("credit max: %v", err)
	}
	if err := ledger.Credit(Native, addr(2), big.NewInt(1)); !errors.Is(err, ErrSupplyOverflow) {
		t.Fatalf("expected ErrSupplyOverflow, got %v", err)
	}
	bal, err := ledger.Balance(Native, addr(2))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Sign() != 0 {
		t.Fatalf("overflowing credit must not land, got %s", bal)
	}
}
