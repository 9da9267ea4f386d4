package catalog

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dropmarket/core/events"
	"dropmarket/core/state"
	"dropmarket/storage"
)

var (
	producer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	wallet   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestEngine(t *testing.T) (*Engine, *state.Manager, *events.Recorder) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	require.NoError(t, mgr.Begin())
	engine := NewEngine()
	engine.SetState(mgr)
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	return engine, mgr, rec
}

func digitalMint(owner common.Address, quantity uint64) MintParams {
	return MintParams{
		URI:           "ipfs://drop/1",
		Price:         100,
		CommissionBps: 2300,
		Quantity:      quantity,
		Owner:         owner,
		Kind:          KindDigital,
		Issuer:        owner,
		Publishable:   true,
		RoyaltyBps:    1000,
	}
}

func TestMintAssignsSequentialTokenIDs(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	first, err := engine.Mint(digitalMint(producer, 10))
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	params := digitalMint(producer, 1)
	params.URI = "ipfs://drop/2"
	second, err := engine.Mint(params)
	require.NoError(t, err)
	require.Equal(t, uint64(2), second)
}

func TestReMintAddsSupplyOnly(t *testing.T) {
	engine, _, rec := newTestEngine(t)
	id, err := engine.Mint(digitalMint(producer, 5000))
	require.NoError(t, err)

	again := digitalMint(producer, 5000)
	again.URI = "  ipfs://drop/1 "
	again.Price = 999
	again.RoyaltyBps = 9000
	again.Issuer = buyer
	reID, err := engine.Mint(again)
	require.NoError(t, err)
	require.Equal(t, id, reID)

	units, err := engine.BalanceOf(producer, id)
	require.NoError(t, err)
	require.Equal(t, uint64(10000), units)

	listing, ok, err := engine.Metadata(id, producer)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), listing.Price)
	require.Equal(t, uint64(2300), listing.CommissionBps)
	require.Equal(t, KindDigital, listing.Kind)
	require.True(t, listing.Publishable)

	product, ok, err := engine.Product(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1000), product.RoyaltyBps)
	require.Equal(t, producer, product.Issuer)
	require.Equal(t, uint64(10000), product.Supply)

	types := rec.Types()
	created := 0
	for _, typ := range types {
		if typ == EventTypeListingCreated {
			created++
		}
	}
	require.Equal(t, 1, created)
}

func TestReMintRejectsSupplyOverflow(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	id, err := engine.Mint(digitalMint(producer, ^uint64(0)-1))
	require.NoError(t, err)

	_, err = engine.Mint(digitalMint(buyer, 2))
	require.ErrorIs(t, err, ErrSupplyOverflow)

	product, ok, err := engine.Product(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ^uint64(0)-1, product.Supply)
}

func TestMintValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	cases := []struct {
		name   string
		mutate func(*MintParams)
		want   error
	}{
		{"empty uri", func(p *MintParams) { p.URI = "  " }, ErrInvalidURI},
		{"zero quantity", func(p *MintParams) { p.Quantity = 0 }, ErrInvalidQuantity},
		{"commission", func(p *MintParams) { p.CommissionBps = MaxBps + 1 }, ErrInvalidBps},
		{"royalty", func(p *MintParams) { p.RoyaltyBps = MaxBps + 1 }, ErrInvalidBps},
		{"kind", func(p *MintParams) { p.Kind = ProductKind(9) }, ErrInvalidKind},
		{"beneficiary bps", func(p *MintParams) {
			p.Beneficiaries = []Beneficiary{{IsPercentage: true, Value: MaxBps + 1, Wallet: wallet}}
		}, ErrInvalidBps},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := digitalMint(producer, 1)
			tc.mutate(&params)
			_, err := engine.Mint(params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSetMetadataAfterPurchase(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	id, err := engine.Mint(digitalMint(producer, 10))
	require.NoError(t, err)

	err = engine.SetMetadataAfterPurchase(buyer, id, 250, 0, nil)
	require.ErrorIs(t, err, ErrNotHolder)

	require.NoError(t, engine.TransferUnits(producer, buyer, id, 2))
	require.NoError(t, engine.SetMetadataAfterPurchase(buyer, id, 250, 500, []Beneficiary{{Value: 10, Wallet: wallet}}))

	listing, ok, err := engine.Metadata(id, buyer)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(250), listing.Price)
	require.Equal(t, KindDigital, listing.Kind)
	require.False(t, listing.Publishable)

	err = engine.SetMetadataAfterPurchase(buyer, id, 300, 0, nil)
	require.ErrorIs(t, err, ErrCannotChangeMetadata)

	err = engine.SetMetadataAfterPurchase(buyer, 77, 300, 0, nil)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestRemoveMetadataIsIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	id, err := engine.Mint(digitalMint(producer, 1))
	require.NoError(t, err)
	require.NoError(t, engine.RemoveMetadata(producer, id))
	require.NoError(t, engine.RemoveMetadata(producer, id))
	_, ok, err := engine.Metadata(id, producer)
	require.NoError(t, err)
	require.False(t, ok)

	units, err := engine.BalanceOf(producer, id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), units)
}

func TestBeneficiaryLookup(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	params := digitalMint(producer, 1)
	params.Beneficiaries = []Beneficiary{
		{IsPercentage: true, Value: 500, Wallet: wallet},
		{Value: 25, Wallet: buyer},
	}
	id, err := engine.Mint(params)
	require.NoError(t, err)

	list, err := engine.Beneficiaries(id, producer)
	require.NoError(t, err)
	require.Len(t, list, 2)

	second, err := engine.Beneficiary(id, producer, 1)
	require.NoError(t, err)
	require.Equal(t, buyer, second.Wallet)
	require.False(t, second.IsPercentage)

	_, err = engine.Beneficiary(id, producer, 2)
	require.ErrorIs(t, err, ErrBeneficiaryNotFound)
	_, err = engine.Beneficiaries(id, buyer)
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestTransferUnits(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	id, err := engine.Mint(digitalMint(producer, 3))
	require.NoError(t, err)

	err = engine.TransferUnits(producer, buyer, id, 4)
	require.ErrorIs(t, err, ErrInsufficientSupply)
	err = engine.TransferUnits(producer, buyer, id, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	require.NoError(t, engine.TransferUnits(producer, buyer, id, 3))
	left, err := engine.BalanceOf(producer, id)
	require.NoError(t, err)
	require.Zero(t, left)
	got, err := engine.BalanceOf(buyer, id)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestFingerprintIgnoresSurroundingWhitespace(t *testing.T) {
	if Fingerprint(" ipfs://a ") != Fingerprint("ipfs://a") {
		t.Fatalf("fingerprint should trim whitespace")
	}
	if Fingerprint("ipfs://a") == Fingerprint("ipfs://b") {
		t.Fatalf("distinct uris share a fingerprint")
	}
}
