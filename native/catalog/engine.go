package catalog

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"dropmarket/core/events"
	"dropmarket/core/types"
)

var (
	sequenceKey       = []byte("catalog/token-seq")
	fingerprintPrefix = []byte("catalog/fingerprint/")
	productPrefix     = []byte("catalog/product/")
	listingPrefix     = []byte("catalog/listing/")
	unitsPrefix       = []byte("catalog/units/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	NextSequence(key []byte) (uint64, error)
}

// Engine owns products, listings and product-unit balances.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine constructs a catalog engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func fingerprintOf(uri string) common.Hash {
	return ethcrypto.Keccak256Hash([]byte(uri))
}

func idBytes(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func join(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte{}, prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func productKey(id uint64) []byte { return join(productPrefix, idBytes(id)) }

func listingKey(id uint64, owner common.Address) []byte {
	return join(listingPrefix, idBytes(id), owner.Bytes())
}

func unitsKey(id uint64, owner common.Address) []byte {
	return join(unitsPrefix, idBytes(id), owner.Bytes())
}

func validateBeneficiaries(list []Beneficiary) error {
	for i, b := range list {
		if b.IsPercentage && b.Value > MaxBps {
			return fmt.Errorf("%w: beneficiary %d", ErrInvalidBps, i)
		}
		if (b.Wallet == common.Address{}) {
			return fmt.Errorf("catalog: beneficiary %d wallet required", i)
		}
	}
	return nil
}

// Mint resolves the token id of the content fingerprint, credits quantity
// units to the owner, freezes the issuance record on the first mint, and
// creates the owner's listing when absent. Re-minting never alters an
// existing product or listing.
func (e *Engine) Mint(p MintParams) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	uri := strings.TrimSpace(p.URI)
	if uri == "" {
		return 0, ErrInvalidURI
	}
	if p.Quantity == 0 {
		return 0, ErrInvalidQuantity
	}
	if p.CommissionBps > MaxBps || p.RoyaltyBps > MaxBps {
		return 0, ErrInvalidBps
	}
	if !p.Kind.Valid() {
		return 0, ErrInvalidKind
	}
	if err := validateBeneficiaries(p.Beneficiaries); err != nil {
		return 0, err
	}
	fp := fingerprintOf(uri)
	tokenID, found, err := e.TokenID(uri)
	if err != nil {
		return 0, err
	}
	var product Product
	if !found {
		tokenID, err = e.state.NextSequence(sequenceKey)
		if err != nil {
			return 0, err
		}
		if err := e.state.KVPut(join(fingerprintPrefix, fp.Bytes()), tokenID); err != nil {
			return 0, err
		}
		product = Product{
			TokenID:     tokenID,
			Fingerprint: fp,
			URI:         uri,
			Issuer:      p.Issuer,
			RoyaltyBps:  p.RoyaltyBps,
			Kind:        p.Kind,
		}
		e.emit(types.NewEvent(EventTypeProductCreated,
			"tokenId", strconv.FormatUint(tokenID, 10),
			"issuer", p.Issuer.Hex(),
			"royaltyBps", strconv.FormatUint(p.RoyaltyBps, 10),
			"uri", uri,
		))
	} else {
		ok, err := e.state.KVGet(productKey(tokenID), &product)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: token %d", ErrProductNotFound, tokenID)
		}
	}
	supply, carry := bits.Add64(product.Supply, p.Quantity, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: token %d", ErrSupplyOverflow, tokenID)
	}
	product.Supply = supply
	if err := e.state.KVPut(productKey(tokenID), &product); err != nil {
		return 0, err
	}
	if err := e.creditUnits(tokenID, p.Owner, p.Quantity); err != nil {
		return 0, err
	}
	exists, err := e.state.KVGet(listingKey(tokenID, p.Owner), nil)
	if err != nil {
		return 0, err
	}
	if !exists {
		listing := &Listing{
			TokenID:       tokenID,
			Owner:         p.Owner,
			Price:         p.Price,
			CommissionBps: p.CommissionBps,
			Kind:          p.Kind,
			Beneficiaries: append([]Beneficiary(nil), p.Beneficiaries...),
			Publishable:   p.Publishable,
		}
		if err := e.putListing(listing); err != nil {
			return 0, err
		}
	}
	e.emit(types.NewEvent(EventTypeMinted,
		"tokenId", strconv.FormatUint(tokenID, 10),
		"owner", p.Owner.Hex(),
		"quantity", strconv.FormatUint(p.Quantity, 10),
	))
	return tokenID, nil
}

func (e *Engine) putListing(listing *Listing) error {
	if err := e.state.KVPut(listingKey(listing.TokenID, listing.Owner), listing); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeListingCreated,
		"tokenId", strconv.FormatUint(listing.TokenID, 10),
		"owner", listing.Owner.Hex(),
		"price", strconv.FormatUint(listing.Price, 10),
		"commissionBps", strconv.FormatUint(listing.CommissionBps, 10),
	))
	return nil
}

// SetMetadataAfterPurchase lists units the owner acquired through a purchase.
// A listing may be created only once per (tokenId, owner) pair.
func (e *Engine) SetMetadataAfterPurchase(owner common.Address, tokenID uint64, price, commissionBps uint64, beneficiaries []Beneficiary) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	exists, err := e.state.KVGet(listingKey(tokenID, owner), nil)
	if err != nil {
		return err
	}
	if exists {
		return ErrCannotChangeMetadata
	}
	if commissionBps > MaxBps {
		return ErrInvalidBps
	}
	if err := validateBeneficiaries(beneficiaries); err != nil {
		return err
	}
	product, ok, err := e.Product(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrProductNotFound
	}
	units, err := e.BalanceOf(owner, tokenID)
	if err != nil {
		return err
	}
	if units == 0 {
		return ErrNotHolder
	}
	return e.putListing(&Listing{
		TokenID:       tokenID,
		Owner:         owner,
		Price:         price,
		CommissionBps: commissionBps,
		Kind:          product.Kind,
		Beneficiaries: append([]Beneficiary(nil), beneficiaries...),
	})
}

// RemoveMetadata clears the owner's listing. Removing a missing listing is a no-op.
func (e *Engine) RemoveMetadata(owner common.Address, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	key := listingKey(tokenID, owner)
	exists, err := e.state.KVGet(key, nil)
	if err != nil || !exists {
		return err
	}
	if err := e.state.KVDelete(key); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeListingRemoved,
		"tokenId", strconv.FormatUint(tokenID, 10),
		"owner", owner.Hex(),
	))
	return nil
}

// TokenID resolves the token id previously assigned to the metadata URI.
func (e *Engine) TokenID(uri string) (uint64, bool, error) {
	if e == nil || e.state == nil {
		return 0, false, errNilState
	}
	var id uint64
	ok, err := e.state.KVGet(join(fingerprintPrefix, Fingerprint(uri).Bytes()), &id)
	if err != nil || !ok {
		return 0, false, err
	}
	return id, true, nil
}

// Product returns the issuance record of tokenID.
func (e *Engine) Product(tokenID uint64) (*Product, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	product := new(Product)
	ok, err := e.state.KVGet(productKey(tokenID), product)
	if err != nil || !ok {
		return nil, false, err
	}
	return product, true, nil
}

// Issuer returns the address that performed the first mint of tokenID.
func (e *Engine) Issuer(tokenID uint64) (common.Address, error) {
	product, ok, err := e.Product(tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrProductNotFound
	}
	return product.Issuer, nil
}

// Metadata returns the owner's listing of tokenID.
func (e *Engine) Metadata(tokenID uint64, owner common.Address) (*Listing, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	listing := new(Listing)
	ok, err := e.state.KVGet(listingKey(tokenID, owner), listing)
	if err != nil || !ok {
		return nil, false, err
	}
	return listing, true, nil
}

// Beneficiaries returns the beneficiary list of the owner's listing.
func (e *Engine) Beneficiaries(tokenID uint64, owner common.Address) ([]Beneficiary, error) {
	listing, ok, err := e.Metadata(tokenID, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return append([]Beneficiary{}, listing.Beneficiaries...), nil
}

// Beneficiary returns the beneficiary at index of the owner's listing.
func (e *Engine) Beneficiary(tokenID uint64, owner common.Address, index int) (Beneficiary, error) {
	list, err := e.Beneficiaries(tokenID, owner)
	if err != nil {
		return Beneficiary{}, err
	}
	if index < 0 || index >= len(list) {
		return Beneficiary{}, ErrBeneficiaryNotFound
	}
	return list[index], nil
}

// BalanceOf returns the number of units of tokenID held by owner.
func (e *Engine) BalanceOf(owner common.Address, tokenID uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var units uint64
	if _, err := e.state.KVGet(unitsKey(tokenID, owner), &units); err != nil {
		return 0, err
	}
	return units, nil
}

func (e *Engine) creditUnits(tokenID uint64, owner common.Address, qty uint64) error {
	units, err := e.BalanceOf(owner, tokenID)
	if err != nil {
		return err
	}
	next, carry := bits.Add64(units, qty, 0)
	if carry != 0 {
		return fmt.Errorf("%w: %s token %d", ErrSupplyOverflow, owner.Hex(), tokenID)
	}
	return e.state.KVPut(unitsKey(tokenID, owner), next)
}

// TransferUnits moves qty units of tokenID between holders.
func (e *Engine) TransferUnits(from, to common.Address, tokenID, qty uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if qty == 0 {
		return ErrInvalidQuantity
	}
	units, err := e.BalanceOf(from, tokenID)
	if err != nil {
		return err
	}
	if units < qty {
		return fmt.Errorf("%w: %s holds %d of token %d, needs %d", ErrInsufficientSupply, from.Hex(), units, tokenID, qty)
	}
	if from == to {
		return nil
	}
	remaining := units - qty
	if remaining == 0 {
		err = e.state.KVDelete(unitsKey(tokenID, from))
	} else {
		err = e.state.KVPut(unitsKey(tokenID, from), remaining)
	}
	if err != nil {
		return err
	}
	if err := e.creditUnits(tokenID, to, qty); err != nil {
		return err
	}
	e.emit(types.NewEvent(EventTypeUnitsTransferred,
		"tokenId", strconv.FormatUint(tokenID, 10),
		"from", from.Hex(),
		"to", to.Hex(),
		"quantity", strconv.FormatUint(qty, 10),
	))
	return nil
}
