package core

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/native/affiliate"
	"dropmarket/native/assets"
	"dropmarket/native/catalog"
	"dropmarket/native/coupon"
	"dropmarket/native/settlement"
)

// AdminState is the committed platform configuration.
type AdminState struct {
	Owner     common.Address `json:"owner"`
	Treasury  common.Address `json:"treasury"`
	FeeBps    uint64         `json:"feeBps"`
	Heartbeat time.Duration  `json:"heartbeat"`
}

// Admin returns the committed platform configuration.
func (o *Operator) Admin() AdminState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return AdminState{
		Owner:     o.owner,
		Treasury:  o.treasury,
		FeeBps:    o.feeBps,
		Heartbeat: time.Duration(o.heartbeat) * time.Second,
	}
}

// StateRoot returns the commitment over the committed market state. Hashing
// caches node hashes inside the trie, so it takes the write lock.
func (o *Operator) StateRoot() common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Root()
}

// Product returns the issuance record of tokenID.
func (o *Operator) Product(tokenID uint64) (*catalog.Product, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.Product(tokenID)
}

// TokenID resolves the token id assigned to a metadata URI.
func (o *Operator) TokenID(uri string) (uint64, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.TokenID(uri)
}

// Metadata returns the owner's listing of tokenID.
func (o *Operator) Metadata(tokenID uint64, owner common.Address) (*catalog.Listing, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.Metadata(tokenID, owner)
}

// Issuer returns the first minter of tokenID.
func (o *Operator) Issuer(tokenID uint64) (common.Address, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.Issuer(tokenID)
}

// Beneficiaries returns the beneficiary list of the owner's listing.
func (o *Operator) Beneficiaries(tokenID uint64, owner common.Address) ([]catalog.Beneficiary, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.Beneficiaries(tokenID, owner)
}

// Beneficiary returns a single beneficiary of the owner's listing.
func (o *Operator) Beneficiary(tokenID uint64, owner common.Address, index int) (catalog.Beneficiary, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.Beneficiary(tokenID, owner, index)
}

// UnitBalance returns the product units of tokenID held by owner.
func (o *Operator) UnitBalance(owner common.Address, tokenID uint64) (uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog.BalanceOf(owner, tokenID)
}

// Balance returns the payment balance of holder in asset.
func (o *Operator) Balance(asset, holder common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bank.Balance(asset, holder)
}

// Coupon returns the coupon committed to by hash.
func (o *Operator) Coupon(hash common.Hash) (*coupon.Coupon, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.coupons.Coupon(hash)
}

// Request returns an affiliate request.
func (o *Operator) Request(id uint64) (*affiliate.Request, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requests.Request(id)
}

// IncomingRequests lists the request ids addressed to producer.
func (o *Operator) IncomingRequests(producer common.Address) ([]uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requests.IncomingRequests(producer)
}

// OutgoingRequests lists the request ids published by publisher.
func (o *Operator) OutgoingRequests(publisher common.Address) ([]uint64, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requests.OutgoingRequests(publisher)
}

// IsProducerRequested reports producer index membership.
func (o *Operator) IsProducerRequested(producer common.Address, id uint64) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requests.IsProducerRequested(producer, id)
}

// IsPublisherRequested reports publisher index membership.
func (o *Operator) IsPublisherRequested(publisher common.Address, id uint64) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.requests.IsPublisherRequested(publisher, id)
}

// Assets lists the admitted ERC20 payment assets.
func (o *Operator) Assets() ([]*assets.Asset, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.assets.List()
}

// Receipt returns a settled purchase.
func (o *Operator) Receipt(id uint64) (*settlement.Receipt, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settlement.Receipt(id)
}
