package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"dropmarket/native/bank"
	"dropmarket/native/catalog"
	"dropmarket/native/coupon"
	"dropmarket/native/settlement"
)

const maxBodyBytes = 1 << 20

type mintBody struct {
	URI           string                `json:"uri"`
	Price         uint64                `json:"price"`
	CommissionBps uint64                `json:"commissionBps"`
	Quantity      uint64                `json:"quantity"`
	Kind          string                `json:"kind"`
	Issuer        common.Address        `json:"issuer"`
	Beneficiaries []catalog.Beneficiary `json:"beneficiaries"`
	Publishable   bool                  `json:"publishable"`
	RoyaltyBps    uint64                `json:"royaltyBps"`
}

type listingBody struct {
	Price         uint64                `json:"price"`
	CommissionBps uint64                `json:"commissionBps"`
	Beneficiaries []catalog.Beneficiary `json:"beneficiaries"`
}

type transferBody struct {
	To       common.Address `json:"to"`
	Quantity uint64         `json:"quantity"`
}

type couponBody struct {
	SecretHash   common.Hash `json:"secretHash"`
	IsPercentage bool        `json:"isPercentage"`
	Value        uint64      `json:"value"`
}

type requestBody struct {
	Producer common.Address `json:"producer"`
	TokenID  uint64         `json:"tokenId"`
}

type assetBody struct {
	Address common.Address `json:"address"`
}

type feeBody struct {
	FeeBps uint64 `json:"feeBps"`
}

type heartbeatBody struct {
	Seconds uint64 `json:"seconds"`
}

type treasuryBody struct {
	Treasury common.Address `json:"treasury"`
}

type ownerBody struct {
	Owner common.Address `json:"owner"`
}

type fundBody struct {
	Asset  common.Address `json:"asset"`
	Holder common.Address `json:"holder"`
	Amount *big.Int       `json:"amount"`
}

type roundBody struct {
	Answer *big.Int `json:"answer"`
}

type proofBody struct {
	SecretHash common.Hash   `json:"secretHash"`
	Payload    hexutil.Bytes `json:"payload"`
}

type tbdBody struct {
	Receiver common.Address `json:"receiver"`
	Amount   uint64         `json:"amount"`
}

type purchaseBody struct {
	Shop    common.Address        `json:"shop"`
	RoundID *big.Int              `json:"roundId"`
	Asset   common.Address        `json:"asset"`
	TBD     []tbdBody             `json:"tbd"`
	Items   []settlement.CartItem `json:"items"`
	Coupon  *proofBody            `json:"coupon,omitempty"`
	Memo    string                `json:"memo"`
	Payment *big.Int              `json:"payment"`
}

func (b *purchaseBody) request(buyer common.Address) *settlement.PurchaseRequest {
	req := &settlement.PurchaseRequest{
		Buyer:   buyer,
		Shop:    b.Shop,
		RoundID: b.RoundID,
		Asset:   b.Asset,
		Items:   b.Items,
		Memo:    b.Memo,
		Payment: b.Payment,
	}
	for _, entry := range b.TBD {
		req.TBDAmounts = append(req.TBDAmounts, entry.Amount)
		req.TBDReceivers = append(req.TBDReceivers, entry.Receiver)
	}
	if b.Coupon != nil {
		req.Coupon = coupon.Proof{Provided: true, SecretHash: b.Coupon.SecretHash, Payload: b.Coupon.Payload}
	}
	if req.Payment == nil {
		req.Payment = new(big.Int)
	}
	return req
}

type idResult struct {
	ID uint64 `json:"id"`
}

type tokenIDResult struct {
	TokenID uint64 `json:"tokenId"`
}

type issuerResult struct {
	Issuer common.Address `json:"issuer"`
}

type balanceResult struct {
	Holder  common.Address `json:"holder"`
	Asset   common.Address `json:"asset"`
	Balance *big.Int       `json:"balance"`
}

type unitBalanceResult struct {
	Owner   common.Address `json:"owner"`
	TokenID uint64         `json:"tokenId"`
	Units   uint64         `json:"units"`
}

type idsResult struct {
	IDs []uint64 `json:"ids"`
}

type membershipResult struct {
	Requested bool `json:"requested"`
}

type adminResult struct {
	Owner            common.Address `json:"owner"`
	Treasury         common.Address `json:"treasury"`
	FeeBps           uint64         `json:"feeBps"`
	HeartbeatSeconds uint64         `json:"heartbeatSeconds"`
}

type rootResult struct {
	Root common.Hash `json:"root"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an unsigned integer", errBadRequest, name)
	}
	return value, nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, chi.URLParam(r, name))
}

func parseAddress(name, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, name)
	}
	return common.HexToAddress(raw), nil
}

// assetParam accepts "native" for the chain currency.
func assetParam(r *http.Request, name string) (common.Address, error) {
	if strings.EqualFold(strings.TrimSpace(chi.URLParam(r, name)), "native") {
		return bank.Native, nil
	}
	return addressParam(r, name)
}

func hashParam(r *http.Request, name string) (common.Hash, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	decoded, err := hexutil.Decode(raw)
	if err != nil || len(decoded) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s must be a 32-byte hex hash", errBadRequest, name)
	}
	return common.BytesToHash(decoded), nil
}
