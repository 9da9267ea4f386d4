package settlement

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/core/events"
	"dropmarket/core/pricing"
	"dropmarket/core/types"
	"dropmarket/native/affiliate"
	"dropmarket/native/assets"
	"dropmarket/native/bank"
	"dropmarket/native/catalog"
	"dropmarket/native/coupon"
)

const (
	EventTypePurchase = "settlement.purchase"
	EventTypePayout   = "settlement.payout"
)

const bpsDenominator = 10_000

var (
	receiptSeqKey = []byte("settlement/receipt-seq")
	receiptPrefix = []byte("settlement/receipt/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextSequence(key []byte) (uint64, error)
}

type catalogSource interface {
	Metadata(tokenID uint64, owner common.Address) (*catalog.Listing, bool, error)
	Product(tokenID uint64) (*catalog.Product, bool, error)
	BalanceOf(owner common.Address, tokenID uint64) (uint64, error)
	TransferUnits(from, to common.Address, tokenID, qty uint64) error
}

type requestSource interface {
	AcceptedRequests(publisher common.Address, tokenID uint64) ([]*affiliate.Request, error)
}

type couponSource interface {
	Validate(proof coupon.Proof) (*coupon.Coupon, error)
	Redeem(proof coupon.Proof) (*coupon.Coupon, error)
}

type assetSource interface {
	Asset(addr common.Address) (*assets.Asset, bool, error)
}

type paymentLedger interface {
	Balance(asset, holder common.Address) (*big.Int, error)
	Transfer(asset, from, to common.Address, amount *big.Int) error
}

// Engine computes and executes purchase settlements.
type Engine struct {
	state    engineState
	catalog  catalogSource
	requests requestSource
	coupons  couponSource
	assets   assetSource
	bank     paymentLedger
	config   Config
	emitter  events.Emitter
}

// NewEngine constructs a settlement engine over its collaborators.
func NewEngine(cat catalogSource, requests requestSource, coupons couponSource, allowList assetSource, ledger paymentLedger) *Engine {
	return &Engine{
		catalog:  cat,
		requests: requests,
		coupons:  coupons,
		assets:   allowList,
		bank:     ledger,
		emitter:  events.NoopEmitter{},
	}
}

// SetState configures the state backend used for receipts.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetConfig replaces the platform configuration.
func (e *Engine) SetConfig(cfg Config) { e.config = cfg }

// Config returns the platform configuration.
func (e *Engine) Config() Config { return e.config }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.catalog == nil || e.requests == nil || e.coupons == nil || e.assets == nil || e.bank == nil {
		return errNotConfigured
	}
	return nil
}

func bpsOf(amount *big.Int, bps uint64) *big.Int {
	if bps == 0 || amount.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

func cents(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func mulCents(price, qty uint64) (uint64, error) {
	total := new(big.Int).Mul(cents(price), cents(qty))
	if !total.IsUint64() {
		return 0, fmt.Errorf("%w: %d * %d", ErrPriceOverflow, price, qty)
	}
	return total.Uint64(), nil
}

// converter selects the conversion for the payment asset. The native rate
// is only consulted for native payments.
func (e *Engine) converter(asset common.Address, nativeRate pricing.Converter) (pricing.Converter, error) {
	if asset == bank.Native {
		if nativeRate == nil {
			return nil, fmt.Errorf("%w: no native rate", pricing.ErrPriceUnavailable)
		}
		return nativeRate, nil
	}
	admitted, ok, err := e.assets.Asset(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", assets.ErrAssetNotAllowed, asset.Hex())
	}
	return pricing.TokenRate{Decimals: admitted.Decimals}, nil
}

type holding struct {
	owner   common.Address
	tokenID uint64
}

type resolvedLine struct {
	line    Line
	listing *catalog.Listing
	product *catalog.Product
}

// affiliateSeller picks the first producer that accepted shop's request for
// the item and can still fill it from a listing. When none can, the error of
// the first accepted producer is returned.
func (e *Engine) affiliateSeller(shop common.Address, used map[holding]uint64, item CartItem) (common.Address, error) {
	accepted, err := e.requests.AcceptedRequests(shop, item.TokenID)
	if err != nil {
		return common.Address{}, err
	}
	if len(accepted) == 0 {
		return common.Address{}, fmt.Errorf("%w: publisher %s token %d", ErrAffiliateNotApproved, shop.Hex(), item.TokenID)
	}
	var first error
	for _, request := range accepted {
		_, ok, err := e.catalog.Metadata(item.TokenID, request.Producer)
		if err != nil {
			return common.Address{}, err
		}
		if !ok {
			if first == nil {
				first = fmt.Errorf("%w: token %d by %s", catalog.ErrListingNotFound, item.TokenID, request.Producer.Hex())
			}
			continue
		}
		units, err := e.catalog.BalanceOf(request.Producer, item.TokenID)
		if err != nil {
			return common.Address{}, err
		}
		if units >= used[holding{owner: request.Producer, tokenID: item.TokenID}]+item.Quantity {
			return request.Producer, nil
		}
		if first == nil {
			first = fmt.Errorf("%w: %s holds %d of token %d", catalog.ErrInsufficientSupply, request.Producer.Hex(), units, item.TokenID)
		}
	}
	return common.Address{}, first
}

func (e *Engine) resolve(req *PurchaseRequest, used map[holding]uint64, item CartItem) (*resolvedLine, error) {
	if item.Quantity == 0 {
		return nil, fmt.Errorf("%w: token %d", catalog.ErrInvalidQuantity, item.TokenID)
	}
	seller := req.Shop
	var publisher common.Address
	if item.IsAffiliate {
		producer, err := e.affiliateSeller(req.Shop, used, item)
		if err != nil {
			return nil, err
		}
		seller = producer
		publisher = req.Shop
	}
	listing, ok, err := e.catalog.Metadata(item.TokenID, seller)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: token %d by %s", catalog.ErrListingNotFound, item.TokenID, seller.Hex())
	}
	product, ok, err := e.catalog.Product(item.TokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: token %d", catalog.ErrProductNotFound, item.TokenID)
	}
	key := holding{owner: seller, tokenID: item.TokenID}
	units, err := e.catalog.BalanceOf(seller, item.TokenID)
	if err != nil {
		return nil, err
	}
	if units < used[key]+item.Quantity {
		return nil, fmt.Errorf("%w: %s holds %d of token %d", catalog.ErrInsufficientSupply, seller.Hex(), units, item.TokenID)
	}
	used[key] += item.Quantity
	gross, err := mulCents(listing.Price, item.Quantity)
	if err != nil {
		return nil, err
	}
	return &resolvedLine{
		line: Line{
			TokenID:   item.TokenID,
			Quantity:  item.Quantity,
			Affiliate: item.IsAffiliate,
			Seller:    seller,
			Publisher: publisher,
			Gross:     gross,
			Net:       gross,
		},
		listing: listing,
		product: product,
	}, nil
}

// Quote computes the settlement plan of req without mutating state. The
// plan total is the exact payment the purchase requires.
func (e *Engine) Quote(req *PurchaseRequest, nativeRate pricing.Converter) (*Plan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, ErrEmptyPurchase
	}
	if len(req.TBDAmounts) != len(req.TBDReceivers) {
		return nil, ErrTBDMismatch
	}
	if len(req.TBDAmounts) == 0 && len(req.Items) == 0 {
		return nil, ErrEmptyPurchase
	}
	conv, err := e.converter(req.Asset, nativeRate)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Asset: req.Asset, RoundID: req.RoundID, Total: new(big.Int)}
	add := func(kind PayoutKind, to common.Address, amount *big.Int, tokenID uint64) {
		if amount == nil || amount.Sign() == 0 {
			return
		}
		plan.Payouts = append(plan.Payouts, Payout{Kind: kind, Recipient: to, Amount: new(big.Int).Set(amount), TokenID: tokenID})
		plan.Total.Add(plan.Total, amount)
	}

	for i, amount := range req.TBDAmounts {
		receiver := req.TBDReceivers[i]
		if (receiver == common.Address{}) {
			return nil, fmt.Errorf("%w: tbd entry %d", ErrInvalidReceiver, i)
		}
		add(PayoutTBD, receiver, conv.Convert(cents(amount)), 0)
	}

	redeemed, err := e.coupons.Validate(req.Coupon)
	if err != nil {
		return nil, err
	}
	plan.Coupon = redeemed
	couponApplied := false

	used := make(map[holding]uint64)
	for _, item := range req.Items {
		resolved, err := e.resolve(req, used, item)
		if err != nil {
			return nil, err
		}
		line := &resolved.line
		if redeemed != nil && redeemed.Producer == line.Seller {
			if redeemed.IsPercentage || !couponApplied {
				line.Discount = redeemed.Discount(line.Gross)
				line.Net = line.Gross - line.Discount
			}
			couponApplied = true
		}
		lineAmount := conv.Convert(cents(line.Net))
		line.Amount = lineAmount

		fee := bpsOf(lineAmount, e.config.FeeBps)
		royalty := new(big.Int)
		if resolved.product.Issuer != line.Seller {
			royalty = bpsOf(lineAmount, resolved.product.RoyaltyBps)
		}
		commission := new(big.Int)
		if line.Affiliate {
			commission = bpsOf(lineAmount, resolved.listing.CommissionBps)
		}
		remainder := new(big.Int).Set(lineAmount)
		remainder.Sub(remainder, fee)
		remainder.Sub(remainder, royalty)
		remainder.Sub(remainder, commission)

		add(PayoutFee, e.config.Treasury, fee, line.TokenID)
		add(PayoutRoyalty, resolved.product.Issuer, royalty, line.TokenID)
		for _, b := range resolved.listing.Beneficiaries {
			var share *big.Int
			if b.IsPercentage {
				share = bpsOf(lineAmount, b.Value)
			} else {
				fixed, err := mulCents(b.Value, line.Quantity)
				if err != nil {
					return nil, err
				}
				share = conv.Convert(cents(fixed))
			}
			remainder.Sub(remainder, share)
			add(PayoutBeneficiary, b.Wallet, share, line.TokenID)
		}
		add(PayoutCommission, line.Publisher, commission, line.TokenID)
		if remainder.Sign() < 0 {
			return nil, fmt.Errorf("%w: token %d short by %s", ErrSharesExceedPrice, line.TokenID, new(big.Int).Neg(remainder))
		}
		add(PayoutSeller, line.Seller, remainder, line.TokenID)
		plan.Lines = append(plan.Lines, *line)
	}
	if redeemed != nil && !couponApplied {
		return nil, ErrCouponNotApplicable
	}
	return plan, nil
}

// Purchase settles req. The caller must run it inside a state transaction
// and revert on error; Purchase performs no compensation of its own.
func (e *Engine) Purchase(req *PurchaseRequest, nativeRate pricing.Converter) (*Receipt, error) {
	plan, err := e.Quote(req, nativeRate)
	if err != nil {
		return nil, err
	}
	payment := req.Payment
	if payment == nil {
		payment = new(big.Int)
	}
	if plan.Total.Cmp(payment) != 0 {
		return nil, fmt.Errorf("%w: payouts total %s, attached %s", ErrPaymentMismatch, plan.Total, payment)
	}
	balance, err := e.bank.Balance(req.Asset, req.Buyer)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(payment) < 0 {
		return nil, fmt.Errorf("%w: %s holds %s, needs %s", bank.ErrInsufficientFunds, req.Buyer.Hex(), balance, payment)
	}
	if plan.Coupon != nil {
		if _, err := e.coupons.Redeem(req.Coupon); err != nil {
			return nil, err
		}
	}
	for _, line := range plan.Lines {
		if err := e.catalog.TransferUnits(line.Seller, req.Buyer, line.TokenID, line.Quantity); err != nil {
			return nil, err
		}
	}
	for _, payout := range plan.Payouts {
		if err := e.bank.Transfer(req.Asset, req.Buyer, payout.Recipient, payout.Amount); err != nil {
			return nil, err
		}
	}
	id, err := e.state.NextSequence(receiptSeqKey)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		ID:      id,
		Buyer:   req.Buyer,
		Shop:    req.Shop,
		Asset:   req.Asset,
		RoundID: req.RoundID,
		Lines:   plan.Lines,
		Payouts: plan.Payouts,
		Total:   plan.Total,
		Memo:    req.Memo,
	}
	if err := e.state.KVPut(receiptKey(id), receipt); err != nil {
		return nil, err
	}
	for _, payout := range receipt.Payouts {
		e.emitter.Emit(types.NewEvent(EventTypePayout,
			"receipt", strconv.FormatUint(id, 10),
			"kind", string(payout.Kind),
			"recipient", payout.Recipient.Hex(),
			"amount", payout.Amount.String(),
			"tokenId", strconv.FormatUint(payout.TokenID, 10),
		))
	}
	e.emitter.Emit(types.NewEvent(EventTypePurchase,
		"receipt", strconv.FormatUint(id, 10),
		"buyer", req.Buyer.Hex(),
		"shop", req.Shop.Hex(),
		"asset", req.Asset.Hex(),
		"total", receipt.Total.String(),
		"memo", req.Memo,
	))
	return receipt, nil
}

func receiptKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte{}, receiptPrefix...), buf[:]...)
}

// Receipt returns a stored purchase receipt.
func (e *Engine) Receipt(id uint64) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNotConfigured
	}
	receipt := new(Receipt)
	ok, err := e.state.KVGet(receiptKey(id), receipt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}
