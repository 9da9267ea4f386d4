package settlement

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dropmarket/native/coupon"
)

var (
	ErrTBDMismatch          = errors.New("settlement: tbd amounts and receivers differ in length")
	ErrAffiliateNotApproved = errors.New("settlement: affiliate request not approved")
	ErrPaymentMismatch      = errors.New("settlement: attached payment does not match payouts")
	ErrSharesExceedPrice    = errors.New("settlement: shares exceed line price")
	ErrCouponNotApplicable  = errors.New("settlement: coupon matches no cart item")
	ErrPriceOverflow        = errors.New("settlement: line price overflows")
	ErrEmptyPurchase        = errors.New("settlement: purchase has no items or payouts")
	ErrInvalidReceiver      = errors.New("settlement: receiver required")
	ErrReceiptNotFound      = errors.New("settlement: receipt not found")
	errNotConfigured        = errors.New("settlement: engine not configured")
)

// PayoutKind labels the share a payout settles.
type PayoutKind string

const (
	PayoutTBD         PayoutKind = "tbd"
	PayoutFee         PayoutKind = "fee"
	PayoutRoyalty     PayoutKind = "royalty"
	PayoutBeneficiary PayoutKind = "beneficiary"
	PayoutCommission  PayoutKind = "commission"
	PayoutSeller      PayoutKind = "seller"
)

// CartItem is one line of a purchase.
type CartItem struct {
	TokenID     uint64 `json:"tokenId"`
	Quantity    uint64 `json:"quantity"`
	IsAffiliate bool   `json:"isAffiliate"`
}

// PurchaseRequest carries the arguments of a purchase. Asset is the payment
// token; the zero address selects the native currency. TBD amounts are
// expressed in cents.
type PurchaseRequest struct {
	Buyer        common.Address   `json:"buyer"`
	Shop         common.Address   `json:"shop"`
	RoundID      *big.Int         `json:"roundId"`
	Asset        common.Address   `json:"asset"`
	TBDAmounts   []uint64         `json:"tbdAmounts"`
	TBDReceivers []common.Address `json:"tbdReceivers"`
	Items        []CartItem       `json:"items"`
	Coupon       coupon.Proof     `json:"coupon"`
	Memo         string           `json:"memo"`
	Payment      *big.Int         `json:"payment"`
}

// Payout is a single transfer from the buyer.
type Payout struct {
	Kind      PayoutKind     `json:"kind"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
	TokenID   uint64         `json:"tokenId"`
}

// Line is the priced form of a cart item. Cent amounts are listing units;
// Amount is the converted payment-asset value of Net.
type Line struct {
	TokenID   uint64         `json:"tokenId"`
	Quantity  uint64         `json:"quantity"`
	Affiliate bool           `json:"affiliate"`
	Seller    common.Address `json:"seller"`
	Publisher common.Address `json:"publisher"`
	Gross     uint64         `json:"gross"`
	Discount  uint64         `json:"discount"`
	Net       uint64         `json:"net"`
	Amount    *big.Int       `json:"amount"`
}

// Plan is the computed settlement of a purchase.
type Plan struct {
	Asset   common.Address `json:"asset"`
	RoundID *big.Int       `json:"roundId"`
	Lines   []Line         `json:"lines"`
	Payouts []Payout       `json:"payouts"`
	Total   *big.Int       `json:"total"`
	Coupon  *coupon.Coupon `json:"coupon,omitempty"`
}

// Receipt is the persisted record of a settled purchase.
type Receipt struct {
	ID      uint64         `json:"id"`
	Buyer   common.Address `json:"buyer"`
	Shop    common.Address `json:"shop"`
	Asset   common.Address `json:"asset"`
	RoundID *big.Int       `json:"roundId"`
	Lines   []Line         `json:"lines"`
	Payouts []Payout       `json:"payouts"`
	Total   *big.Int       `json:"total"`
	Memo    string         `json:"memo"`
}

// Config is the platform configuration applied to every purchase.
type Config struct {
	FeeBps   uint64
	Treasury common.Address
}
