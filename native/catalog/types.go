package catalog

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// MaxBps is the basis-point denominator used for every percentage field.
const MaxBps = 10_000

// ProductKind classifies how a product is fulfilled.
type ProductKind uint8

const (
	KindDigital ProductKind = iota
	KindPOD
	KindPhysical
)

func (k ProductKind) String() string {
	switch k {
	case KindDigital:
		return "DIGITAL"
	case KindPOD:
		return "POD"
	case KindPhysical:
		return "PHYSICAL"
	default:
		return fmt.Sprintf("ProductKind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known product kind.
func (k ProductKind) Valid() bool { return k <= KindPhysical }

// ParseProductKind accepts the canonical names case-insensitively.
func ParseProductKind(s string) (ProductKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DIGITAL", "":
		return KindDigital, nil
	case "POD":
		return KindPOD, nil
	case "PHYSICAL":
		return KindPhysical, nil
	}
	return 0, fmt.Errorf("catalog: unknown product kind %q", s)
}

// Beneficiary is a third-party payee of a listing. Percentage values are
// basis points of the line price; fixed values are cents per unit.
type Beneficiary struct {
	IsPercentage bool           `json:"isPercentage"`
	Value        uint64         `json:"value"`
	Wallet       common.Address `json:"wallet"`
}

// Product is the immutable issuance record of a token id.
type Product struct {
	TokenID     uint64         `json:"tokenId"`
	Fingerprint common.Hash    `json:"fingerprint"`
	URI         string         `json:"uri"`
	Issuer      common.Address `json:"issuer"`
	RoyaltyBps  uint64         `json:"royaltyBps"`
	Kind        ProductKind    `json:"kind"`
	Supply      uint64         `json:"supply"`
}

// Listing is the sellable configuration of a token id held by one owner.
type Listing struct {
	TokenID       uint64         `json:"tokenId"`
	Owner         common.Address `json:"owner"`
	Price         uint64         `json:"price"`
	CommissionBps uint64         `json:"commissionBps"`
	Kind          ProductKind    `json:"kind"`
	Beneficiaries []Beneficiary  `json:"beneficiaries"`
	Publishable   bool           `json:"publishable"`
}

// MintParams carries the arguments of a mint.
type MintParams struct {
	URI           string
	Price         uint64
	CommissionBps uint64
	Quantity      uint64
	Owner         common.Address
	Kind          ProductKind
	Issuer        common.Address
	Beneficiaries []Beneficiary
	Publishable   bool
	RoyaltyBps    uint64
}

// Fingerprint derives the content fingerprint of a metadata URI.
func Fingerprint(uri string) common.Hash {
	return fingerprintOf(strings.TrimSpace(uri))
}
