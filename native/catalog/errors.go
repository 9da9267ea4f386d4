package catalog

import "errors"

var (
	ErrCannotChangeMetadata = errors.New("catalog: cannot change metadata")
	ErrProductNotFound      = errors.New("catalog: product not found")
	ErrListingNotFound      = errors.New("catalog: listing not found")
	ErrInsufficientSupply   = errors.New("catalog: insufficient supply")
	ErrInvalidQuantity      = errors.New("catalog: quantity must be positive")
	ErrInvalidBps           = errors.New("catalog: basis points exceed 10000")
	ErrInvalidURI           = errors.New("catalog: metadata uri required")
	ErrInvalidKind          = errors.New("catalog: unknown product kind")
	ErrNotHolder            = errors.New("catalog: owner holds no units")
	ErrBeneficiaryNotFound  = errors.New("catalog: beneficiary not found")
	ErrSupplyOverflow       = errors.New("catalog: unit supply overflows")
	errNilState             = errors.New("catalog: state not configured")
)
