package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	marketerrors "dropmarket/core/errors"
	"dropmarket/core/pricing"
	"dropmarket/native/affiliate"
	"dropmarket/native/assets"
	"dropmarket/native/bank"
	"dropmarket/native/catalog"
	"dropmarket/native/coupon"
	"dropmarket/native/settlement"
)

// ErrorBody is the envelope of every failed response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var (
	errBadRequest = errors.New("bad request")
	errNoCaller   = errors.New("caller required")
)

var statusTable = []struct {
	status int
	errs   []error
}{
	{http.StatusBadRequest, []error{
		errBadRequest,
		catalog.ErrInvalidQuantity,
		catalog.ErrInvalidBps,
		catalog.ErrInvalidURI,
		catalog.ErrInvalidKind,
		coupon.ErrInvalidValue,
		affiliate.ErrSelfRequest,
		settlement.ErrTBDMismatch,
		settlement.ErrEmptyPurchase,
		settlement.ErrInvalidReceiver,
		marketerrors.ErrInvalidFee,
		marketerrors.ErrInvalidAddress,
		marketerrors.ErrInvalidAmount,
		bank.ErrInvalidAmount,
	}},
	{http.StatusUnauthorized, []error{errNoCaller}},
	{http.StatusForbidden, []error{
		marketerrors.ErrUnauthorized,
		affiliate.ErrAccessDenied,
		coupon.ErrAccessDenied,
		catalog.ErrNotHolder,
	}},
	{http.StatusNotFound, []error{
		catalog.ErrProductNotFound,
		catalog.ErrListingNotFound,
		catalog.ErrBeneficiaryNotFound,
		affiliate.ErrRequestNotFound,
		coupon.ErrCouponNotFound,
		settlement.ErrReceiptNotFound,
	}},
	{http.StatusConflict, []error{
		catalog.ErrCannotChangeMetadata,
		affiliate.ErrAlreadyRequested,
		affiliate.ErrRequestIsAccepted,
		coupon.ErrCouponAlreadyAdded,
		coupon.ErrCouponAlreadyUsed,
		assets.ErrAssetAlreadyAllowed,
		marketerrors.ErrManualFeedAbsent,
	}},
	{http.StatusUnprocessableEntity, []error{
		settlement.ErrPaymentMismatch,
		settlement.ErrSharesExceedPrice,
		settlement.ErrCouponNotApplicable,
		settlement.ErrAffiliateNotApproved,
		assets.ErrAssetNotAllowed,
		assets.ErrNotAValidToken,
		bank.ErrInsufficientFunds,
		bank.ErrSupplyOverflow,
		catalog.ErrSupplyOverflow,
		settlement.ErrPriceOverflow,
		catalog.ErrInsufficientSupply,
		coupon.ErrInvalidCouponProof,
		affiliate.ErrNotPublishable,
	}},
	{http.StatusServiceUnavailable, []error{pricing.ErrPriceUnavailable}},
}

// statusOf maps a market error to its HTTP status. Unknown errors are
// internal failures.
func statusOf(err error) int {
	for _, entry := range statusTable {
		for _, target := range entry.errs {
			if errors.Is(err, target) {
				return entry.status
			}
		}
	}
	return http.StatusInternalServerError
}

func codeOf(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: message}})
}
