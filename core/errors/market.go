package errors

import stderrors "errors"

var (
	ErrUnauthorized     = stderrors.New("market: caller is not authorized")
	ErrInvalidFee       = stderrors.New("market: fee exceeds 10000 bps")
	ErrManualFeedAbsent = stderrors.New("market: price feed is not operator-published")
	ErrInvalidAddress   = stderrors.New("market: address required")
	ErrInvalidAmount    = stderrors.New("market: amount must be positive")
)
