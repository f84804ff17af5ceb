package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    int    // HTTP status code or custom error code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

// Bid and buy-now rejections. Returned to the caller as-is so a client can
// render the exact reason.
const (
	ErrBidTooLow               = 1003
	ErrAuctionClosed           = 1004
	ErrSelfBidForbidden        = 1010
	ErrBidderRejected          = 1011
	ErrUnverifiedBidder        = 1012
	ErrRatingTooLow            = 1013
	ErrNewBiddersDisallowed    = 1014
	ErrTiedBidMustBeHigher     = 1015
	ErrMustExceedOwnCurrentMax = 1016
	ErrUseBuyNowInstead        = 1017
	ErrBuyNowUnavailable       = 1018
	ErrInvalidAmount           = 1019
	ErrNotSeller               = 1020
)

const (
	ErrInvalidToken       = 1001
	ErrAuctionNotFound    = 1002
	ErrWebSocketUpgrade   = 1005
	ErrBadMessageFormat   = 1006
	ErrUnknownMessageType = 1007
	ErrRateLimited        = 1008
	ErrBidderNotFound     = 1009

	ErrIntegrity      = 2001
	ErrTryAgain       = 2002
	ErrInternalServer = 500
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError carrying the same code, so callers can write
// errors.Is(err, errors.New(errors.ErrBidTooLow, "")).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code != 0 && t.Code == e.Code
}

// ToJSON renders the error as an "error" frame for websocket clients.
func (e *AppError) ToJSON() string {
	payload := struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Code:    e.Code,
		Message: e.Message,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return `{"type": "error", "message": "Internal server error"}`
	}
	return string(raw)
}

// Wrapping utility
func Wrap(err error, message string) *AppError {
	code := 0
	var inner *AppError
	if stderrors.As(err, &inner) {
		code = inner.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// Error creation utility
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Code extracts the AppError code from err, or 0 if err carries none.
func Code(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return 0
}

// HasCode reports whether err carries the given AppError code anywhere in its
// chain.
func HasCode(err error, code int) bool {
	return Code(err) == code
}

// IsRejection reports whether err is a validation rejection, i.e. the request
// was understood and refused without touching state.
func IsRejection(err error) bool {
	switch Code(err) {
	case ErrBidTooLow, ErrAuctionClosed, ErrSelfBidForbidden, ErrBidderRejected,
		ErrUnverifiedBidder, ErrRatingTooLow, ErrNewBiddersDisallowed,
		ErrTiedBidMustBeHigher, ErrMustExceedOwnCurrentMax, ErrUseBuyNowInstead,
		ErrBuyNowUnavailable, ErrInvalidAmount, ErrNotSeller:
		return true
	}
	return false
}

// Cause returns the innermost AppError in err's chain, which carries the
// original code and message, or nil if there is none.
func Cause(err error) *AppError {
	var found *AppError
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			found = appErr
		}
		err = stderrors.Unwrap(err)
	}
	return found
}
