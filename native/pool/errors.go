package pool

import (
	"errors"
)

// Error kinds surfaced by every pool operation. Concrete failures wrap one of
// these so callers can branch with errors.Is.
var (
	ErrAccessDenied        = errors.New("pool: access denied")
	ErrInsufficientBalance = errors.New("pool: insufficient balance")
	ErrAuthorizationFailed = errors.New("pool: authorization failed")
	ErrSlippageNotMet      = errors.New("pool: slippage not met")
	ErrExternalCallFailed  = errors.New("pool: external call failed")
	ErrArgumentMismatch    = errors.New("pool: argument mismatch")
	ErrInvalidArgument     = errors.New("pool: invalid argument")
)

// Authorization rejection reasons. Each one also matches
// ErrAuthorizationFailed.
var (
	ErrUnauthorizedSigner     error = &authError{reason: "unauthorized signer"}
	ErrInsufficientSignatures error = &authError{reason: "insufficient signatures"}
	ErrExpired                error = &authError{reason: "authorization expired"}
	ErrOrderReused            error = &authError{reason: "order already consumed"}
)

var (
	errNilState      = errors.New("pool engine: state not configured")
	errNilAssets     = errors.New("pool engine: asset ledger not configured")
	errInitialized   = errors.New("pool engine: already initialized")
	errUninitialized = errors.New("pool engine: not initialized")
)

type authError struct {
	reason string
}

func (e *authError) Error() string { return "pool: authorization failed: " + e.reason }

func (e *authError) Unwrap() error { return ErrAuthorizationFailed }

var kinds = []struct {
	err  error
	name string
}{
	{ErrAccessDenied, "access_denied"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrAuthorizationFailed, "authorization_failed"},
	{ErrSlippageNotMet, "slippage_not_met"},
	{ErrExternalCallFailed, "external_call_failed"},
	{ErrArgumentMismatch, "argument_mismatch"},
	{ErrInvalidArgument, "invalid_argument"},
}

// KindOf returns the error kind matched by err, or nil when err is nil or
// does not belong to the taxonomy.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return nil
}

// KindName returns a stable label for err's kind: "ok" for nil and
// "internal" for errors outside the taxonomy.
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	kind := KindOf(err)
	for _, k := range kinds {
		if k.err == kind {
			return k.name
		}
	}
	return "internal"
}
