package domain

import (
	"errors"
	"strings"
)

// ErrRecordNotFound is returned by stores when a lookup matches nothing.
var ErrRecordNotFound = errors.New("record not found")

// ErrValidation carries every problem found with the input. Never retried.
type ErrValidation []string

func (e ErrValidation) Error() string { return strings.Join(e, "; ") }

func Invalid(msgs ...string) ErrValidation { return ErrValidation(msgs) }

// ErrConflict tells the caller to poll instead of retrying blindly.
type ErrConflict string

func (e ErrConflict) Error() string { return string(e) }

type ErrNotFound string

func (e ErrNotFound) Error() string { return string(e) + " not found" }

const ErrIntentNotFound = ErrNotFound("payment intent")

// ErrIntegration wraps a provider network or protocol failure. Nothing was
// persisted, so the same idempotency key can be retried.
type ErrIntegration struct {
	Provider ProviderName
	Err      error
}

func (e *ErrIntegration) Error() string {
	return "provider " + string(e.Provider) + ": " + e.Err.Error()
}

func (e *ErrIntegration) Unwrap() error { return e.Err }

func Integration(p ProviderName, err error) error {
	return &ErrIntegration{Provider: p, Err: err}
}
