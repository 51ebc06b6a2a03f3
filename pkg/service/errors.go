package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound: no record matches the requested key.
	ErrNotFound = errors.New("not found")

	// ErrGone covers links that exist but may not be followed. Use
	// errors.Is(err, ErrGone) to match either cause.
	ErrGone     = errors.New("link gone")
	ErrInactive = fmt.Errorf("%w: disabled", ErrGone)
	ErrExpired  = fmt.Errorf("%w: expired", ErrGone)

	ErrInvalidURL      = errors.New("invalid URL")
	ErrInvalidAlias    = errors.New("invalid alias")
	ErrCodeExists      = errors.New("code already exists")
	ErrUnknownCampaign = errors.New("unknown campaign")
	ErrInvalidDomain   = errors.New("invalid domain")
	ErrDomainExists    = errors.New("domain already exists")
	ErrInvalidInput    = errors.New("invalid input")
)

// AccountingError reports a failed click-accounting step. It is logged and
// never surfaced to the client that triggered it.
type AccountingError struct {
	Step   string
	LinkID string
	Err    error
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("click accounting %s for link %s: %v", e.Step, e.LinkID, e.Err)
}

func (e *AccountingError) Unwrap() error {
	return e.Err
}
