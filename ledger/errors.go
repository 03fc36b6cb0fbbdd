package ledger

import (
	"github.com/pkg/errors"
)

// UnavailableError wraps a transient ledger failure (network, RPC, node
// lag). Callers retry these with backoff.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return "ledger unavailable: " + e.Err.Error()
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable marks err as transient.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}

	return &UnavailableError{Err: err}
}

// RejectedError is a deterministic contract-level rejection (wrong secret,
// already claimed, not yet expired). Never retried.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "rejected by ledger: " + e.Reason
}

// Rejected builds a deterministic rejection with the given reason.
func Rejected(reason string) error {
	return &RejectedError{Reason: reason}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsRejected reports whether err is a deterministic rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
