// Package failure holds the error taxonomy shared by the forwarding core,
// the account pool and the remote adapters.
//
// Sentinels are compared with errors.Is; the two typed errors carry data and
// are extracted with errors.As (or the helpers below).
package failure

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoActiveAccounts       = errors.New("no active accounts")
	ErrInvalidJob             = errors.New("invalid job")
	ErrJobAlreadyRunning      = errors.New("a forward job is already running")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrTargetInaccessible     = errors.New("target inaccessible")
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrAccountLimit means the account itself cannot join more chats. The
	// target stays usable for other accounts.
	ErrAccountLimit = errors.New("account channel limit reached")

	// ErrAlreadyParticipant is returned by join calls when the account is
	// already a member. Callers treat it as success.
	ErrAlreadyParticipant = errors.New("already a participant")
)

// RateLimited is a rate-limit signal carrying the wait the remote asked for.
type RateLimited struct {
	Wait time.Duration
}

func (e *RateLimited) Error() string { return fmt.Sprintf("rate limited: wait %s", e.Wait) }

// TransientFailure wraps any error outside the taxonomy.
type TransientFailure struct {
	Detail string
	Err    error
}

func (e *TransientFailure) Error() string {
	if e.Detail == "" && e.Err != nil {
		return "transient failure: " + e.Err.Error()
	}
	return "transient failure: " + e.Detail
}

func (e *TransientFailure) Unwrap() error { return e.Err }

// Transient wraps err as a TransientFailure (nil stays nil).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientFailure{Detail: err.Error(), Err: err}
}

// AsRateLimited reports the wait carried by a rate-limit error anywhere in the chain.
func AsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimited
	if errors.As(err, &rl) {
		return rl.Wait, true
	}
	return 0, false
}

// IsClassified reports whether err is already part of the taxonomy (or a
// context error) and must not be re-wrapped as transient.
func IsClassified(err error) bool {
	if err == nil {
		return true
	}
	if _, ok := AsRateLimited(err); ok {
		return true
	}
	var tf *TransientFailure
	if errors.As(err, &tf) {
		return true
	}
	for _, s := range []error{
		ErrNoActiveAccounts,
		ErrInvalidJob,
		ErrJobAlreadyRunning,
		ErrPermissionDenied,
		ErrTargetInaccessible,
		ErrAuthenticationRequired,
		ErrAccountLimit,
		ErrAlreadyParticipant,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// Reason returns a short human label for per-target outcome reports.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "write forbidden"
	case errors.Is(err, ErrTargetInaccessible):
		return "inaccessible"
	case errors.Is(err, ErrAuthenticationRequired):
		return "login required"
	case errors.Is(err, ErrAccountLimit):
		return "account channel limit"
	case errors.Is(err, ErrNoActiveAccounts):
		return "no active accounts"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "stopped"
	}
	if w, ok := AsRateLimited(err); ok {
		return "rate limited " + w.String()
	}
	return err.Error()
}
