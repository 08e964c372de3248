// Package dasherr holds the error type shared between the dashboard
// subsystems.
//
// Every failure a subsystem can surface is classified into a [Kind] so that
// callers can decide between retrying, re-authenticating, or degrading to a
// smaller result set without string matching.
package dasherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// KindUnknown is the zero value for unclassified failures.
	KindUnknown Kind = iota
	// KindNetwork covers transport errors and timeouts. Retryable.
	KindNetwork
	// KindProtocol covers unparseable responses. Not retryable; log and skip.
	KindProtocol
	// KindAuth is a structured rejection from an identity provider,
	// carrying a user-facing message.
	KindAuth
	// KindAuthRequired means credentials are missing or expired and refresh
	// failed; a re-login is needed.
	KindAuthRequired
	// KindLocationNotFound means no geocoder could resolve the query.
	KindLocationNotFound
	// KindServiceUnavailable means a weather/geocoding backend is down.
	KindServiceUnavailable
	// KindValidation rejects malformed user input before it reaches the
	// network layer.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindAuthRequired:
		return "auth_required"
	case KindLocationNotFound:
		return "location_not_found"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error represents a universal error type between the subsystems.
type Error struct {
	Kind Kind
	Err  error // The error this wraps
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an [Error] from the given parts: a string or error for the cause,
// and a [Kind] for the classification.
func E(args ...any) *Error {
	ret := &Error{
		Kind: KindUnknown,
		Err:  nil,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case Kind:
			ret.Kind = arg
		}
	}

	return ret
}

// KindOf extracts the classification of err, or KindUnknown if it does not
// wrap an [Error].
func KindOf(err error) Kind {
	e := &Error{}
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// IsRetryable reports whether the operation that produced err may be retried.
func IsRetryable(err error) bool {
	return KindOf(err) == KindNetwork
}
