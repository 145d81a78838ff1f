// Package fault defines the error kinds surfaced by fixrev.
package fault

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind int

const (
	Unknown Kind = iota
	ProviderUnavailable
	AuthFailed
	RateLimited
	TransientProviderError
	Timeout
	MalformedResponse
	PatchApplyConflict
	ValidationRerunFailed
)

func (k Kind) String() string {
	switch k {
	case ProviderUnavailable:
		return "provider-unavailable"
	case AuthFailed:
		return "auth-failed"
	case RateLimited:
		return "rate-limited"
	case TransientProviderError:
		return "transient-provider-error"
	case Timeout:
		return "timeout"
	case MalformedResponse:
		return "malformed-response"
	case PatchApplyConflict:
		return "patch-apply-conflict"
	case ValidationRerunFailed:
		return "validation-rerun-failed"
	default:
		return "unknown"
	}
}

// Retryable reports whether a request failing with k may be attempted again.
func (k Kind) Retryable() bool {
	return k == RateLimited || k == TransientProviderError || k == Timeout
}

// Fatal reports whether k disables the AI subsystem for the rest of a run.
func (k Kind) Fatal() bool {
	return k == AuthFailed || k == ProviderUnavailable
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf returns an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
