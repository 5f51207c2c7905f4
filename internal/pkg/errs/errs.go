// Package errs defines the error taxonomy shared by the trading core.
// Classification drives the retry policy: only transient kinds cross the
// retry boundary, validation and configuration failures surface immediately.
package errs

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConfiguration
	KindRateLimit
	KindNetwork
	KindTimeout
	KindExchangeAPI
	KindCircuitOpen
	KindInsufficientData
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindConfiguration:
		return "CONFIGURATION"
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindNetwork:
		return "NETWORK"
	case KindTimeout:
		return "TIMEOUT"
	case KindExchangeAPI:
		return "EXCHANGE_API"
	case KindCircuitOpen:
		return "CIRCUIT_OPEN"
	case KindInsufficientData:
		return "INSUFFICIENT_DATA"
	default:
		return "UNKNOWN"
	}
}

// Error carries a classified failure. Op names the operation that failed
// ("order.place", "gateway.candles"), Err is the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error

	// ResetAt is set for rate-limit rejections: when the window frees.
	ResetAt time.Time
	// Cooldown is set for circuit-open failures: remaining recovery wait.
	Cooldown time.Duration
	// Attempts is set when a retry loop gives up.
	Attempts int
	// Terminal marks an exchange rejection that must not be retried even
	// though the kind is normally transient (e.g. insufficient balance).
	Terminal bool
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, format string, v ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, v...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a non-retryable input failure.
func Validation(op, format string, v ...any) *Error {
	return New(KindValidation, op, format, v...)
}

// Configuration builds a fatal startup failure.
func Configuration(op, format string, v ...any) *Error {
	return New(KindConfiguration, op, format, v...)
}

// InsufficientData reports that a computation lacks the required lookback.
func InsufficientData(op, format string, v ...any) *Error {
	return New(KindInsufficientData, op, format, v...)
}

// RateLimited reports a rejected call together with the window reset time.
func RateLimited(op string, resetAt time.Time) *Error {
	e := New(KindRateLimit, op, "rate limit exceeded, resets at %s", resetAt.Format(time.RFC3339))
	e.ResetAt = resetAt
	return e
}

// CircuitOpen reports a fast-fail with the remaining cooldown.
func CircuitOpen(op string, cooldown time.Duration) *Error {
	e := New(KindCircuitOpen, op, "circuit open, retry in %s", cooldown.Round(time.Millisecond))
	e.Cooldown = cooldown
	return e
}

// Exhausted wraps the last error after a retry loop gave up.
func Exhausted(op string, attempts int, last error) *Error {
	e := Wrap(KindOf(last), op, last)
	e.Msg = fmt.Sprintf("gave up after %d attempts: %v", attempts, last)
	e.Attempts = attempts
	return e
}

// KindOf extracts the classified kind, walking the wrap chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the retry loop may re-attempt the operation.
// Only whitelisted transient kinds qualify; terminal business rejections
// (insufficient balance and the like) are excluded even when the kind is
// ExchangeAPI.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if e.Terminal {
		return false
	}
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimit, KindExchangeAPI:
		return true
	default:
		return false
	}
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
