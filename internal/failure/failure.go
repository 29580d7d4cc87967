// Package failure holds the typed failure taxonomy reported by a run.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies why a run failed. Callers compare kinds, never message text.
type Kind string

const (
	RecoverableInteraction Kind = "recoverable_interaction"
	NavigationTimeout      Kind = "navigation_timeout"
	ElementNotFound        Kind = "element_not_found"
	PriceNotFound          Kind = "price_not_found"
	AuthenticationFailed   Kind = "authentication_failed"
	ProductNotFound        Kind = "product_not_found"
	Unclassified           Kind = "unclassified"
)

// Error is a failure with a kind, a human-readable message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an *Error of the given kind.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf is New with a formatted message and no cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or Unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unclassified
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// MessageOf returns the message of the first *Error in err's chain, or err.Error().
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
