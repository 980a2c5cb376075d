// Package fault defines the error kinds surfaced to users.
//
// Every user-initiated action converts failures into one of these kinds
// plus a display string at its own boundary. Nothing propagates to a UI
// surface as an unclassified failure: KindOf falls back to Backend for
// errors produced outside this package.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a user-facing failure category.
type Kind string

const (
	// ConfigurationMissing means no analysis credential has been set.
	ConfigurationMissing Kind = "configuration-missing"

	// InvalidCredential means the analysis backend rejected the credential.
	InvalidCredential Kind = "invalid-credential"

	// Backend covers any other AI or account backend failure.
	Backend Kind = "backend-error"

	// ResponseFormat means the AI reply could not be parsed into an analysis.
	ResponseFormat Kind = "response-format-error"

	// NoContent means page extraction yielded nothing.
	NoContent Kind = "no-content-found"

	// RestrictedPage means the host page is a browser-internal page where
	// agents cannot run.
	RestrictedPage Kind = "restricted-page"

	// NotAuthenticated means the action requires a signed-in user.
	NotAuthenticated Kind = "not-authenticated"
)

// Error pairs a kind with a human-readable display string.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the kind of err. Errors that were never classified are
// treated as backend failures so callers always have a kind to act on.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Backend
}

// Display returns the string shown to the user for err. For classified
// errors this is the stored message without any wrapping added by
// intermediate layers.
func Display(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

// NeedsSettings reports whether the kind should render a link to the
// settings surface instead of a bare error string.
func NeedsSettings(kind Kind) bool {
	return kind == ConfigurationMissing || kind == InvalidCredential
}
