package shared

import (
	"errors"
	"sort"
	"strings"
)

// Kind classifies an expected failure so callers can react without string matching.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindNotFound              Kind = "not_found"
	KindForbidden             Kind = "forbidden"
	KindUnauthorized          Kind = "unauthorized"
	KindConflict              Kind = "conflict"
	KindConversionUnavailable Kind = "conversion_unavailable"
	KindInternal              Kind = "internal"
)

// Error is a classified domain error carrying a human message.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

// NewError builds a classified error, typically used for package sentinels.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation reports field problems collected before any mutation.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed: " + joinFields(fields), Fields: fields}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserSafeMessage returns the message of a classified error, hiding internal causes.
func UserSafeMessage(err error) string {
	var classified *Error
	if errors.As(err, &classified) && classified.Kind != KindInternal {
		return classified.Message
	}
	return "internal error"
}

func joinFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+fields[k])
	}
	return strings.Join(parts, "; ")
}

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = NewError(KindNotFound, "not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = NewError(KindUnauthorized, "invalid credentials")
	// ErrUnauthenticated occurs when a request carries no valid session.
	ErrUnauthenticated = NewError(KindUnauthorized, "authentication required")
	// ErrConcurrentUpdate signals a lost optimistic-concurrency race; retrying is safe.
	ErrConcurrentUpdate = NewError(KindConflict, "record changed concurrently, retry")
)
