package domain

import "errors"

// Kind is the stable machine-readable category of a core failure.
type Kind string

const (
	KindUnknownCollection   Kind = "unknown_collection"
	KindNotFound            Kind = "not_found"
	KindIllegalTransition   Kind = "illegal_transition"
	KindDuplicateURL        Kind = "duplicate_url"
	KindUpstreamAuthFailure Kind = "upstream_auth_failure"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindInvalidInput        Kind = "invalid_input"
)

// Sentinels for errors.Is checks; matching is done on Kind only.
var (
	ErrUnknownCollection   = &Error{Kind: KindUnknownCollection, Message: "unknown collection"}
	ErrNotFound            = &Error{Kind: KindNotFound, Message: "record not found"}
	ErrIllegalTransition   = &Error{Kind: KindIllegalTransition, Message: "illegal stage transition"}
	ErrDuplicateURL        = &Error{Kind: KindDuplicateURL, Message: "source url already tracked"}
	ErrUpstreamAuthFailure = &Error{Kind: KindUpstreamAuthFailure, Message: "asset store authorization failed"}
	ErrStorageUnavailable  = &Error{Kind: KindStorageUnavailable, Message: "storage unavailable"}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// Error is a typed core failure. Message is safe to show to callers; Err keeps
// the underlying cause for logs and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the Kind of err, or "" if err is not a core failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Unavailable wraps a transport or driver failure.
func Unavailable(op string, cause error) *Error {
	return NewError(KindStorageUnavailable, op+" failed", cause)
}
