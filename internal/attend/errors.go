package attend

import (
	"errors"
	"fmt"

	"scanmark/internal/db"
)

// Kind classifies failures so callers can branch on outcome without
// matching message text.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindConflict
	KindInvalid
	KindUnauthorized
	KindInternal
)

// Stable machine-readable codes carried alongside the kind.
const (
	CodeEventNotFound     = "event_not_found"
	CodeEventClosed       = "event_closed"
	CodeSessionNotFound   = "session_not_found"
	CodeSessionSuperseded = "session_superseded"
	CodeNoOpenSession     = "no_open_session"
	CodeUnknownUID        = "unknown_uid"
	CodeAlreadyMarked     = "already_marked"
	CodeMissingFields     = "missing_fields"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "server_error"
)

// Error is the result value for every failed core operation. On
// already-marked conflicts Entry and Record carry the existing state so the
// caller can render "already present" instead of a bare error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Entry   *db.RosterEntry
	Record  *db.PresenceRecord
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(code, format string, args ...any) *Error {
	return newError(KindNotFound, code, format, args...)
}

func conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func invalid(format string, args ...any) *Error {
	return newError(KindInvalid, CodeMissingFields, format, args...)
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: err.Error()}
}

// KindOf extracts the failure kind; unrecognized errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code; unrecognized errors map to server_error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError returns the typed error when err carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
