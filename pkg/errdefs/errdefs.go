package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the service taxonomy. The string value
// is stored verbatim in a failed job's error_kind column.
type Kind string

const (
	KindUnauthenticated   Kind = "Unauthenticated"
	KindForbidden         Kind = "Forbidden"
	KindQuotaExhausted    Kind = "QuotaExhausted"
	KindFileTooLarge      Kind = "FileTooLarge"
	KindInvalidInput      Kind = "InvalidInput"
	KindInvalidPageSpec   Kind = "InvalidPageSpec"
	KindPageOutOfRange    Kind = "PageOutOfRange"
	KindInvalidAngle      Kind = "InvalidAngle"
	KindInvalidPassword   Kind = "InvalidPassword"
	KindInvalidFilename   Kind = "InvalidFilename"
	KindNotEncrypted      Kind = "NotEncrypted"
	KindWrongPassword     Kind = "WrongPassword"
	KindPathEscape        Kind = "PathEscape"
	KindNotFound          Kind = "NotFound"
	KindProcessorError    Kind = "ProcessorError"
	KindSubprocessFailed  Kind = "SubprocessFailed"
	KindSubprocessTimeout Kind = "SubprocessTimeout"
	KindBusy              Kind = "Busy"
	KindInternal          Kind = "Internal"
)

// Error is a taxonomized error. Message is safe to show to callers;
// Err holds the underlying cause and never reaches HTTP bodies.
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

// New creates a taxonomized error with a caller-safe message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a taxonomized error with a formatted caller-safe message
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a taxonomized error. The cause is preserved
// for logs and the job record but is not part of the safe message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message for err. Untaxonomized errors
// collapse to a generic phrase so raw causes never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status code
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated, KindWrongPassword:
		return http.StatusUnauthorized
	case KindForbidden, KindQuotaExhausted:
		return http.StatusForbidden
	case KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindInvalidInput, KindInvalidPageSpec, KindPageOutOfRange,
		KindInvalidAngle, KindInvalidPassword, KindInvalidFilename,
		KindNotEncrypted, KindPathEscape:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusServiceUnavailable
	case KindSubprocessTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether the client may usefully retry the request
func Retriable(kind Kind) bool {
	return kind == KindBusy || kind == KindUnauthenticated
}
