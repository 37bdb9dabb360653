package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrVideoUnavailable indicates that the requested video cannot be accessed.
	ErrVideoUnavailable = errors.New("video unavailable")
	// ErrPrivate indicates that the video is private and cannot be downloaded.
	ErrPrivate = errors.New("video is private")
	// ErrAgeRestricted indicates that the video has an age restriction.
	ErrAgeRestricted = errors.New("age restricted")
	// ErrCipherFailed indicates failure during signature deciphering.
	ErrCipherFailed = errors.New("cipher failed")
	// ErrGeoBlocked indicates the video is not available in the current region.
	ErrGeoBlocked = errors.New("geo blocked")
	// ErrRateLimited indicates throttling or rate limiting by the remote service.
	ErrRateLimited = errors.New("rate limited")
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeSourceUnavailable Code = "SOURCE_UNAVAILABLE"
	CodeSourceFailure     Code = "SOURCE_FAILURE"
)

// Messages returned to clients in place of upstream details when redaction is on.
const (
	genericUnavailable = "Failed to process video"
	genericFailure     = "Failed to fetch video"
)

// Error is a classified relay error. Message is the client-facing detail;
// Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the client-facing message. With expose=false, source errors
// are reduced to a generic message.
func (e *Error) Detail(expose bool) string {
	if expose {
		return e.Message
	}
	switch e.Code {
	case CodeSourceUnavailable:
		return genericUnavailable
	case CodeSourceFailure:
		return genericFailure
	}
	return e.Message
}

// InvalidInput reports a missing or malformed request field.
func InvalidInput(message string) *Error {
	return &Error{Code: CodeInvalidInput, Message: message}
}

// NotFound reports that the requested resource does not exist at the source.
func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

// SourceUnavailable wraps a failure to resolve a URL at the video source.
// The message is the cause verbatim.
func SourceUnavailable(err error) *Error {
	return &Error{Code: CodeSourceUnavailable, Message: causeText(err), Err: err}
}

// SourceFailure wraps a failure while fetching media from the video source.
func SourceFailure(err error) *Error {
	return &Error{Code: CodeSourceFailure, Message: fmt.Sprintf("%s: %s", genericFailure, causeText(err)), Err: err}
}

// Classified reports whether err already carries a client-facing classification
// that must not be wrapped again.
func Classified(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == CodeInvalidInput || e.Code == CodeNotFound
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
