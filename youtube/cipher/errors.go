package cipher

import (
	"errors"
	"fmt"

	"github.com/ytget/ytrelay/errs"
)

// Error codes
const (
	ErrCodePlayerJSNotFound  = "PLAYER_JS_NOT_FOUND"
	ErrCodePlayerJSDownload  = "PLAYER_JS_DOWNLOAD_FAILED"
	ErrCodeSignatureInvalid  = "SIGNATURE_INVALID"
	ErrCodeSignatureNotFound = "SIGNATURE_NOT_FOUND"
	ErrCodeJSExecutionFailed = "JS_EXECUTION_FAILED"
)

// Error is a deciphering failure. It matches errs.ErrCipherFailed under errors.Is.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the cause and errs.ErrCipherFailed.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{errs.ErrCipherFailed, e.Err}
	}
	return []error{errs.ErrCipherFailed}
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsNotFound returns true if the error reports a missing player.js or signature.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodePlayerJSNotFound || e.Code == ErrCodeSignatureNotFound
	}
	return false
}

// IsJSError returns true if the error is a JavaScript execution error
func IsJSError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeJSExecutionFailed
	}
	return false
}
