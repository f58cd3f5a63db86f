package fetch

import (
	"errors"
	"fmt"
)

// ErrorClass classifies fetch failures for retry logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: network timeouts, 5xx responses.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassChecksum indicates the downloaded archive did not match its
	// pinned hash. Never retried; the build fails closed.
	ErrorClassChecksum ErrorClass = "checksum"

	// ErrorClassPermanent indicates a non-recoverable error. Examples: a 404
	// for a pinned URL, an unsupported archive format.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error is a classified fetch error with archive context.
type Error struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Archive is the pin name the error relates to.
	Archive string `json:"archive,omitempty"`

	// URL is the download URL in use when the error occurred.
	URL string `json:"url,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Archive != "" {
		msg += fmt.Sprintf(" (archive=%s)", e.Archive)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewChecksumError creates the fail-closed checksum mismatch error.
func NewChecksumError(archive, want, got string) *Error {
	return &Error{
		Class:   ErrorClassChecksum,
		Archive: archive,
		Message: fmt.Sprintf("checksum mismatch: want sha256 %s, got %s", want, got),
	}
}

// WithArchive adds archive context to an error.
func (e *Error) WithArchive(name string) *Error {
	e.Archive = name
	return e
}

// WithURL adds URL context to an error.
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsChecksum returns true if the error is a checksum mismatch.
func IsChecksum(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassChecksum
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}
