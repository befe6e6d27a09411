package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jun/gophstore/internal/auth"
)

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("resource not found")
)

// WriteError is a failed Add or Set. StatusCode is zero when the request
// never got a response.
type WriteError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *WriteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("write failed: %v", e.Err)
	}
	return fmt.Sprintf("write failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError is a failed Get.
type ReadError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ReadError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("read failed: %v", e.Err)
	}
	return fmt.Sprintf("read failed: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *ReadError) Unwrap() error { return e.Err }

// StatusError returns the error for a non-success response. 401 wraps
// auth.ErrTokenExpired so callers can route it to a refresh.
func StatusError(write bool, status int, body string) error {
	var cause error
	switch {
	case status == http.StatusUnauthorized:
		cause = auth.ErrTokenExpired
	case status == http.StatusNotFound:
		cause = ErrNotFound
	}
	if write {
		return &WriteError{StatusCode: status, Body: body, Err: cause}
	}
	return &ReadError{StatusCode: status, Body: body, Err: cause}
}

func statusOf(err error) int {
	var we *WriteError
	if errors.As(err, &we) {
		return we.StatusCode
	}
	var re *ReadError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// IsAuth reports whether err is the store rejecting the access token.
func IsAuth(err error) bool {
	return errors.Is(err, auth.ErrTokenExpired)
}

// IsTransient reports whether retrying the same request may succeed:
// timeouts, connection failures, 429 and 5xx.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch status := statusOf(err); {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return true
	case status >= 500:
		return true
	case status != 0:
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsPermanent reports whether err is a rejection that will not change on
// retry, such as a malformed document or a permission failure.
func IsPermanent(err error) bool {
	if err == nil || IsAuth(err) {
		return false
	}
	status := statusOf(err)
	return status >= 400 && status < 500 && !IsTransient(err)
}
