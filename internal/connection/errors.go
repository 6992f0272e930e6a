package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// ErrorClass groups dial failures by what the user can do about them.
type ErrorClass string

const (
	ErrorTimeout     ErrorClass = "timeout"
	ErrorUnreachable ErrorClass = "unreachable"
	ErrorCrossOrigin ErrorClass = "cross-origin"
	ErrorUnknown     ErrorClass = "unknown"
)

// DialError is a classified failure to establish a transport.
type DialError struct {
	Class     ErrorClass
	Transport string
	Err       error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s (%s): %v", e.Transport, e.Class, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is returned when the server rejects a handshake.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e.Status != "" {
		return "unexpected http status: " + e.Status
	}
	return fmt.Sprintf("unexpected http status: %d", e.StatusCode)
}

// Classify maps a dial error to an ErrorClass.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorUnknown
	}

	var de *DialError
	if errors.As(err, &de) {
		return de.Class
	}

	var se *HTTPStatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
		return ErrorCrossOrigin
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorUnreachable
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return ErrorUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ErrorUnreachable
	}

	return ErrorUnknown
}

func newDialError(transport string, err error) *DialError {
	var de *DialError
	if errors.As(err, &de) {
		return de
	}
	return &DialError{Class: Classify(err), Transport: transport, Err: err}
}
