package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"syscall"
)

// Class is the coarse category of a delivery failure
type Class string

const (
	Transient    Class = "transient"
	AuthRequired Class = "auth_required"
	Fatal        Class = "fatal"
)

// bodySignatureLen bounds how much of a response body goes into a signature
const bodySignatureLen = 64

// StatusError is a non-2xx response from the remote
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, truncate(e.Body, 200))
}

// Classification is the result of classifying one failure
type Classification struct {
	Class  Class
	Status int // 0 when there was no response
	// Signature identifies repeats of the same fatal failure; empty for
	// non-fatal classes
	Signature string
}

// Classify maps an HTTP status and/or a transport error to a Class. A zero
// status means no response was received. A *StatusError in err supplies the
// status when status is zero.
func Classify(status int, err error) Classification {
	var body string
	var se *StatusError
	if errors.As(err, &se) {
		if status == 0 {
			status = se.Status
		}
		body = se.Body
	}

	c := Classification{Status: status}
	switch {
	case status != 0:
		c.Class = classifyStatus(status)
	case err != nil:
		c.Class = classifyError(err)
	default:
		c.Class = Fatal
	}

	if c.Class == Fatal {
		c.Signature = signature(status, err, body)
	}
	return c
}

func classifyStatus(status int) Class {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return AuthRequired
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return Transient
	}
	return Fatal
}

func classifyError(err error) Class {
	// Certificate problems are configuration, not flaky network. Checked
	// first because they surface wrapped in *net.OpError / *url.Error.
	if isTLSError(err) {
		return Fatal
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.EINTR) ||
		errors.Is(err, net.ErrClosed) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Transient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Transient
	}

	return Fatal
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
		record           tls.RecordHeaderError
		alert            tls.AlertError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid) ||
		errors.As(err, &verification) ||
		errors.As(err, &record) ||
		errors.As(err, &alert)
}

// signature is class + status-or-error-type + truncated body
func signature(status int, err error, body string) string {
	if status != 0 {
		return fmt.Sprintf("%s|%d|%s", Fatal, status, truncate(body, bodySignatureLen))
	}
	return fmt.Sprintf("%s|%s", Fatal, errorName(err))
}

// errorName is the dynamic type of the innermost wrapped error
func errorName(err error) string {
	if err == nil {
		return "unknown"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return reflect.TypeOf(err).String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
