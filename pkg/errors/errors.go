// Package errors provides the structured error taxonomy for go-dialcore.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind represents the category of error the connection-establishment core
// can produce.
type Kind string

const (
	// KindBadURI covers a missing host or a server-name validation failure.
	KindBadURI Kind = "bad_uri"
	// KindProxyConnect covers SOCKS handshake failures.
	KindProxyConnect Kind = "proxy_connect"
	// KindTunnelAuthRequired is a CONNECT response with a 407 status.
	KindTunnelAuthRequired Kind = "tunnel_auth_required"
	// KindTunnelBadResponse is any non-200 CONNECT response.
	KindTunnelBadResponse Kind = "tunnel_bad_response"
	// KindTunnelHeadersTooLong is the 8 KiB CONNECT read buffer exhausted
	// before the header terminator was seen.
	KindTunnelHeadersTooLong Kind = "tunnel_headers_too_long"
	// KindTunnelEOF is a zero-byte read before the status line matched.
	KindTunnelEOF Kind = "tunnel_eof"
	// KindTLSHandshake covers failures from either TLS backend.
	KindTLSHandshake Kind = "tls_handshake"
	// KindTimedOut is an outer or embedded connect-timeout elapsing.
	KindTimedOut Kind = "timed_out"
	// KindTransport is a passed-through TCP/IO error.
	KindTransport Kind = "transport"
)

// Error is a structured error carrying a category tag, consistent across
// every failure this module produces.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Cause     error
	Host      string
	Port      int
	Addr      string
	Timestamp time.Time
}

// Error implements the error interface: [kind] op addr: message: cause
func (e *Error) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}

	if e.Addr != "" {
		parts = append(parts, e.Addr)
	} else if e.Host != "" {
		if e.Port > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", e.Host, e.Port))
		} else {
			parts = append(parts, e.Host)
		}
	}

	errStr := strings.Join(parts, " ")
	if e.Message != "" {
		errStr += ": " + e.Message
	}
	if e.Cause != nil {
		errStr += ": " + e.Cause.Error()
	}

	return errStr
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind, so callers can do errors.Is(err, &errors.Error{Kind: errors.KindTimedOut}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind Kind, op, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewBadURI creates a KindBadURI error for a malformed destination URI.
func NewBadURI(message string) *Error {
	return newError(KindBadURI, "validate", message, nil)
}

// NewProxyConnect creates a KindProxyConnect error wrapping a SOCKS failure.
func NewProxyConnect(proxyAddr string, cause error) *Error {
	e := newError(KindProxyConnect, "socks_handshake", "SOCKS handshake failed", cause)
	e.Addr = proxyAddr
	return e
}

// NewTunnelAuthRequired creates a KindTunnelAuthRequired error.
func NewTunnelAuthRequired() *Error {
	return newError(KindTunnelAuthRequired, "connect", "proxy authentication required", nil)
}

// NewTunnelBadResponse creates a KindTunnelBadResponse error.
func NewTunnelBadResponse(statusLine string) *Error {
	return newError(KindTunnelBadResponse, "connect",
		fmt.Sprintf("unsuccessful tunnel: %s", strings.TrimSpace(statusLine)), nil)
}

// NewTunnelHeadersTooLong creates a KindTunnelHeadersTooLong error.
func NewTunnelHeadersTooLong() *Error {
	return newError(KindTunnelHeadersTooLong, "connect", "tunnel response headers too long", nil)
}

// NewTunnelEOF creates a KindTunnelEOF error.
func NewTunnelEOF() *Error {
	return newError(KindTunnelEOF, "connect", "unexpected EOF reading tunnel response", nil)
}

// NewTLSHandshake creates a KindTLSHandshake error for the given host:port.
func NewTLSHandshake(host string, port int, cause error) *Error {
	e := newError(KindTLSHandshake, "handshake", fmt.Sprintf("TLS handshake failed for %s:%d", host, port), cause)
	e.Host = host
	e.Port = port
	return e
}

// NewTimedOut creates a KindTimedOut error for the given operation.
func NewTimedOut(op string, timeout time.Duration) *Error {
	return newError(KindTimedOut, op, fmt.Sprintf("operation timed out after %v", timeout), nil)
}

// NewTransport wraps an underlying TCP/IO error as KindTransport.
func NewTransport(op string, cause error) *Error {
	return newError(KindTransport, op, "", cause)
}

// Is reports whether err is a structured *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsTimeout reports whether err represents a timeout, either our own
// KindTimedOut or a net.Error/context deadline.
func IsTimeout(err error) bool {
	if Is(err, KindTimedOut) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsCanceled reports whether err is due to context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
