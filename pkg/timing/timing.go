// Package timing provides phase timing for connection establishment.
package timing

import (
	"context"
	"fmt"
	"time"
)

// Metrics captures how long each phase of establishing a connection took.
type Metrics struct {
	// DNSLookup is the time spent on the DNS lookup this process ran during
	// the dial: the target host when it is resolved locally, or an HTTP(S)
	// proxy's host. Zero when no lookup ran (IP literals, SOCKS4h/SOCKS5h).
	DNSLookup time.Duration `json:"dns_lookup"`

	// TCPConnect is the time spent establishing the TCP connection, which
	// for a proxied dial includes the proxy handshake (CONNECT or SOCKS).
	TCPConnect time.Duration `json:"tcp_connect"`

	// TLSHandshake is the time spent performing the TLS handshake (0 if
	// the connection is plaintext).
	TLSHandshake time.Duration `json:"tls_handshake"`

	// TotalTime is the total end-to-end dial time.
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures the phases of a single dial.
type Timer struct {
	start    time.Time
	dnsStart time.Time
	dnsEnd   time.Time
	tcpStart time.Time
	tcpEnd   time.Time
	tlsStart time.Time
	tlsEnd   time.Time
}

// NewTimer starts a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// StartDNS marks the beginning of DNS resolution. A nil *Timer is a no-op,
// so callers that dial without going through a timed entry point (e.g.
// direct unit tests of a lower-level helper) never need a nil check.
func (t *Timer) StartDNS() {
	if t != nil {
		t.dnsStart = time.Now()
	}
}

// EndDNS marks the end of DNS resolution.
func (t *Timer) EndDNS() {
	if t != nil {
		t.dnsEnd = time.Now()
	}
}

// StartTCP marks the beginning of the TCP/proxy connect phase.
func (t *Timer) StartTCP() {
	if t != nil {
		t.tcpStart = time.Now()
	}
}

// EndTCP marks the end of the TCP/proxy connect phase.
func (t *Timer) EndTCP() {
	if t != nil {
		t.tcpEnd = time.Now()
	}
}

// StartTLS marks the beginning of the TLS handshake.
func (t *Timer) StartTLS() {
	if t != nil {
		t.tlsStart = time.Now()
	}
}

// EndTLS marks the end of the TLS handshake.
func (t *Timer) EndTLS() {
	if t != nil {
		t.tlsEnd = time.Now()
	}
}

// GetMetrics returns the timings accumulated so far. Phases that were never
// started/stopped are left at zero. A nil *Timer yields zero Metrics.
func (t *Timer) GetMetrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	m := Metrics{TotalTime: time.Since(t.start)}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		m.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}
	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		m.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		m.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}

	return m
}

// ctxKey stashes a *Timer on a dial's context.Context so any helper along
// the dial path, in any package, can record its phase without a Timer
// parameter threaded through every call.
type ctxKey struct{}

// WithContext returns a copy of ctx carrying t, retrievable by FromContext.
func WithContext(ctx context.Context, t *Timer) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the *Timer stashed on ctx by WithContext, or nil if
// none was stashed. A nil *Timer is a safe no-op receiver for every method
// above.
func FromContext(ctx context.Context) *Timer {
	t, _ := ctx.Value(ctxKey{}).(*Timer)
	return t
}

// GetConnectionTime returns DNS + TCP/proxy + TLS time.
func (m Metrics) GetConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TotalTime)
}
