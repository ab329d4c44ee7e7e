// Package transport defines the uniform byte-stream handle yielded by a
// successful dial, regardless of which proxy path or TLS backend produced
// the underlying connection.
package transport

import (
	"net"

	"github.com/WhileEndless/go-dialcore/pkg/timing"
)

// Info is the connection metadata attached to a Transport. It is consumed
// by the HTTP engine to pick a request-line form, select HTTP/2 vs
// HTTP/1.1, and surface certificate info to callers.
type Info struct {
	// IsProxy is true iff this Transport speaks to a plaintext HTTP proxy,
	// meaning the HTTP engine must emit absolute-form request URIs.
	// HTTPS-via-CONNECT and SOCKS-wrapped transports are never IsProxy.
	IsProxy bool

	// NegotiatedH2 is true iff the TLS handshake (if any) negotiated the
	// "h2" ALPN protocol.
	NegotiatedH2 bool

	// PeerCertificateDER is the first presented peer certificate in DER
	// form, populated only when TLS-info capture is enabled and a TLS
	// handshake occurred. Nil otherwise.
	PeerCertificateDER []byte

	// Metrics carries the phase timings collected while this connection
	// was established. Phases the dial path never exercised (e.g. TLS on
	// a plaintext transport) are left at zero.
	Metrics timing.Metrics
}

// Transport is the polymorphic handle a dial yields: any net.Conn plus
// vectored-write support and a synchronous connection-metadata accessor.
type Transport interface {
	net.Conn

	// WriteVectored writes the concatenation of bufs, returning the
	// number of bytes actually written. Implementations that cannot batch
	// fall back to sequential net.Conn.Write calls.
	WriteVectored(bufs [][]byte) (int64, error)

	// VectoredIOSupported reports whether WriteVectored can perform a
	// true batched write (e.g. writev) rather than looping over Write.
	VectoredIOSupported() bool

	// Info returns the connection metadata composed for this Transport.
	Info() Info
}

// infoProvider is implemented by TLS wrappers so wrapped can compose Info()
// without knowing which TLS backend produced the connection.
type infoProvider interface {
	// NegotiatedH2 reports whether ALPN negotiated "h2".
	NegotiatedH2() bool

	// PeerCertificateDER returns the first peer certificate in DER form,
	// or nil if unavailable.
	PeerCertificateDER() []byte
}

// wrapped implements Transport over a concrete net.Conn, optionally
// composing TLS-derived metadata through an infoProvider.
type wrapped struct {
	net.Conn

	isProxy        bool
	tlsInfoEnabled bool
	tlsInfo        infoProvider
	metrics        timing.Metrics
}

// New boxes conn into a Transport carrying isProxy. If conn implements
// infoProvider, its ALPN reading is composed into Info(), and so is its
// peer certificate when tlsInfoEnabled is true.
func New(conn net.Conn, isProxy bool, tlsInfoEnabled bool) Transport {
	return NewWithMetrics(conn, isProxy, tlsInfoEnabled, timing.Metrics{})
}

// NewWithMetrics is New plus the phase timings collected by the caller's
// dial path, surfaced through Info().Metrics.
func NewWithMetrics(conn net.Conn, isProxy bool, tlsInfoEnabled bool, metrics timing.Metrics) Transport {
	w := &wrapped{Conn: conn, isProxy: isProxy, tlsInfoEnabled: tlsInfoEnabled, metrics: metrics}
	if p, ok := conn.(infoProvider); ok {
		w.tlsInfo = p
	}
	return w
}

// WriteVectored writes bufs as a single net.Buffers.WriteTo call when the
// innermost conn supports it (the standard library special-cases
// net.Buffers for *net.TCPConn via writev); otherwise it writes
// sequentially.
func (w *wrapped) WriteVectored(bufs [][]byte) (int64, error) {
	if len(bufs) == 0 {
		return 0, nil
	}

	buffers := make(net.Buffers, len(bufs))
	for i, b := range bufs {
		buffers[i] = b
	}
	return buffers.WriteTo(w.Conn)
}

// VectoredIOSupported reports true only when the innermost conn is a
// *net.TCPConn, the type net.Buffers special-cases for a batched writev.
func (w *wrapped) VectoredIOSupported() bool {
	_, ok := w.Conn.(*net.TCPConn)
	return ok
}

// Info composes is_proxy with whatever the TLS layer (if any) reports.
func (w *wrapped) Info() Info {
	info := Info{IsProxy: w.isProxy, Metrics: w.metrics}
	if w.tlsInfo == nil {
		return info
	}
	info.NegotiatedH2 = w.tlsInfo.NegotiatedH2()
	if w.tlsInfoEnabled {
		info.PeerCertificateDER = w.tlsInfo.PeerCertificateDER()
	}
	return info
}
