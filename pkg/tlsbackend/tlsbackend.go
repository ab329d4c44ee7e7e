// Package tlsbackend normalizes peer-certificate extraction and ALPN
// readout across the two TLS stacks this module supports: the system
// crypto/tls stack, and uTLS as a second, independently configured stack
// with its own ClientHello fingerprint.
package tlsbackend

import (
	"context"
	"crypto/tls"
	"net"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"

	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
)

// h2Proto is the ALPN protocol ID that marks HTTP/2 negotiation, the same
// constant net/http's own transport negotiates against.
const h2Proto = http2.NextProtoTLS

// Backend performs a TLS handshake over an already-connected stream and
// returns a net.Conn that also satisfies the infoProvider contract
// pkg/transport composes Info() from.
type Backend interface {
	// Handshake upgrades conn to TLS, validating serverName, and blocks
	// until the handshake completes or ctx is done.
	Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error)

	// WithEmptyALPN returns a copy of this backend whose ALPN protocol
	// list is cleared: a proxy TLS handshake must never advertise h2 to
	// an intermediary.
	WithEmptyALPN() Backend
}

// NativeBackend wraps the standard library's crypto/tls.
type NativeBackend struct {
	Config *tls.Config
}

// NewNativeBackend clones cfg so later mutation by the caller cannot race
// a concurrent handshake.
func NewNativeBackend(cfg *tls.Config) *NativeBackend {
	return &NativeBackend{Config: cfg.Clone()}
}

// Handshake implements Backend.
func (b *NativeBackend) Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error) {
	cfg := b.Config.Clone()
	cfg.ServerName = serverName

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, dialerrors.NewTLSHandshake(serverName, 0, err)
	}
	return &nativeConn{Conn: tlsConn}, nil
}

// WithEmptyALPN implements Backend.
func (b *NativeBackend) WithEmptyALPN() Backend {
	cfg := b.Config.Clone()
	cfg.NextProtos = nil
	return &NativeBackend{Config: cfg}
}

// nativeConn adapts *tls.Conn to the infoProvider contract pkg/transport
// expects, reaching ConnectionState() at the correct nesting depth.
type nativeConn struct {
	*tls.Conn
}

func (c *nativeConn) NegotiatedH2() bool {
	return c.ConnectionState().NegotiatedProtocol == h2Proto
}

func (c *nativeConn) PeerCertificateDER() []byte {
	certs := c.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	return certs[0].Raw
}

// UTLSBackend wraps github.com/refraction-networking/utls, standing in for
// a second, independent TLS stack with its own ClientHello fingerprint and
// ALPN handling.
type UTLSBackend struct {
	Config      *utls.Config
	ClientHello utls.ClientHelloID
}

// NewUTLSBackend builds a backend whose default fingerprint is
// utls.HelloGolang, matching crypto/tls wire behavior unless the caller
// picks a different ClientHello ID.
func NewUTLSBackend(cfg *utls.Config) *UTLSBackend {
	return &UTLSBackend{Config: cfg.Clone(), ClientHello: utls.HelloGolang}
}

// Handshake implements Backend.
func (b *UTLSBackend) Handshake(ctx context.Context, conn net.Conn, serverName string) (net.Conn, error) {
	cfg := b.Config.Clone()
	cfg.ServerName = serverName

	uconn := utls.UClient(conn, cfg, b.ClientHello)

	done := make(chan error, 1)
	go func() { done <- uconn.HandshakeContext(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			return nil, dialerrors.NewTLSHandshake(serverName, 0, err)
		}
		return &utlsConn{UConn: uconn}, nil
	case <-ctx.Done():
		conn.Close()
		return nil, dialerrors.NewTLSHandshake(serverName, 0, ctx.Err())
	}
}

// WithEmptyALPN implements Backend.
func (b *UTLSBackend) WithEmptyALPN() Backend {
	cfg := b.Config.Clone()
	cfg.NextProtos = nil
	return &UTLSBackend{Config: cfg, ClientHello: b.ClientHello}
}

// utlsConn adapts *utls.UConn to the infoProvider contract.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) NegotiatedH2() bool {
	return c.ConnectionState().NegotiatedProtocol == h2Proto
}

func (c *utlsConn) PeerCertificateDER() []byte {
	certs := c.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil
	}
	return certs[0].Raw
}
