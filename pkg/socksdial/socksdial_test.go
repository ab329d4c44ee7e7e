package socksdial

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
	"github.com/WhileEndless/go-dialcore/pkg/timing"
)

func TestVerifyProxyResolvesIPLiteralSkipsDNS(t *testing.T) {
	err := verifyProxyResolves(context.Background(), net.DefaultResolver, "127.0.0.1:1080")
	require.NoError(t, err)
}

func TestVerifyProxyResolvesInvalidAddr(t *testing.T) {
	err := verifyProxyResolves(context.Background(), net.DefaultResolver, "not-a-host-port")
	require.Error(t, err)
	require.True(t, dialerrors.Is(err, dialerrors.KindProxyConnect))
}

func TestResolveTargetIPv4Literal(t *testing.T) {
	ip, err := resolveTargetIPv4(context.Background(), net.DefaultResolver, "127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, net.ParseIP("127.0.0.1").To4(), ip)
}

func TestResolveTargetIPv4RejectsIPv6Literal(t *testing.T) {
	_, err := resolveTargetIPv4(context.Background(), net.DefaultResolver, "::1")
	require.Error(t, err)
}

func TestResolveTargetIPLiteral(t *testing.T) {
	addr, err := resolveTarget(context.Background(), net.DefaultResolver, "10.0.0.5")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.5", addr)
}

func TestResolveTargetRecordsDNSTiming(t *testing.T) {
	ctx := timing.WithContext(context.Background(), timing.NewTimer())

	addr, err := resolveTarget(ctx, net.DefaultResolver, "localhost")
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	require.Greater(t, timing.FromContext(ctx).GetMetrics().DNSLookup, time.Duration(0))
}

func TestResolveTargetIPv4RecordsDNSTiming(t *testing.T) {
	ctx := timing.WithContext(context.Background(), timing.NewTimer())

	ip, err := resolveTargetIPv4(ctx, net.DefaultResolver, "localhost")
	require.NoError(t, err)
	require.NotNil(t, ip)
	require.Greater(t, timing.FromContext(ctx).GetMetrics().DNSLookup, time.Duration(0))
}

// fakeSOCKS4Proxy starts a listener that reads one SOCKS4/SOCKS4A request
// and replies with a fixed 8-byte response, capturing the raw request for
// assertions.
func fakeSOCKS4Proxy(t *testing.T, reply byte) (addr string, gotReq chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	gotReq = make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf := make([]byte, 256)
		n, _ := conn.Read(buf)
		gotReq <- buf[:n]

		conn.Write([]byte{0x00, reply, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00})
	}()

	return ln.Addr().String(), gotReq
}

func TestDialSOCKS4Granted(t *testing.T) {
	addr, gotReq := fakeSOCKS4Proxy(t, socks4Granted)

	conn, err := Dial(context.Background(), net.DefaultResolver, SOCKS4, addr, "127.0.0.1", 8080, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := <-gotReq
	require.Equal(t, byte(0x04), req[0])
	require.Equal(t, byte(0x01), req[1])
	require.Equal(t, []byte{127, 0, 0, 1}, req[4:8])
	require.Equal(t, byte(0), req[len(req)-1])
}

func TestDialSOCKS4hUsesHostnameFraming(t *testing.T) {
	addr, gotReq := fakeSOCKS4Proxy(t, socks4Granted)

	conn, err := Dial(context.Background(), net.DefaultResolver, SOCKS4h, addr, "example.com", 443, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := <-gotReq
	// SOCKS4A marker: 0.0.0.x with x != 0.
	require.Equal(t, []byte{0, 0, 0, 1}, req[4:8])
	require.Contains(t, string(req), "example.com")
	require.Equal(t, byte(0), req[len(req)-1])
}

func TestDialSOCKS4Rejected(t *testing.T) {
	addr, _ := fakeSOCKS4Proxy(t, socks4Rejected)

	_, err := Dial(context.Background(), net.DefaultResolver, SOCKS4, addr, "127.0.0.1", 8080, nil)
	require.Error(t, err)
	require.True(t, dialerrors.Is(err, dialerrors.KindProxyConnect))
}

func TestDialSOCKS4UnknownStatus(t *testing.T) {
	addr, _ := fakeSOCKS4Proxy(t, 0xFF)

	_, err := Dial(context.Background(), net.DefaultResolver, SOCKS4, addr, "127.0.0.1", 8080, nil)
	require.Error(t, err)
	require.True(t, dialerrors.Is(err, dialerrors.KindProxyConnect))
}

func TestDialSOCKS4TruncatedResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		io.ReadFull(conn, buf[:1])
		conn.Write([]byte{0x00}) // short write, never completes 8 bytes
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}()

	_, err = Dial(context.Background(), net.DefaultResolver, SOCKS4, ln.Addr().String(), "127.0.0.1", 8080, nil)
	require.Error(t, err)
}

// fakeSOCKS5Proxy implements just enough of RFC 1928 (no-auth greeting,
// CONNECT command, IPv4 bound-address reply) to exercise dialSOCKS5.
func fakeSOCKS5Proxy(t *testing.T, rep byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 2)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		nmethods := int(greeting[1])
		io.ReadFull(conn, make([]byte, nmethods))
		conn.Write([]byte{0x05, 0x00}) // version 5, no-auth selected

		header := make([]byte, 4)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		switch header[3] {
		case 0x01: // IPv4
			io.ReadFull(conn, make([]byte, 4+2))
		case 0x03: // domain name
			lenBuf := make([]byte, 1)
			io.ReadFull(conn, lenBuf)
			io.ReadFull(conn, make([]byte, int(lenBuf[0])+2))
		}

		conn.Write([]byte{0x05, rep, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
	}()

	return ln.Addr().String()
}

func TestDialSOCKS5Success(t *testing.T) {
	addr := fakeSOCKS5Proxy(t, 0x00)

	conn, err := Dial(context.Background(), net.DefaultResolver, SOCKS5, addr, "127.0.0.1", 80, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestDialSOCKS5hSuccess(t *testing.T) {
	addr := fakeSOCKS5Proxy(t, 0x00)

	conn, err := Dial(context.Background(), net.DefaultResolver, SOCKS5h, addr, "example.com", 443, nil)
	require.NoError(t, err)
	conn.Close()
}

func TestDialSOCKS5Failure(t *testing.T) {
	addr := fakeSOCKS5Proxy(t, 0x01) // general SOCKS server failure

	_, err := Dial(context.Background(), net.DefaultResolver, SOCKS5, addr, "127.0.0.1", 80, nil)
	require.Error(t, err)
	require.True(t, dialerrors.Is(err, dialerrors.KindProxyConnect))
}

// TestDialSOCKS5hDoesNotResolveTargetLocally proves the "h" variant defers
// target resolution to the proxy: a resolver whose Dial callback would fire
// on any actual DNS query fails the test if queried.
func TestDialSOCKS5hDoesNotResolveTargetLocally(t *testing.T) {
	addr := fakeSOCKS5Proxy(t, 0x00)

	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.Fatal("socks5h must not resolve the target host locally")
			return nil, nil
		},
	}

	conn, err := Dial(context.Background(), resolver, SOCKS5h, addr, "example.com", 443, nil)
	require.NoError(t, err)
	conn.Close()
}

// TestDialSOCKS4hDoesNotResolveTargetLocally is the SOCKS4A analog of the
// above: the 'h' variant must never touch the resolver for the target host.
func TestDialSOCKS4hDoesNotResolveTargetLocally(t *testing.T) {
	addr, _ := fakeSOCKS4Proxy(t, socks4Granted)

	resolver := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			t.Fatal("socks4h must not resolve the target host locally")
			return nil, nil
		},
	}

	conn, err := Dial(context.Background(), resolver, SOCKS4h, addr, "example.com", 443, nil)
	require.NoError(t, err)
	conn.Close()
}
