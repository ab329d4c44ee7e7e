// Package socksdial performs the SOCKS4/SOCKS4h/SOCKS5/SOCKS5h handshake to
// a proxy, choosing local-vs-remote DNS resolution per variant.
package socksdial

import (
	"context"
	"fmt"
	"io"
	"net"

	netproxy "golang.org/x/net/proxy"

	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
	"github.com/WhileEndless/go-dialcore/pkg/timing"
)

// Mode selects the SOCKS protocol version and DNS resolution ownership.
type Mode int

const (
	// SOCKS4 resolves the target hostname locally and sends the resolved
	// IPv4 address to the proxy.
	SOCKS4 Mode = iota
	// SOCKS4h defers target resolution to the proxy (SOCKS4A extension).
	SOCKS4h
	// SOCKS5 resolves the target hostname locally.
	SOCKS5
	// SOCKS5h defers target resolution to the proxy.
	SOCKS5h
)

// Auth carries SOCKS5 username/password credentials. SOCKS4/SOCKS4h only
// ever use an unauthenticated connect, per spec.
type Auth struct {
	Username string
	Password string
}

// Dial performs the SOCKS handshake to proxyAddr and returns the tunneled
// TCP stream to targetHost:targetPort. The proxy address itself is always
// resolved locally via resolver; if that yields no address, Dial fails
// with "proxy dns resolve is empty".
func Dial(ctx context.Context, resolver *net.Resolver, mode Mode, proxyAddr, targetHost string, targetPort int, auth *Auth) (net.Conn, error) {
	if err := verifyProxyResolves(ctx, resolver, proxyAddr); err != nil {
		return nil, err
	}

	switch mode {
	case SOCKS5, SOCKS5h:
		return dialSOCKS5(ctx, resolver, mode, proxyAddr, targetHost, targetPort, auth)
	default:
		return dialSOCKS4(ctx, resolver, mode, proxyAddr, targetHost, targetPort)
	}
}

func verifyProxyResolves(ctx context.Context, resolver *net.Resolver, proxyAddr string) error {
	host, _, err := net.SplitHostPort(proxyAddr)
	if err != nil {
		return dialerrors.NewProxyConnect(proxyAddr, err)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return dialerrors.NewProxyConnect(proxyAddr, err)
	}
	if len(addrs) == 0 {
		return dialerrors.NewProxyConnect(proxyAddr, fmt.Errorf("proxy dns resolve is empty"))
	}
	return nil
}

func dialSOCKS5(ctx context.Context, resolver *net.Resolver, mode Mode, proxyAddr, targetHost string, targetPort int, auth *Auth) (net.Conn, error) {
	var netAuth *netproxy.Auth
	if auth != nil {
		netAuth = &netproxy.Auth{User: auth.Username, Password: auth.Password}
	}

	d, err := netproxy.SOCKS5("tcp", proxyAddr, netAuth, &net.Dialer{})
	if err != nil {
		return nil, dialerrors.NewProxyConnect(proxyAddr, err)
	}

	targetAddr := targetHost
	if mode == SOCKS5 {
		resolved, err := resolveTarget(ctx, resolver, targetHost)
		if err != nil {
			return nil, err
		}
		targetAddr = resolved
	}
	targetAddr = net.JoinHostPort(targetAddr, fmt.Sprintf("%d", targetPort))

	var conn net.Conn
	if cd, ok := d.(netproxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", targetAddr)
	} else {
		conn, err = d.Dial("tcp", targetAddr)
	}
	if err != nil {
		return nil, dialerrors.NewProxyConnect(proxyAddr, err)
	}
	return conn, nil
}

// socks4 status codes, per RFC 1928-adjacent SOCKS4 framing.
const (
	socks4Granted            = 0x5A
	socks4Rejected           = 0x5B
	socks4IdentdUnreachable  = 0x5C
	socks4IdentdAuthFailed   = 0x5D
)

func dialSOCKS4(ctx context.Context, resolver *net.Resolver, mode Mode, proxyAddr, targetHost string, targetPort int) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, dialerrors.NewProxyConnect(proxyAddr, err)
	}

	req := []byte{0x04, 0x01, byte(targetPort >> 8), byte(targetPort & 0xff)}

	if mode == SOCKS4h {
		// SOCKS4A hostname extension: IP field is 0.0.0.x with x != 0,
		// followed by a NUL-terminated user ID then a NUL-terminated
		// hostname.
		req = append(req, 0, 0, 0, 1)
		req = append(req, 0) // empty user ID, NUL-terminated
		req = append(req, []byte(targetHost)...)
		req = append(req, 0)
	} else {
		ip, err := resolveTargetIPv4(ctx, resolver, targetHost)
		if err != nil {
			conn.Close()
			return nil, err
		}
		req = append(req, ip...)
		req = append(req, 0) // empty user ID, NUL-terminated
	}

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, dialerrors.NewProxyConnect(proxyAddr, err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		conn.Close()
		return nil, dialerrors.NewProxyConnect(proxyAddr, err)
	}

	switch resp[1] {
	case socks4Granted:
		return conn, nil
	case socks4Rejected:
		conn.Close()
		return nil, dialerrors.NewProxyConnect(proxyAddr, fmt.Errorf("SOCKS4 request rejected or failed"))
	case socks4IdentdUnreachable:
		conn.Close()
		return nil, dialerrors.NewProxyConnect(proxyAddr, fmt.Errorf("SOCKS4 request failed: identd unreachable"))
	case socks4IdentdAuthFailed:
		conn.Close()
		return nil, dialerrors.NewProxyConnect(proxyAddr, fmt.Errorf("SOCKS4 request failed: identd auth failed"))
	default:
		conn.Close()
		return nil, dialerrors.NewProxyConnect(proxyAddr, fmt.Errorf("SOCKS4 unknown status code: 0x%02X", resp[1]))
	}
}

// resolveTarget resolves host for the SOCKS4/SOCKS5 (non-h) variants, which
// own target resolution locally rather than deferring it to the proxy. The
// lookup is recorded on the dial's *timing.Timer, stashed on ctx by
// pkg/dialer.Dial, the same DNS phase the direct-dial path records.
func resolveTarget(ctx context.Context, resolver *net.Resolver, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}
	timer := timing.FromContext(ctx)
	timer.StartDNS()
	addrs, err := resolver.LookupHost(ctx, host)
	timer.EndDNS()
	if err != nil {
		return "", dialerrors.NewProxyConnect(host, err)
	}
	if len(addrs) == 0 {
		return "", dialerrors.NewProxyConnect(host, fmt.Errorf("target dns resolve is empty"))
	}
	return addrs[0], nil
}

func resolveTargetIPv4(ctx context.Context, resolver *net.Resolver, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	timer := timing.FromContext(ctx)
	timer.StartDNS()
	addrs, err := resolver.LookupIP(ctx, "ip4", host)
	timer.EndDNS()
	if err != nil {
		return nil, dialerrors.NewProxyConnect(host, err)
	}
	for _, ip := range addrs {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, dialerrors.NewProxyConnect(host, fmt.Errorf("no IPv4 address found for %s (SOCKS4 requires IPv4)", host))
}
