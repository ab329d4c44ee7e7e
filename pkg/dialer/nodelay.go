package dialer

import "net"

// noDelaySetter is implemented by *net.TCPConn; findNoDelaySetter reaches
// it either directly or through one NetConn() layer (a TLS conn over TCP).
type noDelaySetter interface {
	SetNoDelay(bool) error
}

// applyHandshakeNoDelay scopes TCP_NODELAY to a single TLS handshake: when
// globalNoDelay is false, TCP_NODELAY is forced true for the handshake and
// restored to false on every exit path (success or failure). The returned
// func performs the restore and must be deferred immediately.
func applyHandshakeNoDelay(conn net.Conn, globalNoDelay bool) func() {
	if globalNoDelay {
		return func() {}
	}

	setter, ok := findNoDelaySetter(conn)
	if !ok {
		return func() {}
	}

	_ = setter.SetNoDelay(true)
	return func() {
		_ = setter.SetNoDelay(false)
	}
}

// findNoDelaySetter reaches through one layer of conn wrapping (TLS over
// TCP) to find the *net.TCPConn, since the handshake always operates
// directly on a freshly dialed TCP or proxy-tunneled TCP connection.
func findNoDelaySetter(conn net.Conn) (noDelaySetter, bool) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		return tcp, true
	}
	type netConnUnwrapper interface {
		NetConn() net.Conn
	}
	if u, ok := conn.(netConnUnwrapper); ok {
		if tcp, ok := u.NetConn().(*net.TCPConn); ok {
			return tcp, true
		}
	}
	return nil, false
}
