// Package tunnel implements the CONNECT tunneling handshake used to punch
// a raw byte stream through an HTTP(S) proxy to a target host:port.
package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
)

// maxHeaderBytes bounds the CONNECT response read loop: an 8 KiB fixed
// buffer that is never grown.
const maxHeaderBytes = 8 * 1024

// prefixLen is the length of the status-line prefixes this tunneler
// recognizes ("HTTP/1.1 200", "HTTP/1.0 200", "HTTP/1.1 407"); classification
// is deferred until at least this many bytes have arrived.
const prefixLen = len("HTTP/1.1 200")

var (
	http11OK   = []byte("HTTP/1.1 200")
	http10OK   = []byte("HTTP/1.0 200")
	http407    = []byte("HTTP/1.1 407")
	terminator = []byte("\r\n\r\n")
)

// Connect writes a CONNECT request for host:port over conn and blocks
// until the proxy's response status line resolves to success or failure.
// On success it returns conn unchanged (identity preserved, per the
// seed scenario's "happy tunnel" case). ua and auth are optional; when
// non-empty they are emitted as User-Agent and Proxy-Authorization headers
// respectively, in that order, between Host and the terminating blank line.
func Connect(ctx context.Context, conn net.Conn, host string, port int, ua, auth string) (net.Conn, error) {
	hostPort := fmt.Sprintf("%s:%d", host, port)

	var req bytes.Buffer
	fmt.Fprintf(&req, "CONNECT %s HTTP/1.1\r\n", hostPort)
	fmt.Fprintf(&req, "Host: %s\r\n", hostPort)
	if ua != "" {
		fmt.Fprintf(&req, "User-Agent: %s\r\n", ua)
	}
	if auth != "" {
		fmt.Fprintf(&req, "Proxy-Authorization: %s\r\n", auth)
	}
	req.WriteString("\r\n")

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, dialerrors.NewTransport("tunnel_write", err)
	}

	if err := readResponse(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// readResponse implements the §4.4 read loop: accumulate into an 8 KiB
// buffer until a recognized status-line prefix resolves to success or
// failure.
func readResponse(conn net.Conn) error {
	buf := make([]byte, 0, maxHeaderBytes)

	for {
		n, err := conn.Read(buf[len(buf):cap(buf)])
		if n == 0 {
			return dialerrors.NewTunnelEOF()
		}
		buf = buf[:len(buf)+n]

		if len(buf) < prefixLen {
			if err != nil {
				return dialerrors.NewTunnelEOF()
			}
			continue
		}

		switch {
		case bytes.HasPrefix(buf, http11OK), bytes.HasPrefix(buf, http10OK):
			if bytes.HasSuffix(buf, terminator) {
				return nil
			}
			if len(buf) >= maxHeaderBytes {
				return dialerrors.NewTunnelHeadersTooLong()
			}
			if err != nil {
				return dialerrors.NewTunnelEOF()
			}
		case bytes.HasPrefix(buf, http407):
			return dialerrors.NewTunnelAuthRequired()
		default:
			return dialerrors.NewTunnelBadResponse(statusLine(buf))
		}
	}
}

func statusLine(buf []byte) string {
	if i := bytes.IndexByte(buf, '\n'); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}
