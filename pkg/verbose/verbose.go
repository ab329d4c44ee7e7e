// Package verbose provides an optional trace-logging wrapper around any
// transport.Transport, gated on a logger's debug level.
package verbose

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/WhileEndless/go-dialcore/pkg/transport"
)

// Tap wraps a transport.Transport, logging every successful read and write
// at debug level when the wrapped logger's core has debug enabled.
type Tap struct {
	transport.Transport
	logger *zap.Logger
	id     string
}

// Wrap returns conn unchanged if logger is nil or debug logging is
// disabled; otherwise it returns a Tap that logs reads/writes through
// logger, prefixed by a random 8-hex-digit id so interleaved streams
// printed to the same sink stay distinguishable.
func Wrap(conn transport.Transport, logger *zap.Logger) transport.Transport {
	if logger == nil || !logger.Core().Enabled(zapcore.DebugLevel) {
		return conn
	}
	return &Tap{Transport: conn, logger: logger, id: newID()}
}

func newID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "00000000"
	}
	id := binary.BigEndian.Uint32(buf[:])
	const hexDigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = hexDigits[id&0xf]
		id >>= 4
	}
	return string(out)
}

// Read logs the bytes actually read, then returns them unmodified.
func (t *Tap) Read(p []byte) (int, error) {
	n, err := t.Transport.Read(p)
	if n > 0 {
		t.logger.Debug("read", zap.String("id", t.id), zap.Int("bytes", n), zap.String("data", escape(p[:n])))
	}
	return n, err
}

// Write logs the bytes actually written, then returns the result unmodified.
func (t *Tap) Write(p []byte) (int, error) {
	n, err := t.Transport.Write(p)
	if n > 0 {
		t.logger.Debug("write", zap.String("id", t.id), zap.Int("bytes", n), zap.String("data", escape(p[:n])))
	}
	return n, err
}

// WriteVectored logs only the bytes actually reported written, walking
// bufs in order, then delegates to the wrapped transport.
func (t *Tap) WriteVectored(bufs [][]byte) (int64, error) {
	n, err := t.Transport.WriteVectored(bufs)
	if n > 0 {
		remaining := n
		var sb strings.Builder
		for _, b := range bufs {
			if remaining <= 0 {
				break
			}
			take := int64(len(b))
			if take > remaining {
				take = remaining
			}
			sb.WriteString(escape(b[:take]))
			remaining -= take
		}
		t.logger.Debug("write_vectored", zap.String("id", t.id), zap.Int64("bytes", n), zap.String("data", sb.String()))
	}
	return n, err
}

// escape renders p as printable ASCII, escaping \n, \r, \t, \\, \", \0,
// and any other non-printable byte as \xHH.
func escape(p []byte) string {
	var sb strings.Builder
	for _, b := range p {
		switch b {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case 0:
			sb.WriteString(`\0`)
		default:
			if b >= 0x20 && b < 0x7f {
				sb.WriteByte(b)
			} else {
				const hexDigits = "0123456789abcdef"
				sb.WriteString(`\x`)
				sb.WriteByte(hexDigits[b>>4])
				sb.WriteByte(hexDigits[b&0xf])
			}
		}
	}
	return sb.String()
}
