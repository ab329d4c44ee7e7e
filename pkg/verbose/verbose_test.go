package verbose

import (
	"net"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/go-dialcore/pkg/transport"
)

func newObservedTap(t *testing.T, level zap.AtomicLevel) (transport.Transport, net.Conn, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(level)
	logger := zap.New(core)

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	tr := transport.New(client, false, false)
	return Wrap(tr, logger), server, logs
}

func TestWrapPassthroughWhenDebugDisabled(t *testing.T) {
	tr, _, _ := newObservedTap(t, zap.NewAtomicLevelAt(zap.InfoLevel))
	_, ok := tr.(*Tap)
	require.False(t, ok, "Wrap should not install a Tap when debug logging is disabled")
}

func TestWrapPassthroughWhenLoggerNil(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := transport.New(client, false, false)
	wrapped := Wrap(tr, nil)
	require.Same(t, tr, wrapped)
}

func TestTapLogsReads(t *testing.T) {
	tr, server, logs := newObservedTap(t, zap.NewAtomicLevelAt(zap.DebugLevel))
	_, ok := tr.(*Tap)
	require.True(t, ok)

	go server.Write([]byte("hello"))

	buf := make([]byte, 5)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	entries := logs.FilterMessage("read").All()
	require.Len(t, entries, 1)
	require.Equal(t, "hello", entries[0].ContextMap()["data"])
	require.EqualValues(t, 5, entries[0].ContextMap()["bytes"])
}

func TestTapLogsWrites(t *testing.T) {
	tr, server, logs := newObservedTap(t, zap.NewAtomicLevelAt(zap.DebugLevel))

	readDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		n, _ := server.Read(buf)
		readDone <- buf[:n]
	}()

	n, err := tr.Write([]byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("ping"), <-readDone)

	entries := logs.FilterMessage("write").All()
	require.Len(t, entries, 1)
	require.Equal(t, "ping", entries[0].ContextMap()["data"])
}

func TestNewIDIsEightLowercaseHexDigits(t *testing.T) {
	id := newID()
	require.Len(t, id, 8)
	for _, r := range id {
		require.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected rune %q in id %q", r, id)
	}
}

func TestNewIDVariesAcrossCalls(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		seen[newID()] = true
	}
	require.Greater(t, len(seen), 1, "newID should not return a constant value across calls")
}

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"printable ascii passes through", []byte("GET / HTTP/1.1"), "GET / HTTP/1.1"},
		{"newline and carriage return", []byte("a\r\nb"), `a\r\nb`},
		{"tab", []byte("a\tb"), `a\tb`},
		{"backslash and quote", []byte(`a\b"c`), `a\\b\"c`},
		{"nul byte", []byte{'a', 0, 'b'}, `a\0b`},
		{"high byte escaped as hex", []byte{0xff}, `\xff`},
		{"del byte escaped as hex", []byte{0x7f}, `\x7f`},
		{"empty input", []byte{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, escape(tt.in))
		})
	}
}
