package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeInfoConn struct {
	net.Conn
	h2   bool
	cert []byte
}

func (f *fakeInfoConn) NegotiatedH2() bool        { return f.h2 }
func (f *fakeInfoConn) PeerCertificateDER() []byte { return f.cert }

func TestInfoPlainConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := New(client, false, true)
	info := tr.Info()
	require.False(t, info.IsProxy)
	require.False(t, info.NegotiatedH2)
	require.Nil(t, info.PeerCertificateDER)
}

func TestInfoComposesTLSInfoWhenEnabled(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fake := &fakeInfoConn{Conn: client, h2: true, cert: []byte{0x01, 0x02}}
	tr := New(fake, true, true)

	info := tr.Info()
	require.True(t, info.IsProxy)
	require.True(t, info.NegotiatedH2)
	require.Equal(t, []byte{0x01, 0x02}, info.PeerCertificateDER)
}

func TestInfoOmitsCertificateWhenCollectionDisabled(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fake := &fakeInfoConn{Conn: client, h2: true, cert: []byte{0x01, 0x02}}
	tr := New(fake, false, false)

	info := tr.Info()
	require.True(t, info.NegotiatedH2)
	require.Nil(t, info.PeerCertificateDER)
}

func TestVectoredIOSupportedFalseForNonTCPConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := New(client, false, false)
	require.False(t, tr.VectoredIOSupported())
}

func TestWriteVectoredFallsBackSequentially(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	tr := New(client, false, false)

	readAll := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		total := 0
		for total < 11 {
			n, err := server.Read(buf[total:])
			if err != nil {
				break
			}
			total += n
		}
		readAll <- buf[:total]
	}()

	n, err := tr.WriteVectored([][]byte{[]byte("hello "), []byte("world")})
	require.NoError(t, err)
	require.Equal(t, int64(11), n)
	require.Equal(t, []byte("hello world"), <-readAll)
}

func TestWriteVectoredEmpty(t *testing.T) {
	client, _ := net.Pipe()
	defer client.Close()

	tr := New(client, false, false)
	n, err := tr.WriteVectored(nil)
	require.NoError(t, err)
	require.Zero(t, n)
}
