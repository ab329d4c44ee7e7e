package middleware

import (
	"context"
	"net/url"
	"time"

	"github.com/WhileEndless/go-dialcore/pkg/dialer"
	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
	"github.com/WhileEndless/go-dialcore/pkg/transport"
)

// withTimeout races next against d, Go's idiom for spec.md's "cancellation
// by drop": the abandoned dial's net.Dialer/tls.Conn calls observe
// ctx.Done() internally and unwind on their own once this function
// returns, since both net.Dialer.DialContext and tls.Conn.HandshakeContext
// already honor context cancellation.
func withTimeout(next dialer.DialFunc, d time.Duration) dialer.DialFunc {
	return func(ctx context.Context, target *url.URL) (transport.Transport, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			t   transport.Transport
			err error
		}
		done := make(chan result, 1)
		go func() {
			t, err := next(ctx, target)
			done <- result{t, err}
		}()

		select {
		case r := <-done:
			return r.t, r.err
		case <-ctx.Done():
			return nil, dialerrors.NewTimedOut("dial", d)
		}
	}
}
