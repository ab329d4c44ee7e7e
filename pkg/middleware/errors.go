package middleware

import (
	"context"
	"net"
	"net/url"

	"github.com/WhileEndless/go-dialcore/pkg/dialer"
	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
	"github.com/WhileEndless/go-dialcore/pkg/transport"
)

// mapErrors is the outermost chain layer: it normalizes whatever a
// user-installed middleware or the context package hands back into the
// same errors.Kind taxonomy the rest of the module produces, so callers
// never have to special-case context.Canceled/DeadlineExceeded or a raw
// net.Error alongside *errors.Error.
func mapErrors(next dialer.DialFunc) dialer.DialFunc {
	return func(ctx context.Context, target *url.URL) (transport.Transport, error) {
		t, err := next(ctx, target)
		if err == nil {
			return t, nil
		}

		if dialerrors.Is(err, dialerrors.KindTimedOut) ||
			dialerrors.Is(err, dialerrors.KindBadURI) ||
			dialerrors.Is(err, dialerrors.KindProxyConnect) ||
			dialerrors.Is(err, dialerrors.KindTunnelAuthRequired) ||
			dialerrors.Is(err, dialerrors.KindTunnelBadResponse) ||
			dialerrors.Is(err, dialerrors.KindTunnelHeadersTooLong) ||
			dialerrors.Is(err, dialerrors.KindTunnelEOF) ||
			dialerrors.Is(err, dialerrors.KindTLSHandshake) ||
			dialerrors.Is(err, dialerrors.KindTransport) {
			return t, err
		}

		switch {
		case err == context.DeadlineExceeded:
			return nil, dialerrors.NewTimedOut("dial", 0)
		case err == context.Canceled:
			return nil, dialerrors.NewTransport("dial_canceled", err)
		default:
			var netErr net.Error
			if ne, ok := err.(net.Error); ok {
				netErr = ne
				if netErr.Timeout() {
					return nil, dialerrors.NewTimedOut("dial", 0)
				}
			}
			return nil, dialerrors.NewTransport("middleware", err)
		}
	}
}
