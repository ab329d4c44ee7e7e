// Package middleware composes a dialer.Dialer with user-installed layers
// and an optional connect-timeout, the idiomatic Go shape for spec.md's
// "typed service" composer.
package middleware

import (
	"context"
	"net/url"
	"time"

	"github.com/WhileEndless/go-dialcore/pkg/dialer"
	"github.com/WhileEndless/go-dialcore/pkg/transport"
)

// Middleware wraps one DialFunc with another, the same shape as
// net/http-adjacent middleware (func(http.Handler) http.Handler)
// generalized to dialer.DialFunc.
type Middleware func(dialer.DialFunc) dialer.DialFunc

// Composer is either the Simple or Layered shape of spec.md §4.7.
type Composer interface {
	Dial(ctx context.Context, target *url.URL) (transport.Transport, error)
}

// Compose builds a Composer around d. With no middleware, it returns the
// Simple shape (a single context.WithTimeout inline, no extra
// indirection); with one or more middleware, it returns the Layered
// shape: user layers applied in order (first in the list is innermost),
// then an outer timeout layer, then a final error-mapping layer.
func Compose(d *dialer.Dialer, timeout time.Duration, mw ...Middleware) Composer {
	if len(mw) == 0 {
		return &simple{d: d, timeout: timeout}
	}

	chain := d.Dial
	for i := 0; i < len(mw); i++ {
		chain = mw[i](chain)
	}
	if timeout > 0 {
		chain = withTimeout(chain, timeout)
	}
	chain = mapErrors(chain)

	return &layered{chain: chain}
}

// simple embeds the Dialer directly with its timeout applied inline,
// avoiding the extra indirection of a pre-built middleware chain when no
// user layers are present.
type simple struct {
	d       *dialer.Dialer
	timeout time.Duration
}

// Dial implements Composer.
func (s *simple) Dial(ctx context.Context, target *url.URL) (transport.Transport, error) {
	if s.timeout <= 0 {
		return s.d.Dial(ctx, target)
	}
	return withTimeout(s.d.Dial, s.timeout)(ctx, target)
}

// layered is the Dialer erased behind a pre-built middleware chain.
type layered struct {
	chain dialer.DialFunc
}

// Dial implements Composer.
func (l *layered) Dial(ctx context.Context, target *url.URL) (transport.Transport, error) {
	return l.chain(ctx, target)
}
