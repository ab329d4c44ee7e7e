// Package dialer implements the central connection-establishment state
// machine: given a destination URL, it resolves the proxy case, picks a
// TLS backend if one applies, and yields a transport.Transport.
package dialer

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	dialerrors "github.com/WhileEndless/go-dialcore/pkg/errors"
	"github.com/WhileEndless/go-dialcore/pkg/proxyconf"
	"github.com/WhileEndless/go-dialcore/pkg/socksdial"
	"github.com/WhileEndless/go-dialcore/pkg/timing"
	"github.com/WhileEndless/go-dialcore/pkg/tlsbackend"
	"github.com/WhileEndless/go-dialcore/pkg/transport"
	"github.com/WhileEndless/go-dialcore/pkg/tunnel"
	"github.com/WhileEndless/go-dialcore/pkg/verbose"
)

// DialFunc is the shape every middleware layer wraps: given a context and
// a destination URL, produce a transport.Transport or fail.
type DialFunc func(ctx context.Context, target *url.URL) (transport.Transport, error)

// Options configures the inner HTTP dialer and per-connection behavior.
// There is no config-file loader, only Go struct literals.
type Options struct {
	// LocalAddr binds the outbound socket to a specific local address.
	LocalAddr string

	// Interface binds the outbound socket to a named network interface via
	// SO_BINDTODEVICE. Only Linux and Android support it; on every other
	// platform a non-empty Interface makes Dial fail with a KindBadURI
	// error. Connections to SOCKS proxies are not bound.
	Interface string

	// KeepAlive is the TCP keepalive idle duration; zero disables it.
	KeepAlive time.Duration

	// KeepAliveInterval is the interval between keepalive probes.
	KeepAliveInterval time.Duration

	// KeepAliveCount is the number of unacknowledged probes before the
	// connection is considered dead.
	KeepAliveCount int

	// NoDelay sets TCP_NODELAY on the outbound socket when the returned
	// connection exposes it (a *net.TCPConn, directly or under one TLS
	// layer). If this is false
	// and the target is HTTPS, NoDelay is forced true for the duration
	// of the TLS handshake and restored after.
	NoDelay bool

	// EnforceHTTPScheme rejects any target URL whose scheme isn't http
	// or https.
	EnforceHTTPScheme bool

	// ConnectTimeout bounds each TLS handshake the dialer performs, to the
	// target or to an HTTPS proxy. SOCKS and CONNECT round-trips are not
	// bounded by it; only ctx's own deadline applies to them. Zero means
	// no explicit timeout beyond ctx's own deadline.
	ConnectTimeout time.Duration

	// ConnectUserAgent is sent as the User-Agent header on CONNECT
	// requests; empty omits the header.
	ConnectUserAgent string

	// CollectTLSInfo enables peer-certificate capture on both the direct
	// and CONNECT-tunneled HTTPS paths (see DESIGN.md's Open Question
	// decision: this module honors the flag consistently on both paths).
	CollectTLSInfo bool

	// Logger receives the verbose tap's read/write logs at debug level.
	// Nil is treated as a no-op logger.
	Logger *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// innerMode is the tagged-union analog of spec.md's InnerMode: it decides
// whether and how TLS is applied above a raw or proxy-tunneled stream.
type innerMode interface {
	// targetBackend returns the backend used to upgrade the connection to
	// the origin server, or nil in plain mode.
	targetBackend() tlsbackend.Backend

	// proxyBackend returns the backend used to upgrade the connection to
	// an HTTPS proxy itself. Its ALPN list is always empty.
	proxyBackend() tlsbackend.Backend
}

// plainMode carries no TLS backend at all.
type plainMode struct{}

func (plainMode) targetBackend() tlsbackend.Backend { return nil }
func (plainMode) proxyBackend() tlsbackend.Backend  { return nil }

// nativeMode upgrades via the standard library's crypto/tls.
type nativeMode struct {
	backend *tlsbackend.NativeBackend
}

func (m nativeMode) targetBackend() tlsbackend.Backend { return m.backend }
func (m nativeMode) proxyBackend() tlsbackend.Backend  { return m.backend.WithEmptyALPN() }

// utlsMode upgrades via uTLS, carrying two independently configured
// backends exactly as spec.md's Rustls variant describes: one for the
// target (caller's ALPN preferences intact), one for the proxy (ALPN
// cleared, a deep copy so later mutation of the target config can never
// alias into the proxy config).
type utlsMode struct {
	target *tlsbackend.UTLSBackend
	proxy  *tlsbackend.UTLSBackend
}

func (m utlsMode) targetBackend() tlsbackend.Backend { return m.target }
func (m utlsMode) proxyBackend() tlsbackend.Backend  { return m.proxy }

// NewPlainMode returns an innerMode with no TLS backend compiled in.
func NewPlainMode() innerMode { return plainMode{} }

// NewNativeMode returns an innerMode backed by crypto/tls.
func NewNativeMode(backend *tlsbackend.NativeBackend) innerMode {
	return nativeMode{backend: backend}
}

// NewUTLSMode returns an innerMode backed by uTLS, pre-splitting target
// and ALPN-cleared proxy backends.
func NewUTLSMode(backend *tlsbackend.UTLSBackend) innerMode {
	proxy := backend.WithEmptyALPN().(*tlsbackend.UTLSBackend)
	return utlsMode{target: backend, proxy: proxy}
}

// Dialer is the central connection-establishment state machine.
type Dialer struct {
	mode      innerMode
	matchers  []proxyconf.Matcher
	opts      Options
	resolver  *net.Resolver
	netDialer *net.Dialer
}

// New builds a Dialer. matchers are consulted in order; the first to
// match a destination URL owns the dial.
func New(mode innerMode, matchers []proxyconf.Matcher, opts Options) *Dialer {
	if mode == nil {
		mode = plainMode{}
	}
	nd := &net.Dialer{KeepAlive: -1}
	if opts.KeepAlive > 0 {
		nd.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     opts.KeepAlive,
			Interval: opts.KeepAliveInterval,
			Count:    opts.KeepAliveCount,
		}
	}
	if opts.LocalAddr != "" {
		if addr, err := net.ResolveTCPAddr("tcp", opts.LocalAddr); err == nil {
			nd.LocalAddr = addr
		}
	}
	nd.Control = buildControl(opts)

	return &Dialer{
		mode:      mode,
		matchers:  matchers,
		opts:      opts,
		resolver:  net.DefaultResolver,
		netDialer: nd,
	}
}

// Dial implements the five-case decision tree of spec.md §4.6.
func (d *Dialer) Dial(ctx context.Context, target *url.URL) (transport.Transport, error) {
	ctx = timing.WithContext(ctx, timing.NewTimer())
	host := target.Hostname()
	if host == "" {
		return nil, dialerrors.NewBadURI("no host in url")
	}
	if d.opts.Interface != "" && !interfaceBindSupported {
		return nil, dialerrors.NewBadURI("network-interface binding is not supported on this platform")
	}
	if d.opts.EnforceHTTPScheme && target.Scheme != "http" && target.Scheme != "https" {
		return nil, dialerrors.NewBadURI("unsupported target scheme: " + target.Scheme)
	}
	isHTTPS := target.Scheme == "https"
	port := targetPort(target, isHTTPS)

	proxy, matched := d.matchProxy(target)
	if !matched {
		return d.dialDirect(ctx, host, port, isHTTPS)
	}

	switch proxy.Scheme {
	case proxyconf.SchemeSOCKS4, proxyconf.SchemeSOCKS4h, proxyconf.SchemeSOCKS5, proxyconf.SchemeSOCKS5h:
		return d.dialViaSOCKS(ctx, proxy, host, port, isHTTPS)
	case proxyconf.SchemeHTTP, proxyconf.SchemeHTTPS:
		if isHTTPS {
			return d.dialViaHTTPProxyTunneled(ctx, proxy, host, port)
		}
		return d.dialViaHTTPProxyPlain(ctx, proxy)
	default:
		// Unreachable by construction: proxyconf.ParseProxyURL and every
		// Matcher only ever produce the schemes handled above.
		return nil, dialerrors.NewBadURI("unsupported proxy scheme")
	}
}

func (d *Dialer) matchProxy(target *url.URL) (*proxyconf.Intercepted, bool) {
	for _, m := range d.matchers {
		if desc, ok := m.Match(target); ok {
			return desc, true
		}
	}
	return nil, false
}

func targetPort(target *url.URL, isHTTPS bool) int {
	if p := target.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if isHTTPS {
		return 443
	}
	return 80
}

// case 2: direct dial.
func (d *Dialer) dialDirect(ctx context.Context, host string, port int, isHTTPS bool) (transport.Transport, error) {
	connectHost, err := d.resolveDirectHost(ctx, host)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(connectHost, strconv.Itoa(port))

	timer := timing.FromContext(ctx)
	timer.StartTCP()
	conn, err := d.netDialer.DialContext(ctx, "tcp", addr)
	timer.EndTCP()
	if err != nil {
		return nil, dialerrors.NewTransport("dial", err)
	}

	if !isHTTPS || d.mode.targetBackend() == nil {
		return d.finish(ctx, conn, false), nil
	}

	tlsConn, err := d.handshake(ctx, conn, d.mode.targetBackend(), host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return d.finish(ctx, tlsConn, false), nil
}

// resolveDirectHost resolves host to a dialable address for the direct-dial
// path, recording the lookup on the dial's timer. IP literals are returned
// unchanged and never start the DNS phase, matching socksdial's non-h
// resolve helpers (resolveTarget/resolveTargetIPv4).
func (d *Dialer) resolveDirectHost(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	timer := timing.FromContext(ctx)
	timer.StartDNS()
	addrs, err := d.resolver.LookupHost(ctx, host)
	timer.EndDNS()
	if err != nil {
		return "", dialerrors.NewTransport("dial", err)
	}
	if len(addrs) == 0 {
		return "", dialerrors.NewTransport("dial", errors.New("lookup "+host+": no addresses found"))
	}
	return addrs[0], nil
}

// case 3: SOCKS proxy match.
func (d *Dialer) dialViaSOCKS(ctx context.Context, proxy *proxyconf.Intercepted, host string, port int, isHTTPS bool) (transport.Transport, error) {
	mode := socksMode(proxy.Scheme)

	var auth *socksdial.Auth
	if proxy.Scheme == proxyconf.SchemeSOCKS5 || proxy.Scheme == proxyconf.SchemeSOCKS5h {
		if proxy.Username != "" {
			auth = &socksdial.Auth{Username: proxy.Username, Password: proxy.Password}
		}
	}

	timer := timing.FromContext(ctx)
	timer.StartTCP()
	conn, err := socksdial.Dial(ctx, d.resolver, mode, proxy.Addr(), host, port, auth)
	timer.EndTCP()
	if err != nil {
		return nil, err
	}

	if !isHTTPS || d.mode.targetBackend() == nil {
		return d.finish(ctx, conn, false), nil
	}

	tlsConn, err := d.handshake(ctx, conn, d.mode.targetBackend(), host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return d.finish(ctx, tlsConn, false), nil
}

func socksMode(scheme proxyconf.Scheme) socksdial.Mode {
	switch scheme {
	case proxyconf.SchemeSOCKS4:
		return socksdial.SOCKS4
	case proxyconf.SchemeSOCKS4h:
		return socksdial.SOCKS4h
	case proxyconf.SchemeSOCKS5h:
		return socksdial.SOCKS5h
	default:
		return socksdial.SOCKS5
	}
}

// case 4: HTTP(S) proxy, plain-HTTP target.
func (d *Dialer) dialViaHTTPProxyPlain(ctx context.Context, proxy *proxyconf.Intercepted) (transport.Transport, error) {
	conn, err := d.dialToProxy(ctx, proxy)
	if err != nil {
		return nil, err
	}
	return d.finish(ctx, conn, true), nil
}

// case 5: HTTP(S) proxy, HTTPS target — CONNECT tunnel then TLS upgrade.
func (d *Dialer) dialViaHTTPProxyTunneled(ctx context.Context, proxy *proxyconf.Intercepted, host string, port int) (transport.Transport, error) {
	conn, err := d.dialToProxy(ctx, proxy)
	if err != nil {
		return nil, err
	}

	tunneled, err := tunnel.Connect(ctx, conn, host, port, d.opts.ConnectUserAgent, proxy.BasicAuth)
	if err != nil {
		conn.Close()
		return nil, err
	}
	// The CONNECT round-trip belongs to the proxied TCPConnect phase.
	timing.FromContext(ctx).EndTCP()

	if d.mode.targetBackend() == nil {
		return d.finish(ctx, tunneled, false), nil
	}

	tlsConn, err := d.handshake(ctx, tunneled, d.mode.targetBackend(), host)
	if err != nil {
		tunneled.Close()
		return nil, err
	}
	return d.finish(ctx, tlsConn, false), nil
}

// dialToProxy connects to the proxy itself, upgrading to TLS via the
// ALPN-cleared proxy backend when the proxy scheme is https. The proxy
// handshake as a whole (transport connect plus any proxy-side TLS) is
// folded into the TCPConnect phase, matching timing.Metrics' doc comment.
func (d *Dialer) dialToProxy(ctx context.Context, proxy *proxyconf.Intercepted) (net.Conn, error) {
	connectHost, err := d.resolveDirectHost(ctx, proxy.Host)
	if err != nil {
		return nil, err
	}
	proxyAddr := net.JoinHostPort(connectHost, strconv.Itoa(proxy.Port))

	timer := timing.FromContext(ctx)
	timer.StartTCP()
	defer timer.EndTCP()

	conn, err := d.netDialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, dialerrors.NewTransport("dial_proxy", err)
	}

	if proxy.Scheme != proxyconf.SchemeHTTPS {
		return conn, nil
	}

	backend := d.mode.proxyBackend()
	if backend == nil {
		backend = tlsbackend.NewNativeBackend(defaultProxyTLSConfig())
	}

	tlsConn, err := d.handshake(ctx, conn, backend, proxy.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

// handshake scopes TCP_NODELAY to the handshake: if NoDelay is globally
// off, it is forced on for the duration of the TLS handshake and restored
// afterward on every exit path.
func (d *Dialer) handshake(ctx context.Context, conn net.Conn, backend tlsbackend.Backend, serverName string) (net.Conn, error) {
	restore := applyHandshakeNoDelay(conn, d.opts.NoDelay)
	defer restore()

	timer := timing.FromContext(ctx)
	timer.StartTLS()
	defer timer.EndTLS()

	hctx := ctx
	var cancel context.CancelFunc
	if d.opts.ConnectTimeout > 0 {
		hctx, cancel = context.WithTimeout(ctx, d.opts.ConnectTimeout)
		defer cancel()
	}

	tlsConn, err := backend.Handshake(hctx, conn, serverName)
	if err != nil {
		if isInvalidServerName(err) {
			return nil, dialerrors.NewBadURI("Invalid Server Name")
		}
		return nil, err
	}
	return tlsConn, nil
}

// isInvalidServerName reports whether err stems from crypto/tls or uTLS
// rejecting the configured ServerName before any network I/O, as opposed
// to a genuine handshake/certificate failure.
func isInvalidServerName(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "server name")
}

// finish applies Options.NoDelay to the underlying TCP socket when one is
// reachable, then wraps conn into the Transport trait object, applying the
// verbose tap when debug logging is enabled and attaching the phase
// timings accumulated on ctx.
func (d *Dialer) finish(ctx context.Context, conn net.Conn, isProxy bool) transport.Transport {
	if setter, ok := findNoDelaySetter(conn); ok {
		_ = setter.SetNoDelay(d.opts.NoDelay)
	}
	metrics := timing.FromContext(ctx).GetMetrics()
	t := transport.NewWithMetrics(conn, isProxy, d.opts.CollectTLSInfo, metrics)
	return verbose.Wrap(t, d.opts.logger())
}

func defaultProxyTLSConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}
