// Command dialprobe exercises the dialcore connection-establishment core
// against a target URL, optionally through an HTTP(S) or SOCKS proxy,
// with the verbose tap enabled so the wire traffic is visible.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"

	"github.com/WhileEndless/go-dialcore/pkg/dialer"
	"github.com/WhileEndless/go-dialcore/pkg/proxyconf"
	"github.com/WhileEndless/go-dialcore/pkg/tlsbackend"
	"github.com/WhileEndless/go-dialcore/pkg/tlsconfig"
)

// tlsProfile resolves a -tls-profile flag value to the TLS version profile
// applied to either backend; unknown names fall back to ProfileSecure.
func tlsProfile(name string) tlsconfig.VersionProfile {
	switch name {
	case "modern":
		return tlsconfig.ProfileModern
	case "compatible":
		return tlsconfig.ProfileCompatible
	default:
		return tlsconfig.ProfileSecure
	}
}

func main() {
	target := flag.String("url", "https://example.com/", "destination URL")
	proxy := flag.String("proxy", "", "proxy URL (http/https/socks4/socks4h/socks5/socks5h), empty for direct")
	useUTLS := flag.Bool("utls", false, "upgrade TLS via uTLS instead of crypto/tls")
	verbose := flag.Bool("verbose", true, "log every byte read/written at debug level")
	timeout := flag.Duration("timeout", 10*time.Second, "connect timeout")
	profileName := flag.String("tls-profile", "secure", "TLS version/cipher profile: modern, secure, or compatible")
	flag.Parse()

	profile := tlsProfile(*profileName)

	u, err := url.Parse(*target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid url: %v\n", err)
		os.Exit(1)
	}

	var matchers []proxyconf.Matcher
	if *proxy != "" {
		desc, err := proxyconf.ParseProxyURL(*proxy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid proxy url: %v\n", err)
			os.Exit(1)
		}
		matchers = append(matchers, &proxyconf.StaticMatcher{Rules: []proxyconf.StaticRule{{Proxy: desc}}})
	} else {
		matchers = append(matchers, proxyconf.NewEnvMatcher())
	}

	logger := zap.NewNop()
	if *verbose {
		cfg := zap.NewDevelopmentConfig()
		l, err := cfg.Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}

	opts := dialer.Options{
		ConnectTimeout: *timeout,
		CollectTLSInfo: true,
		Logger:         logger,
	}

	var d *dialer.Dialer
	if *useUTLS {
		cfg := &utls.Config{NextProtos: []string{"h2", "http/1.1"}}
		cfg.MinVersion, cfg.MaxVersion = profile.Min, profile.Max
		backend := tlsbackend.NewUTLSBackend(cfg)
		d = dialer.New(dialer.NewUTLSMode(backend), matchers, opts)
	} else {
		cfg := &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
		tlsconfig.ApplyVersionProfile(cfg, profile)
		tlsconfig.ApplyCipherSuites(cfg, profile.Min)
		backend := tlsbackend.NewNativeBackend(cfg)
		d = dialer.New(dialer.NewNativeMode(backend), matchers, opts)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx, u)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	info := conn.Info()
	fmt.Printf("connected: proxy=%v h2=%v vectored_io=%v peer_cert_bytes=%d\n",
		info.IsProxy, info.NegotiatedH2, conn.VectoredIOSupported(), len(info.PeerCertificateDER))
	fmt.Printf("timing: %s\n", info.Metrics.String())
}
