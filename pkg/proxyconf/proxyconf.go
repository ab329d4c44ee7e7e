// Package proxyconf describes proxy descriptors and the matchers that
// produce them from a destination URL.
package proxyconf

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// Scheme enumerates the proxy schemes a Matcher may return.
type Scheme string

const (
	SchemeHTTP    Scheme = "http"
	SchemeHTTPS   Scheme = "https"
	SchemeSOCKS4  Scheme = "socks4"
	SchemeSOCKS4h Scheme = "socks4h"
	SchemeSOCKS5  Scheme = "socks5"
	SchemeSOCKS5h Scheme = "socks5h"
)

// default ports applied when a proxy URL omits one.
const (
	defaultHTTPPort  = 8080
	defaultHTTPSPort = 443
	defaultSOCKSPort = 1080
)

// Intercepted is the immutable descriptor a Matcher produces when a
// destination URL matches a proxy rule.
type Intercepted struct {
	Scheme Scheme
	Host   string
	Port   int

	// BasicAuth is a pre-encoded "Basic ..." header value for HTTP(S)
	// proxies, empty if the proxy requires no authentication.
	BasicAuth string

	// Username/Password are the raw SOCKS5 credentials; SOCKS4/SOCKS4h
	// never authenticate.
	Username string
	Password string
}

// Addr returns the host:port of the proxy itself.
func (i *Intercepted) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Matcher maps a destination URL to at most one Intercepted descriptor.
// Implementations are invoked by the dialer in the order they are
// supplied; the first match wins.
type Matcher interface {
	Match(target *url.URL) (*Intercepted, bool)
}

// ParseProxyURL parses a proxy URL string (http/https/socks4/socks4h/
// socks5/socks5h) into an Intercepted descriptor, applying the scheme's
// default port when the URL omits one.
func ParseProxyURL(proxyURL string) (*Intercepted, error) {
	if proxyURL == "" {
		return nil, fmt.Errorf("proxy URL cannot be empty")
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	scheme := Scheme(u.Scheme)
	switch scheme {
	case SchemeHTTP, SchemeHTTPS, SchemeSOCKS4, SchemeSOCKS4h, SchemeSOCKS5, SchemeSOCKS5h:
		// valid
	case "":
		return nil, fmt.Errorf("proxy URL must include a scheme")
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("proxy URL must include a host")
	}

	var port int
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy port: %s", portStr)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("proxy port must be between 1 and 65535, got: %d", port)
		}
	} else {
		switch scheme {
		case SchemeHTTP:
			port = defaultHTTPPort
		case SchemeHTTPS:
			port = defaultHTTPSPort
		default:
			port = defaultSOCKSPort
		}
	}

	desc := &Intercepted{Scheme: scheme, Host: host, Port: port}
	if u.User != nil {
		desc.Username = u.User.Username()
		desc.Password, _ = u.User.Password()
		if scheme == SchemeHTTP || scheme == SchemeHTTPS {
			desc.BasicAuth = basicAuthHeader(desc.Username, desc.Password)
		}
	}

	return desc, nil
}

func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
