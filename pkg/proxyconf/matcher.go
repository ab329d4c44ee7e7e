package proxyconf

import (
	"net/url"
	"os"
	"strings"
)

// StaticMatcher is an ordered slice of pre-parsed rules, each applying to
// one destination scheme ("http" or "https", matching url.URL.Scheme) or
// to any scheme when Scheme is empty.
type StaticMatcher struct {
	Rules []StaticRule
}

// StaticRule pairs a destination scheme with the proxy to use for it.
type StaticRule struct {
	Scheme string
	Proxy  *Intercepted
}

// Match implements Matcher.
func (m *StaticMatcher) Match(target *url.URL) (*Intercepted, bool) {
	for _, rule := range m.Rules {
		if rule.Scheme == "" || rule.Scheme == target.Scheme {
			return rule.Proxy, true
		}
	}
	return nil, false
}

// EnvMatcher reads proxy configuration from environment variables, mirroring
// the precedence SOCKS5_PROXY > HTTPS_PROXY > HTTP_PROXY (both upper and
// lower case honored), and excludes hosts listed in NO_PROXY/no_proxy
// (comma-separated host or domain-suffix list).
type EnvMatcher struct {
	lookup func(string) (string, bool)
}

// NewEnvMatcher builds an EnvMatcher backed by os.LookupEnv.
func NewEnvMatcher() *EnvMatcher {
	return &EnvMatcher{lookup: os.LookupEnv}
}

func (m *EnvMatcher) getenv(keys ...string) string {
	for _, k := range keys {
		if v, ok := m.lookup(k); ok && v != "" {
			return v
		}
	}
	return ""
}

// Match implements Matcher.
func (m *EnvMatcher) Match(target *url.URL) (*Intercepted, bool) {
	if m.noProxy(target.Hostname()) {
		return nil, false
	}

	if v := m.getenv("SOCKS5_PROXY", "socks5_proxy"); v != "" {
		if desc, err := ParseProxyURL(v); err == nil {
			return desc, true
		}
	}
	if v := m.getenv("HTTPS_PROXY", "https_proxy"); v != "" {
		if desc, err := ParseProxyURL(v); err == nil {
			return desc, true
		}
	}
	if v := m.getenv("HTTP_PROXY", "http_proxy"); v != "" {
		if desc, err := ParseProxyURL(v); err == nil {
			return desc, true
		}
	}
	return nil, false
}

func (m *EnvMatcher) noProxy(host string) bool {
	list := m.getenv("NO_PROXY", "no_proxy")
	if list == "" {
		return false
	}
	host = strings.ToLower(host)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		entry = strings.TrimPrefix(entry, ".")
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
