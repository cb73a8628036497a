// Package urlguard validates outbound URLs before the engine or the gear
// forwarder dials them, and provides the deadline used to bound those calls.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultNodeTimeout bounds a single outbound http-node call.
const DefaultNodeTimeout = 30 * time.Second

// InvalidURLError indicates a URL that failed to parse or uses a scheme other
// than http/https.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

// DisallowedHostError indicates a host that resolves into a loopback,
// link-local, or private range and is not allow-listed.
type DisallowedHostError struct {
	Host   string
	Reason string
}

func (e *DisallowedHostError) Error() string {
	return fmt.Sprintf("disallowed host %q: %s", e.Host, e.Reason)
}

// Guard validates outbound URLs. AllowHosts holds doublestar patterns
// (e.g. "*.internal.example.com", "127.0.0.1") that bypass the address-range
// checks. The zero value is usable and rejects all private destinations.
type Guard struct {
	AllowHosts []string

	// lookup is swappable for tests. Defaults to net.DefaultResolver.
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// New returns a Guard with the given allow-list patterns.
func New(allowHosts []string) *Guard {
	return &Guard{AllowHosts: allowHosts}
}

// ValidateHTTPURL parses raw and enforces the SSRF policy: scheme must be
// http or https, and the host must either match an allow-list pattern or
// resolve exclusively to public addresses.
func (g *Guard) ValidateHTTPURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &InvalidURLError{URL: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &InvalidURLError{URL: raw, Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &InvalidURLError{URL: raw, Reason: "missing host"}
	}

	if g.hostAllowed(host) {
		return u, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := blockedRange(ip); reason != "" {
			return nil, &DisallowedHostError{Host: host, Reason: reason}
		}
		return u, nil
	}

	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, &DisallowedHostError{Host: host, Reason: fmt.Sprintf("resolution failed: %v", err)}
	}
	for _, a := range addrs {
		if reason := blockedRange(a.IP); reason != "" {
			return nil, &DisallowedHostError{Host: host, Reason: fmt.Sprintf("resolves to %s (%s)", a.IP, reason)}
		}
	}
	return u, nil
}

// WithTimeout returns a context bounded by d, falling back to
// DefaultNodeTimeout when d is zero or negative.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultNodeTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (g *Guard) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, pattern := range g.AllowHosts {
		ok, err := doublestar.Match(strings.ToLower(pattern), host)
		if err == nil && ok {
			return true
		}
	}
	return false
}

func (g *Guard) resolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	if g.lookup != nil {
		return g.lookup(ctx, host)
	}
	return net.DefaultResolver.LookupIPAddr(ctx, host)
}

func blockedRange(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private range"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local"
	case ip.IsUnspecified():
		return "unspecified"
	default:
		return ""
	}
}
