// Package safehttp builds outbound HTTP clients for fetching user-supplied
// image URLs. Those clients only reach public addresses, plus the origins
// the service itself publishes images on.
package safehttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedAddress is returned for URLs that resolve to, or name, a
// loopback, private, link-local or otherwise non-public address.
var ErrBlockedAddress = errors.New("safehttp: destination is not a public address")

const maxRedirects = 5

// Ranges not covered by the netip predicates.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// PublicAddr reports whether addr is a globally routable unicast address.
func PublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() {
		return false
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// Guard decides which URLs may be fetched.
type Guard struct {
	trusted map[string]struct{}
}

// NewGuard returns a guard that additionally trusts the host:port of each
// origin, such as the base URL the object store serves images from. Blank or
// unparsable origins are ignored.
func NewGuard(trustedOrigins ...string) *Guard {
	g := &Guard{trusted: make(map[string]struct{})}
	for _, origin := range trustedOrigins {
		u, err := url.Parse(strings.TrimSpace(origin))
		if err != nil || u.Host == "" {
			continue
		}
		g.trusted[hostPort(u)] = struct{}{}
	}
	return g
}

// CheckURL validates raw before any request is made. Only http and https
// are allowed, and hosts written as non-public IP literals or localhost
// names are refused unless trusted. Names that resolve to private
// addresses are caught at dial time by Client.
func (g *Guard) CheckURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("safehttp: parse url: %w", err)
	}
	return g.checkURL(u)
}

func (g *Guard) checkURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("safehttp: scheme %q is not allowed", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("safehttp: url has no host")
	}
	if g.isTrusted(hostPort(u)) {
		return nil
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil && !PublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addr)
	}
	return nil
}

// Client returns an http.Client whose connections are refused unless they
// land on a public address or a trusted origin. Redirects are re-checked
// and capped.
func (g *Guard) Client(timeout time.Duration) *http.Client {
	open := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	guarded := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refuseNonPublic,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// A proxy would be the only address dialed, bypassing the check.
	transport.Proxy = nil
	transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		if g.isTrusted(strings.ToLower(address)) {
			return open.DialContext(ctx, network, address)
		}
		return guarded.DialContext(ctx, network, address)
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("safehttp: stopped after %d redirects", maxRedirects)
			}
			return g.checkURL(req.URL)
		},
	}
}

func (g *Guard) isTrusted(hostport string) bool {
	if g == nil {
		return false
	}
	_, ok := g.trusted[hostport]
	return ok
}

func refuseNonPublic(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !PublicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if strings.EqualFold(u.Scheme, "https") {
			port = "443"
		}
	}
	return net.JoinHostPort(strings.ToLower(u.Hostname()), port)
}
