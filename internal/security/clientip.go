package security

import (
	"net"
	"net/netip"
	"strings"
)

// forwardedHeaders are consulted in order. Values are trusted only when they
// parse as public addresses, so a forged header pointing at a private range
// cannot steer the rate limiter.
var forwardedHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("64:ff9b::/96"),
}

// IsPublicIP reports whether s is a routable, non-private, non-reserved address.
func IsPublicIP(s string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() || addr.IsMulticast() {
		return false
	}
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

// ClientIP resolves the caller address. header looks up a request header by name.
func ClientIP(remoteAddr string, header func(string) string) string {
	if header != nil {
		for _, name := range forwardedHeaders {
			v := header(name)
			if v == "" {
				continue
			}
			for _, candidate := range strings.Split(v, ",") {
				candidate = strings.TrimSpace(candidate)
				if IsPublicIP(candidate) {
					return candidate
				}
			}
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
