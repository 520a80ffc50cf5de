package webhook

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

// MaxCallbackURILength bounds stored callback URIs.
const MaxCallbackURILength = 2048

var blockedPrefixes = mustPrefixes(
	"127.0.0.0/8",        // Loopback
	"10.0.0.0/8",         // Private class A
	"172.16.0.0/12",      // Private class B
	"192.168.0.0/16",     // Private class C
	"169.254.0.0/16",     // Link-local, cloud metadata
	"100.64.0.0/10",      // Carrier-grade NAT
	"0.0.0.0/8",          // "This" network
	"224.0.0.0/4",        // Multicast
	"240.0.0.0/4",        // Reserved
	"255.255.255.255/32", // Broadcast
	"::/128",             // Unspecified
	"::1/128",            // IPv6 loopback
	"fc00::/7",           // IPv6 unique local
	"fe80::/10",          // IPv6 link-local
	"ff00::/8",           // IPv6 multicast
)

var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"metadata":                 true,
	"metadata.google.internal": true,
	"metadata.azure.com":       true,
	"instance-data":            true,
}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// CallbackPolicy decides which callback URIs may be registered and dialed.
type CallbackPolicy struct {
	AllowPrivateNetworks bool
	AllowHTTP            bool
}

// IsBlockedAddr reports whether addr is loopback, private, link-local or
// otherwise internal. IPv4-mapped IPv6 addresses are unmapped first.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllowsAddr reports whether the sender may connect to addr.
func (p CallbackPolicy) AllowsAddr(addr netip.Addr) bool {
	return p.AllowPrivateNetworks || !IsBlockedAddr(addr)
}

// Validate checks a callback URI. It does not resolve DNS; dial-time checks
// cover names that resolve to internal addresses.
func (p CallbackPolicy) Validate(raw string) error {
	if raw == "" {
		return shared.NewValidationError("callback_uri", "is required")
	}
	if len(raw) > MaxCallbackURILength {
		return shared.NewValidationError("callback_uri", fmt.Sprintf("must not exceed %d characters", MaxCallbackURILength))
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return shared.NewValidationError("callback_uri", "must be an absolute URL")
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !p.AllowHTTP {
			return shared.NewValidationError("callback_uri", "must use https")
		}
	default:
		return shared.NewValidationError("callback_uri", "must use http or https")
	}

	if u.User != nil {
		return shared.NewValidationError("callback_uri", "must not embed credentials")
	}

	host := u.Hostname()
	if host == "" {
		return shared.NewValidationError("callback_uri", "must have a hostname")
	}

	if p.AllowPrivateNetworks {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return shared.NewValidationError("callback_uri", "cannot target private or reserved addresses")
		}
		return nil
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return shared.NewValidationError("callback_uri", "has an invalid hostname")
	}
	ascii = strings.TrimSuffix(strings.ToLower(ascii), ".")
	if blockedHosts[ascii] || strings.HasSuffix(ascii, ".localhost") || strings.HasSuffix(ascii, ".internal") {
		return shared.NewValidationError("callback_uri", "cannot target internal hosts")
	}
	return nil
}
