package v1

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// singleValueIPHeaders are checked after X-Forwarded-For, in order.
var singleValueIPHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// getClientIP resolves the originating client address behind any chain of
// reverse proxies. Candidates are collected in header-priority order and the
// first public IPv4 wins; a public IPv6 is the fallback. Requests that only
// carry private addresses resolve to loopback.
func getClientIP(c *fiber.Ctx) string {
	var candidates []string

	candidates = append(candidates, strings.Split(c.Get("X-Forwarded-For"), ",")...)
	for _, header := range singleValueIPHeaders {
		if value := c.Get(header); value != "" {
			candidates = append(candidates, value)
		}
	}
	candidates = append(candidates, parseForwardedHeader(c.Get("Forwarded"))...)
	candidates = append(candidates, c.Context().RemoteAddr().String(), c.IP())

	if ip := selectPreferredIP(candidates); ip != "" {
		return ip
	}
	return "127.0.0.1"
}

// selectPreferredIP picks the first public IPv4 from the candidates, or the
// first public IPv6 when no IPv4 is present.
func selectPreferredIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		addr, ok := normalizeIP(raw)
		if !ok || !isPublicAddr(addr) {
			continue
		}

		if addr.Is4() {
			return addr.String()
		}
		if ipv6Fallback == "" {
			ipv6Fallback = addr.String()
		}
	}

	return ipv6Fallback
}

// normalizeIP parses one candidate, tolerating quotes, zone identifiers,
// bracketed IPv6, addr:port combinations and 4-in-6 mapped addresses.
func normalizeIP(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return netip.Addr{}, false
	}

	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().Unmap(), true
	}

	trimmed := clean
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		trimmed = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
	}
	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return addr.Unmap(), true
	}

	if host, _, err := net.SplitHostPort(clean); err == nil {
		return normalizeIP(host)
	}

	return netip.Addr{}, false
}

// isPublicAddr reports whether the address is routable client traffic:
// not RFC 1918/4193 private, loopback, link-local or unspecified.
func isPublicAddr(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsUnspecified()
}

// parseForwardedHeader extracts the for= pairs of an RFC 7239 Forwarded
// header.
func parseForwardedHeader(header string) []string {
	var candidates []string

	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}

	return candidates
}

// generateETag builds a strong ETag from content.
func generateETag(content []byte) string {
	hash := sha256.Sum256(content)
	return `"` + hex.EncodeToString(hash[:]) + `"`
}
