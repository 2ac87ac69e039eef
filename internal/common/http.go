package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RemoteIP returns the address of the peer that sent r. Proxy headers are only
// honoured when an upstream middleware (chi's RealIP) has already rewritten
// RemoteAddr, so the value cannot be spoofed by the client on its own.
func RemoteIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	return HostOnly(r.RemoteAddr)
}

// HostOnly strips an optional port from addr.
func HostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ParseAddr parses addr (with or without port) into a netip.Addr, unmapping
// IPv4-in-IPv6 forms so that allowlists written as IPv4 still match.
func ParseAddr(addr string) (netip.Addr, bool) {
	parsed, err := netip.ParseAddr(HostOnly(addr))
	if err != nil {
		return netip.Addr{}, false
	}
	return parsed.Unmap(), true
}
