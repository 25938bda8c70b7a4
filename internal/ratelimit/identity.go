package ratelimit

import (
	"net"
	"strings"
)

// UnknownIdentity is shared by every client whose address cannot be
// determined, so they are limited together instead of not at all.
const UnknownIdentity = "unknown"

// ClientIdentity picks the address a request is counted under: the first
// hop of X-Forwarded-For, then the address resolved by the router, then
// the host part of the peer address. The forwarded header is client
// controlled and taken at face value.
func ClientIdentity(forwardedFor, resolved, peer string) string {
	first, _, _ := strings.Cut(forwardedFor, ",")
	if ip := strings.TrimSpace(first); ip != "" {
		return ip
	}

	if ip := strings.TrimSpace(resolved); ip != "" {
		return ip
	}

	peer = strings.TrimSpace(peer)
	if host, _, err := net.SplitHostPort(peer); err == nil && host != "" {
		return host
	}
	if peer != "" {
		return peer
	}

	return UnknownIdentity
}
