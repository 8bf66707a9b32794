package pool

import (
	"context"
	"net"
	"net/url"

	"nostr-feed/internal/util"
)

// isRelayURLSafe validates that a normalized relay URL is safe to connect to.
// Allows loopback for development but blocks other private IP ranges.
func isRelayURLSafe(ctx context.Context, resolver *net.Resolver, relayURL string) bool {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		return false
	}
	if util.IsLoopbackHost(host) {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return isRelayIPSafe(ip)
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		// Unresolvable names fail at dial time; only obvious internal names are blocked here
		return !util.IsInternalHost(host)
	}
	for _, addr := range addrs {
		if !isRelayIPSafe(addr.IP) {
			return false
		}
	}
	return true
}

var metadataIP = net.ParseIP("169.254.169.254")

// isRelayIPSafe checks if an IP is safe for relay connections
func isRelayIPSafe(ip net.IP) bool {
	switch {
	case ip == nil:
		return false
	case ip.IsLoopback():
		return true
	case ip.IsPrivate(),
		ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(),
		ip.IsUnspecified(),
		ip.IsMulticast(),
		ip.Equal(metadataIP):
		return false
	}
	return true
}
