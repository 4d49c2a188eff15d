// Package ramsg contains the wire-level representation of the NDP messages
// the daemon works with: building ICMPv6 Router Advertisement packets and
// validating incoming Router Solicitations.  See RFC 4861, sections 4.1, 4.2,
// and 4.6, and RFC 8106 for the RDNSS option.
//
// The ICMPv6 checksum is left zero in built packets, since the kernel
// computes it for raw ICMPv6 sockets.
package ramsg

import "net/netip"

// ICMPv6 message types used by the daemon.  See RFC 4861, section 4.
const (
	// TypeRouterSolicit is the ICMPv6 Router Solicitation message type.
	TypeRouterSolicit = 133

	// TypeRouterAdvert is the ICMPv6 Router Advertisement message type.
	TypeRouterAdvert = 134
)

// NDP option types.  See RFC 4861, section 4.6, and RFC 8106, section 5.1.
const (
	optSourceLLAddr = 1
	optPrefixInfo   = 3
	optRDNSS        = 25
)

// Lengths of the fixed parts of the messages, in bytes, including the
// four-byte ICMPv6 header.
const (
	lenRouterSolicit = 8
	lenRouterAdvert  = 16
)

// Prefix is a single advertised prefix.
type Prefix struct {
	// Prefix is the advertised prefix.  It must be a valid /64 IPv6 prefix
	// in its masked form.
	Prefix netip.Prefix

	// OnLink defines whether hosts may treat the prefix as directly
	// reachable on the link (the L flag of the Prefix Information option).
	OnLink bool
}
