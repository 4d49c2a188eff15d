package ramsg

import (
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/errors"
)

// ndpHopLimit is the hop limit every valid NDP message must arrive with.
// Any other value means the packet has been forwarded, so it cannot have
// originated on the local link.  See RFC 4861, section 6.1.1.
const ndpHopLimit = 255

// Errors returned by ParseRouterSolicit.  Callers are expected to drop the
// packet silently, logging at debug level at most.
const (
	// ErrHopLimit means the message arrived with a hop limit other than 255
	// or without a hop limit record at all.
	ErrHopLimit errors.Error = "hop limit is not 255"

	// ErrShort means the message is shorter than the Router Solicitation
	// header.
	ErrShort errors.Error = "message too short"

	// ErrType means the ICMPv6 type or code is not that of a Router
	// Solicitation.
	ErrType errors.Error = "not a router solicitation"

	// ErrOption means the trailing options do not parse cleanly: an option
	// is truncated, has a zero length, or overruns the buffer.
	ErrOption errors.Error = "bad option"

	// ErrUnspecSrc means the message carries a Source Link-Layer Address
	// option but comes from the unspecified address.  See RFC 4861,
	// section 4.1.
	ErrUnspecSrc errors.Error = "source link-layer address from unspecified source"
)

// RouterSolicit is a validated Router Solicitation.
type RouterSolicit struct {
	// SourceLLAddr is the link-layer address from the Source Link-Layer
	// Address option, if the message carried one, and nil otherwise.
	SourceLLAddr net.HardwareAddr
}

// ParseRouterSolicit validates a Router Solicitation.  data is the ICMPv6
// message starting at the type field, hopLimit is the hop limit from the
// received ancillary data, negative when absent, and src is the IPv6 source
// address of the datagram.
func ParseRouterSolicit(data []byte, hopLimit int, src netip.Addr) (sol *RouterSolicit, err error) {
	if hopLimit != ndpHopLimit {
		return nil, ErrHopLimit
	}

	if len(data) < lenRouterSolicit {
		return nil, ErrShort
	}

	if data[0] != TypeRouterSolicit || data[1] != 0 {
		return nil, ErrType
	}

	sol = &RouterSolicit{}
	for rest := data[lenRouterSolicit:]; len(rest) > 0; {
		var typ byte
		var body []byte
		typ, body, rest, err = nextOption(rest)
		if err != nil {
			// Don't wrap the error, because it already contains enough
			// context.
			return nil, err
		}

		if typ == optSourceLLAddr && len(body) >= 6 {
			sol.SourceLLAddr = net.HardwareAddr(body[:6])
		}
	}

	if sol.SourceLLAddr != nil && (!src.IsValid() || src.IsUnspecified()) {
		return nil, ErrUnspecSrc
	}

	return sol, nil
}

// nextOption consumes one NDP option from data, returning its type, its body
// without the two-byte option header, and the remainder of the buffer.  Each
// option must declare a non-zero length, in units of eight octets, that fits
// entirely within data.  See RFC 4861, section 4.6.
func nextOption(data []byte) (typ byte, body, rest []byte, err error) {
	if len(data) < 8 {
		return 0, nil, nil, ErrOption
	}

	l := int(data[1]) * 8
	if l == 0 || l > len(data) {
		return 0, nil, nil, ErrOption
	}

	return data[0], data[2:l], data[l:], nil
}
