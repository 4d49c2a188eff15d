package ramsg

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/AdguardTeam/golibs/netutil"
)

// advCurHopLimit is the Cur Hop Limit value placed into every Router
// Advertisement.
const advCurHopLimit = 64

// rdnssLifetime is the lifetime, in seconds, advertised for the recursive
// DNS servers.  See RFC 8106, section 5.1.
const rdnssLifetime = 1200

// advPrefixLen is the prefix length advertised in every Prefix Information
// option.  The daemon only supports /64 prefixes, since that is the only
// length usable for SLAAC on Ethernet-like links.
const advPrefixLen = 64

// Prefix Information option flags.  See RFC 4861, section 4.6.2.
const (
	pioFlagOnLink     = 0x80
	pioFlagAutonomous = 0x40
)

// Advert holds everything needed to build a Router Advertisement packet.
type Advert struct {
	// MAC is the link-layer address carried in the Source Link-Layer
	// Address option.  It must be a valid hardware address.
	MAC net.HardwareAddr

	// Prefixes are the advertised prefixes, one Prefix Information option
	// each.  There must be at least one.
	Prefixes []Prefix

	// RDNSS are the advertised recursive DNS servers.  If empty, no RDNSS
	// option is emitted.
	RDNSS []netip.Addr

	// RouterLifetime is the router lifetime, in seconds.  Zero means the
	// router is not a default router.
	RouterLifetime uint16

	// ValidLifetime is the valid lifetime of the prefixes, in seconds.
	ValidLifetime uint32

	// PreferredLifetime is the preferred lifetime of the prefixes, in
	// seconds.
	PreferredLifetime uint32
}

// BuildRouterAdvert creates a Router Advertisement packet, starting at the
// ICMPv6 header, with a Source Link-Layer Address option, one Prefix
// Information option per prefix, and, if any servers are configured, an
// RDNSS option.  Data scheme:
//
//	ICMPv6:
//	- type[1]
//	- code[1]
//	- chksum[2]
//	- body (RouterAdvertisement):
//	  - Cur Hop Limit[1]
//	  - Flags[1]: MO......
//	  - Router Lifetime[2]
//	  - Reachable Time[4]
//	  - Retrans Timer[4]
//	  - Option=Source link-layer address(1):
//	    - Type[1]
//	    - Length * 8bytes[1]
//	    - Link-Layer Address[6]
//	  - Option=Prefix Information(3), repeated:
//	    - Type[1]
//	    - Length * 8bytes[1]
//	    - Prefix Length[1]
//	    - Flags[1]: LA......
//	    - Valid Lifetime[4]
//	    - Preferred Lifetime[4]
//	    - Reserved[4]
//	    - Prefix[16]
//	  - Option=Recursive DNS Server(25):
//	    - Type[1]
//	    - Length * 8bytes[1]
//	    - Reserved[2]
//	    - Lifetime[4]
//	    - Addresses of IPv6 Recursive DNS Servers[16 each]
func BuildRouterAdvert(adv *Advert) (data []byte, err error) {
	lla, err := linkLayerAddr(adv.MAC)
	if err != nil {
		return nil, fmt.Errorf("converting source link-layer address: %w", err)
	}

	// The length of the Source Link-Layer Address option is in units of
	// eight octets, including the type and length fields, rounded up.  See
	// RFC 4861, section 4.6.1.
	srcLLAOptLen := len(lla) + 2
	srcLLAOptLenValue := (srcLLAOptLen + 7) / 8
	srcLLAPadLen := srcLLAOptLenValue*8 - srcLLAOptLen

	size := lenRouterAdvert + srcLLAOptLen + srcLLAPadLen + lenPIO*len(adv.Prefixes)
	if len(adv.RDNSS) > 0 {
		size += lenRDNSSHdr + net.IPv6len*len(adv.RDNSS)
	}

	data = make([]byte, size)
	i := 0

	// ICMPv6:

	data[i] = TypeRouterAdvert // type
	data[i+1] = 0              // code
	data[i+2] = 0              // chksum, filled in by the kernel
	data[i+3] = 0
	i += 4

	// RouterAdvertisement:

	data[i] = advCurHopLimit // Cur Hop Limit[1]
	i++

	data[i] = 0 // Flags[1]: no M, no O
	i++

	binary.BigEndian.PutUint16(data[i:], adv.RouterLifetime) // Router Lifetime[2]
	i += 2
	binary.BigEndian.PutUint32(data[i:], 0) // Reachable Time[4]
	i += 4
	binary.BigEndian.PutUint32(data[i:], 0) // Retrans Timer[4]
	i += 4

	// Option=Source link-layer address:

	data[i] = optSourceLLAddr
	data[i+1] = byte(srcLLAOptLenValue)
	i += 2
	copy(data[i:], lla)
	i += len(lla) + srcLLAPadLen

	// Option=Prefix Information, one per prefix:

	for _, p := range adv.Prefixes {
		i += putPrefixInfo(data[i:], p, adv.ValidLifetime, adv.PreferredLifetime)
	}

	// Option=Recursive DNS Server:

	if len(adv.RDNSS) > 0 {
		putRDNSS(data[i:], adv.RDNSS)
	}

	return data, nil
}

// lenPIO is the length of a Prefix Information option.
const lenPIO = 32

// putPrefixInfo writes a single Prefix Information option into data and
// returns the number of bytes written.  data must be at least lenPIO bytes
// long.
func putPrefixInfo(data []byte, p Prefix, valid, preferred uint32) (n int) {
	data[0] = optPrefixInfo
	data[1] = lenPIO / 8
	data[2] = advPrefixLen

	data[3] = pioFlagAutonomous
	if p.OnLink {
		data[3] |= pioFlagOnLink
	}

	binary.BigEndian.PutUint32(data[4:], valid)
	binary.BigEndian.PutUint32(data[8:], preferred)
	binary.BigEndian.PutUint32(data[12:], 0) // Reserved

	addr := p.Prefix.Addr().As16()
	copy(data[16:], addr[:])

	return lenPIO
}

// lenRDNSSHdr is the length of the fixed part of the RDNSS option.
const lenRDNSSHdr = 8

// putRDNSS writes the Recursive DNS Server option into data.  data must be
// at least lenRDNSSHdr+16*len(servers) bytes long.
func putRDNSS(data []byte, servers []netip.Addr) {
	data[0] = optRDNSS
	data[1] = byte(1 + 2*len(servers))

	binary.BigEndian.PutUint16(data[2:], 0) // Reserved
	binary.BigEndian.PutUint32(data[4:], rdnssLifetime)

	i := lenRDNSSHdr
	for _, s := range servers {
		addr := s.As16()
		copy(data[i:], addr[:])
		i += net.IPv6len
	}
}

// linkLayerAddr validates hwa and clones it for use in the Source Link-Layer
// Address option.
func linkLayerAddr(hwa net.HardwareAddr) (lla []byte, err error) {
	err = netutil.ValidateMAC(hwa)
	if err != nil {
		// Don't wrap the error, because it already contains enough context.
		return nil, err
	}

	return slices.Clone(hwa), nil
}
