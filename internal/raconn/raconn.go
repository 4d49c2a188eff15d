// Package raconn implements the raw ICMPv6 endpoint the daemon uses to
// receive Router Solicitations and to send Router Advertisements.
package raconn

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// ndpHopLimit is the hop limit for all emitted NDP packets.  See RFC 4861,
// section 6.1.2.
const ndpHopLimit = 255

// readBufLen is the size of the receive buffer.  Router Solicitations are
// bounded by the IPv6 minimum MTU.
const readBufLen = 1280

// Solicit is one datagram received on the ICMPv6 socket, before any
// wire-level validation.
type Solicit struct {
	// Src is the IPv6 source address of the datagram.
	Src netip.Addr

	// Data is the ICMPv6 message, starting at the type field.
	Data []byte

	// HopLimit is the hop limit from the received ancillary data, or -1 if
	// the record was absent.
	HopLimit int

	// IfIndex is the index of the interface the datagram arrived on, or
	// zero if unknown.
	IfIndex int
}

// Conn is a raw ICMPv6 socket configured for Router Advertisement duty: its
// ICMPv6 filter passes only Router Solicitations, and reads carry the
// hop-limit and arriving-interface ancillary data.
type Conn struct {
	pc *icmp.PacketConn
	p6 *ipv6.PacketConn
}

// Open opens and configures the raw ICMPv6 socket.
func Open() (c *Conn, err error) {
	pc, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return nil, fmt.Errorf("opening icmpv6 socket: %w", err)
	}

	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, pc.Close())
		}
	}()

	p6 := pc.IPv6PacketConn()

	// Accept router solicitation messages only.
	var f ipv6.ICMPFilter
	f.SetAll(true)
	f.Accept(ipv6.ICMPTypeRouterSolicitation)
	if err = p6.SetICMPFilter(&f); err != nil {
		return nil, fmt.Errorf("setting icmpv6 filter: %w", err)
	}

	if err = p6.SetControlMessage(ipv6.FlagHopLimit|ipv6.FlagInterface, true); err != nil {
		return nil, fmt.Errorf("enabling control messages: %w", err)
	}

	if err = p6.SetMulticastHopLimit(ndpHopLimit); err != nil {
		return nil, fmt.Errorf("setting multicast hop limit: %w", err)
	}

	if err = p6.SetMulticastLoopback(true); err != nil {
		return nil, fmt.Errorf("enabling multicast loopback: %w", err)
	}

	return &Conn{
		pc: pc,
		p6: p6,
	}, nil
}

// ReadRouterSolicit reads one datagram from the socket.  It blocks until a
// datagram arrives or the socket is closed.
func (c *Conn) ReadRouterSolicit() (sol *Solicit, err error) {
	buf := make([]byte, readBufLen)
	n, cm, src, err := c.p6.ReadFrom(buf)
	if err != nil {
		return nil, fmt.Errorf("reading from icmpv6 socket: %w", err)
	}

	sol = &Solicit{
		Data:     buf[:n],
		HopLimit: -1,
	}

	if cm != nil {
		sol.HopLimit = cm.HopLimit
		sol.IfIndex = cm.IfIndex
	}

	if ipAddr, ok := src.(*net.IPAddr); ok {
		if addr, ok := netip.AddrFromSlice(ipAddr.IP); ok {
			sol.Src = addr.Unmap()
		}
	}

	return sol, nil
}

// WriteRouterAdvert sends a Router Advertisement packet to the all-nodes
// multicast group, forcing the source address to src and the outbound
// interface to ifindex.
func (c *Conn) WriteRouterAdvert(data []byte, src netip.Addr, ifindex int) (err error) {
	cm := &ipv6.ControlMessage{
		HopLimit: ndpHopLimit,
		Src:      src.AsSlice(),
		IfIndex:  ifindex,
	}
	dst := &net.IPAddr{
		IP:   net.IPv6linklocalallnodes,
		Zone: strconv.Itoa(ifindex),
	}

	_, err = c.p6.WriteTo(data, cm, dst)
	if err != nil {
		return fmt.Errorf("sending router advertisement: %w", err)
	}

	return nil
}

// JoinAllRouters joins the all-routers multicast group on ifi.  fresh is
// true if the socket was not already a member; an "already a member" answer
// from the kernel is idempotent success.
func (c *Conn) JoinAllRouters(ifi *net.Interface) (fresh bool, err error) {
	err = c.p6.JoinGroup(ifi, &net.IPAddr{IP: net.IPv6linklocalallrouters})
	if errors.Is(err, unix.EADDRINUSE) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("joining all-routers group: %w", err)
	}

	return true, nil
}

// Close closes the socket, unblocking any pending read.
func (c *Conn) Close() (err error) {
	return c.pc.Close()
}
