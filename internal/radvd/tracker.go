package radvd

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/netip"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
)

// ifaceState is a snapshot of the advertising interface.  The zero value
// means the interface is not usable.
type ifaceState struct {
	// LinkLocal is the link-local address used as the source of the
	// advertisements.
	LinkLocal netip.Addr

	// MAC is the link-layer address of the interface.
	MAC net.HardwareAddr

	// Index is the kernel-assigned interface index.
	Index int

	// OK is true only when the index, the MAC, the link-local address, and
	// the all-routers group membership are all valid.
	OK bool
}

// equal reports whether two snapshots describe the same interface state.
func (s ifaceState) equal(other ifaceState) (ok bool) {
	return s.OK == other.OK &&
		s.Index == other.Index &&
		s.LinkLocal == other.LinkLocal &&
		bytes.Equal(s.MAC, other.MAC)
}

// groupJoiner joins the all-routers multicast group on an interface.  It is
// implemented by the ICMPv6 endpoint.
type groupJoiner interface {
	JoinAllRouters(ifi *net.Interface) (fresh bool, err error)
}

// tracker keeps the daemon's view of the advertising interface in sync with
// the host networking stack.
type tracker struct {
	logger *slog.Logger
	conn   groupJoiner
	ifName string

	// lookupIface and ifaceAddrs are hooks over the net package for tests.
	lookupIface func(name string) (ifi *net.Interface, err error)
	ifaceAddrs  func(ifi *net.Interface) (addrs []net.Addr, err error)

	state ifaceState
}

// newTracker returns a tracker over the system networking stack.
func newTracker(logger *slog.Logger, conn groupJoiner, ifName string) (t *tracker) {
	return &tracker{
		logger:      logger,
		conn:        conn,
		ifName:      ifName,
		lookupIface: net.InterfaceByName,
		ifaceAddrs:  (*net.Interface).Addrs,
	}
}

// refresh discards the current snapshot and rebuilds it from scratch, so a
// failed rebuild never leaves a half-updated view.  advertise is true when
// the caller should schedule an immediate advertisement: either the state
// changed or the multicast group was freshly joined.  Failures are logged as
// warnings and leave the interface not usable until the next kernel event.
func (t *tracker) refresh(ctx context.Context) (advertise bool) {
	prev := t.state
	t.state = ifaceState{}

	ifi, err := t.lookupIface(t.ifName)
	if err != nil {
		t.logger.WarnContext(ctx, "looking up interface", "name", t.ifName, slogutil.KeyError, err)

		return false
	}

	err = netutil.ValidateMAC(ifi.HardwareAddr)
	if err != nil {
		t.logger.WarnContext(ctx, "interface has no usable mac", "name", t.ifName, slogutil.KeyError, err)

		return false
	}

	linkLocal, ok := t.linkLocalAddr(ctx, ifi)
	if !ok {
		t.logger.WarnContext(ctx, "interface has no link-local address", "name", t.ifName)

		return false
	}

	fresh, err := t.conn.JoinAllRouters(ifi)
	if err != nil {
		t.logger.WarnContext(ctx, "joining all-routers group", "name", t.ifName, slogutil.KeyError, err)

		return false
	}

	t.state = ifaceState{
		LinkLocal: linkLocal,
		MAC:       ifi.HardwareAddr,
		Index:     ifi.Index,
		OK:        true,
	}

	if fresh {
		t.logger.DebugContext(ctx, "joined all-routers group", "ifindex", ifi.Index)
	}

	return fresh || !t.state.equal(prev)
}

// linkLocalAddr returns the first IPv6 link-local address bound to ifi.
func (t *tracker) linkLocalAddr(ctx context.Context, ifi *net.Interface) (ll netip.Addr, ok bool) {
	addrs, err := t.ifaceAddrs(ifi)
	if err != nil {
		t.logger.WarnContext(ctx, "listing interface addresses", slogutil.KeyError, err)

		return netip.Addr{}, false
	}

	for _, a := range addrs {
		ipNet, isIPNet := a.(*net.IPNet)
		if !isIPNet {
			continue
		}

		addr, addrOK := netip.AddrFromSlice(ipNet.IP)
		if !addrOK {
			continue
		}

		addr = addr.Unmap()
		if addr.Is6() && addr.IsLinkLocalUnicast() {
			return addr, true
		}
	}

	return netip.Addr{}, false
}
