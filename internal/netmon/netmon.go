// Package netmon watches the kernel's rtnetlink stream for the link and IPv6
// address changes the daemon cares about.  Only the fixed message headers are
// decoded, since the daemon re-reads the full interface state on every
// relevant change anyway.
package netmon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

// EventType is the kind of an interface change event.
type EventType uint8

// EventType values.
const (
	// EventLinkNew is a link creation or a link state change.
	EventLinkNew EventType = iota

	// EventLinkDel is a link removal.
	EventLinkDel

	// EventAddrNew is an IPv6 address addition.
	EventAddrNew

	// EventAddrDel is an IPv6 address removal.
	EventAddrDel
)

// type check
var _ fmt.Stringer = EventType(0)

// String implements the [fmt.Stringer] interface for EventType.
func (t EventType) String() (s string) {
	switch t {
	case EventLinkNew:
		return "link_new"
	case EventLinkDel:
		return "link_del"
	case EventAddrNew:
		return "addr_new"
	case EventAddrDel:
		return "addr_del"
	default:
		return fmt.Sprintf("!bad_event_%d", uint8(t))
	}
}

// Event is one decoded interface change event.
type Event struct {
	// Type is the kind of the change.
	Type EventType

	// Index is the index of the interface the change concerns.
	Index int
}

// rtnetlinkConn is the subset of [netlink.Conn] the monitor uses.  It is an
// interface to allow tests to feed synthetic messages.
type rtnetlinkConn interface {
	Receive() (msgs []netlink.Message, err error)
	Close() (err error)
}

// dialFunc opens the rtnetlink connection.
type dialFunc func() (conn rtnetlinkConn, err error)

// defaultDial subscribes to the link and IPv6 address multicast groups of
// the routing netlink family.
func defaultDial() (conn rtnetlinkConn, err error) {
	return netlink.Dial(unix.NETLINK_ROUTE, &netlink.Config{
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_IPV6_IFADDR,
	})
}

// Monitor reads and classifies kernel interface change notifications.
type Monitor struct {
	logger *slog.Logger
	conn   rtnetlinkConn
}

// New opens the kernel event channel.  logger must not be nil.
func New(logger *slog.Logger) (m *Monitor, err error) {
	return newMonitor(logger, defaultDial)
}

// newMonitor is the internal constructor allowing a custom dialer.
func newMonitor(logger *slog.Logger, dial dialFunc) (m *Monitor, err error) {
	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("opening rtnetlink socket: %w", err)
	}

	return &Monitor{
		logger: logger,
		conn:   conn,
	}, nil
}

// Receive blocks until the kernel delivers a batch of notifications and
// returns the relevant ones decoded.  Messages of other kinds, and malformed
// ones, are skipped.  An end-of-dump marker stops the processing of the
// batch; an explicit error marker in the stream is returned as an error and
// is fatal to the caller.
func (m *Monitor) Receive(ctx context.Context) (evs []Event, err error) {
	msgs, err := m.conn.Receive()
	if err != nil {
		return nil, fmt.Errorf("receiving rtnetlink messages: %w", err)
	}

	for _, msg := range msgs {
		if msg.Header.Type == unix.NLMSG_DONE {
			break
		}

		if msg.Header.Type == unix.NLMSG_ERROR {
			return nil, fmt.Errorf("rtnetlink stream: %w", errMessage(msg))
		}

		ev, ok := decode(msg)
		if !ok {
			continue
		}

		m.logger.DebugContext(ctx, "kernel event", "type", ev.Type, "ifindex", ev.Index)

		evs = append(evs, ev)
	}

	return evs, nil
}

// errMessage converts an NLMSG_ERROR message into an error.  The message
// body starts with the negated errno value.
func errMessage(msg netlink.Message) (err error) {
	if len(msg.Data) < 4 {
		return errors.Error("truncated error message")
	}

	errno := -int(int32(nlenc.Uint32(msg.Data[:4])))
	if errno == 0 {
		return errors.Error("unexpected acknowledgement")
	}

	return unix.Errno(errno)
}

// decode classifies a single rtnetlink message, pulling the interface index
// out of the fixed header.
func decode(msg netlink.Message) (ev Event, ok bool) {
	switch msg.Header.Type {
	case unix.RTM_NEWLINK, unix.RTM_DELLINK:
		// The interface index is the third field of struct ifinfomsg.
		if len(msg.Data) < unix.SizeofIfInfomsg {
			return Event{}, false
		}

		ev.Index = int(int32(nlenc.Uint32(msg.Data[4:8])))
		if msg.Header.Type == unix.RTM_NEWLINK {
			ev.Type = EventLinkNew
		} else {
			ev.Type = EventLinkDel
		}
	case unix.RTM_NEWADDR, unix.RTM_DELADDR:
		// The interface index is the last field of struct ifaddrmsg.
		if len(msg.Data) < unix.SizeofIfAddrmsg || msg.Data[0] != unix.AF_INET6 {
			return Event{}, false
		}

		ev.Index = int(nlenc.Uint32(msg.Data[4:8]))
		if msg.Header.Type == unix.RTM_NEWADDR {
			ev.Type = EventAddrNew
		} else {
			ev.Type = EventAddrDel
		}
	default:
		return Event{}, false
	}

	return ev, true
}

// Close closes the kernel event channel, unblocking any pending receive.
func (m *Monitor) Close() (err error) {
	return m.conn.Close()
}
