// Package radvd contains the core of the router advertisement daemon: the
// interface tracker, the advertisement scheduler, and the reactor tying them
// to the ICMPv6 endpoint and the kernel event channel.
package radvd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/uradvd/internal/netmon"
	"github.com/AdguardTeam/uradvd/internal/raconn"
	"github.com/AdguardTeam/uradvd/internal/ramsg"
)

// PacketConn is the subset of the ICMPv6 endpoint the daemon needs.  The
// production implementation is [raconn.Conn].
type PacketConn interface {
	groupJoiner

	// ReadRouterSolicit blocks until a datagram arrives or the socket is
	// closed.
	ReadRouterSolicit() (sol *raconn.Solicit, err error)

	// WriteRouterAdvert sends one advertisement packet from src on the
	// interface with index ifindex.
	WriteRouterAdvert(data []byte, src netip.Addr, ifindex int) (err error)

	// Close closes the socket, unblocking any pending read.
	Close() (err error)
}

// EventSource is the kernel interface change channel.  The production
// implementation is [netmon.Monitor].
type EventSource interface {
	// Receive blocks until the kernel delivers a batch of events or the
	// channel is closed.
	Receive(ctx context.Context) (evs []netmon.Event, err error)

	// Close closes the channel, unblocking any pending receive.
	Close() (err error)
}

// Daemon is the router advertisement daemon.  All of its state is owned by
// the reactor goroutine; the two reader goroutines own only their sockets.
type Daemon struct {
	logger  *slog.Logger
	conf    *Config
	clock   timeutil.Clock
	sched   *advertScheduler
	tracker *tracker

	// openConn and openEvents open the two sockets.  They are overridable
	// in tests.
	openConn   func() (conn PacketConn, err error)
	openEvents func() (events EventSource, err error)

	// exit terminates the process on a fatal runtime error.
	exit func(code osutil.ExitCode)

	// lookupIface and ifaceAddrs, when non-nil, replace the system
	// interface queries of the tracker in tests.
	lookupIface func(name string) (ifi *net.Interface, err error)
	ifaceAddrs  func(ifi *net.Interface) (addrs []net.Addr, err error)

	conn   PacketConn
	events EventSource

	sols    chan *raconn.Solicit
	kernEvs chan []netmon.Event
	quit    chan struct{}
	done    chan struct{}
}

// New returns a daemon ready to be started.  conf must be valid.
func New(conf *Config) (d *Daemon, err error) {
	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	src, err := newAdvertRand()
	if err != nil {
		// Don't wrap the error, because it already contains enough context.
		return nil, err
	}

	return &Daemon{
		logger: conf.Logger.With(slogutil.KeyPrefix, "radvd"),
		conf:   conf,
		clock:  timeutil.SystemClock{},
		sched:  newAdvertScheduler(conf, newRandDur(src)),
		openConn: func() (conn PacketConn, oErr error) {
			return raconn.Open()
		},
		openEvents: func() (events EventSource, oErr error) {
			return netmon.New(conf.Logger.With(slogutil.KeyPrefix, "netmon"))
		},
		exit:    os.Exit,
		sols:    make(chan *raconn.Solicit),
		kernEvs: make(chan []netmon.Event),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// type check
var _ service.Interface = (*Daemon)(nil)

// Start implements the [service.Interface] interface for *Daemon.  It opens
// both sockets, performs the initial interface refresh, and launches the
// reactor.
func (d *Daemon) Start(ctx context.Context) (err error) {
	ctx = context.WithoutCancel(ctx)

	d.conn, err = d.openConn()
	if err != nil {
		// Don't wrap the error, because it already contains enough context.
		return err
	}

	d.events, err = d.openEvents()
	if err != nil {
		return errors.WithDeferred(err, d.conn.Close())
	}

	d.tracker = newTracker(d.logger, d.conn, d.conf.IfName)
	if d.lookupIface != nil {
		d.tracker.lookupIface = d.lookupIface
	}
	if d.ifaceAddrs != nil {
		d.tracker.ifaceAddrs = d.ifaceAddrs
	}

	if d.tracker.refresh(ctx) {
		d.sched.scheduleImmediate(d.clock.Now())
	}

	go d.readSolicits(ctx)
	go d.readEvents(ctx)
	go d.run(ctx)

	return nil
}

// Shutdown implements the [service.Interface] interface for *Daemon.
func (d *Daemon) Shutdown(ctx context.Context) (err error) {
	close(d.quit)

	errs := []error{
		d.conn.Close(),
		d.events.Close(),
	}

	select {
	case <-d.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for reactor: %w", ctx.Err()))
	}

	return errors.Join(errs...)
}

// run is the reactor: a single goroutine multiplexing incoming
// solicitations, kernel events, and the advertisement deadline.
func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)
	defer slogutil.RecoverAndLog(ctx, d.logger)

	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if deadline, ok := d.sched.deadline(); ok && d.tracker.state.OK {
			timer = time.NewTimer(max(deadline.Sub(d.clock.Now()), 0))
			timerC = timer.C
		}

		select {
		case <-d.quit:
			if timer != nil {
				timer.Stop()
			}

			return
		case sol := <-d.sols:
			d.handleSolicit(ctx, sol)
		case evs := <-d.kernEvs:
			d.handleEvents(ctx, evs)
		case <-timerC:
			// The deadline check below decides whether to send.
		}

		if timer != nil {
			timer.Stop()
		}

		if d.tracker.state.OK && d.sched.due(d.clock.Now()) {
			d.advertise(ctx)
		}
	}
}

// readSolicits delivers datagrams from the ICMPv6 socket to the reactor.
func (d *Daemon) readSolicits(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, d.logger)

	for {
		sol, err := d.conn.ReadRouterSolicit()
		if err != nil {
			if d.isQuitting() || errors.Is(err, net.ErrClosed) {
				return
			}

			d.logger.WarnContext(ctx, "reading solicitation", slogutil.KeyError, err)

			continue
		}

		select {
		case d.sols <- sol:
		case <-d.quit:
			return
		}
	}
}

// readEvents delivers kernel event batches to the reactor.  An error on the
// event channel that isn't caused by shutdown is fatal.
func (d *Daemon) readEvents(ctx context.Context) {
	defer slogutil.RecoverAndLog(ctx, d.logger)

	for {
		evs, err := d.events.Receive(ctx)
		if err != nil {
			if d.isQuitting() || errors.Is(err, net.ErrClosed) {
				return
			}

			d.logger.ErrorContext(ctx, "kernel event channel failed", slogutil.KeyError, err)
			d.exit(osutil.ExitCodeFailure)

			return
		}

		if len(evs) == 0 {
			continue
		}

		select {
		case d.kernEvs <- evs:
		case <-d.quit:
			return
		}
	}
}

// isQuitting reports whether Shutdown has been called.
func (d *Daemon) isQuitting() (ok bool) {
	select {
	case <-d.quit:
		return true
	default:
		return false
	}
}

// handleSolicit validates one received datagram and, if it is an acceptable
// Router Solicitation for the tracked interface, requests a triggered
// advertisement.  Anything else is dropped silently.
func (d *Daemon) handleSolicit(ctx context.Context, sol *raconn.Solicit) {
	st := d.tracker.state
	if !st.OK || (sol.IfIndex != 0 && sol.IfIndex != st.Index) {
		d.logger.DebugContext(ctx, "dropping solicitation", "src", sol.Src, "ifindex", sol.IfIndex)

		return
	}

	_, err := ramsg.ParseRouterSolicit(sol.Data, sol.HopLimit, sol.Src)
	if err != nil {
		d.logger.DebugContext(ctx, "dropping solicitation", "src", sol.Src, slogutil.KeyError, err)

		return
	}

	d.logger.DebugContext(ctx, "solicited", "src", sol.Src)
	d.sched.scheduleImmediate(d.clock.Now())
}

// handleEvents reacts to a batch of kernel events.  At most one tracker
// refresh is performed per batch: the first relevant event wins and the rest
// of the batch is skipped.
func (d *Daemon) handleEvents(ctx context.Context, evs []netmon.Event) {
	for _, ev := range evs {
		if !d.relevant(ev) {
			continue
		}

		d.logger.DebugContext(ctx, "refreshing", "event", ev.Type, "ifindex", ev.Index)

		wasOK := d.tracker.state.OK
		advertise := d.tracker.refresh(ctx)
		switch {
		case !d.tracker.state.OK:
			if wasOK {
				d.logger.InfoContext(ctx, "interface not usable, suspending advertisements")
			}

			d.sched.reset()
		case advertise:
			if !wasOK {
				d.logger.InfoContext(ctx, "interface usable", "ifindex", d.tracker.state.Index)
			}

			d.sched.scheduleImmediate(d.clock.Now())
		}

		return
	}
}

// relevant reports whether ev may affect the tracked interface.
func (d *Daemon) relevant(ev netmon.Event) (ok bool) {
	st := d.tracker.state
	switch ev.Type {
	case netmon.EventLinkNew:
		// Also covers state changes of the tracked link, since the kernel
		// reports those as new-link messages.
		return !st.OK || ev.Index == st.Index
	case netmon.EventLinkDel, netmon.EventAddrDel:
		return st.OK && ev.Index == st.Index
	case netmon.EventAddrNew:
		return !st.OK
	default:
		return false
	}
}

// advertise builds and sends one Router Advertisement and reschedules the
// periodic deadline.  A send failure suspends advertising until the next
// relevant kernel event.
func (d *Daemon) advertise(ctx context.Context) {
	st := d.tracker.state
	data, err := ramsg.BuildRouterAdvert(&ramsg.Advert{
		MAC:               st.MAC,
		Prefixes:          d.conf.Prefixes,
		RDNSS:             d.conf.RDNSS,
		RouterLifetime:    d.conf.DefaultLifetime,
		ValidLifetime:     d.conf.ValidLifetime,
		PreferredLifetime: d.conf.PreferredLifetime,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "building advertisement", slogutil.KeyError, err)

		return
	}

	err = d.conn.WriteRouterAdvert(data, st.LinkLocal, st.Index)
	now := d.clock.Now()
	if err != nil {
		d.logger.WarnContext(ctx, "sending advertisement", slogutil.KeyError, err)

		d.tracker.state.OK = false
		d.sched.reset()

		return
	}

	d.logger.DebugContext(ctx, "sent advertisement", "ifindex", st.Index)

	d.sched.sent(now)
	d.sched.schedulePeriodic(now)
}
