package radvd

import (
	"net"
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testIface is the fake advertising interface used by tracker tests.
var testIface = &net.Interface{
	Index:        2,
	Name:         "eth0",
	HardwareAddr: net.HardwareAddr{0x0A, 0x00, 0x27, 0x00, 0x00, 0x00},
}

// testLinkLocal is the link-local address of testIface.
var testLinkLocal = &net.IPNet{
	IP:   net.ParseIP("fe80::800:27ff:fe00:0"),
	Mask: net.CIDRMask(64, 128),
}

// fakeJoiner is a groupJoiner recording join calls.
type fakeJoiner struct {
	fresh bool
	err   error
	calls int
}

// JoinAllRouters implements the groupJoiner interface for *fakeJoiner.
func (j *fakeJoiner) JoinAllRouters(_ *net.Interface) (fresh bool, err error) {
	j.calls++

	return j.fresh, j.err
}

// newTestTracker returns a tracker over the fake interface.
func newTestTracker(tb testing.TB, joiner *fakeJoiner) (trk *tracker) {
	tb.Helper()

	trk = newTracker(slogutil.NewDiscardLogger(), joiner, testIface.Name)
	trk.lookupIface = func(_ string) (ifi *net.Interface, err error) {
		return testIface, nil
	}
	trk.ifaceAddrs = func(_ *net.Interface) (addrs []net.Addr, err error) {
		return []net.Addr{testLinkLocal}, nil
	}

	return trk
}

func TestTracker_refresh(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	joiner := &fakeJoiner{fresh: true}
	trk := newTestTracker(t, joiner)

	advertise := trk.refresh(ctx)
	assert.True(t, advertise)

	st := trk.state
	require.True(t, st.OK)
	assert.Equal(t, testIface.Index, st.Index)
	assert.Equal(t, testIface.HardwareAddr, st.MAC)
	assert.Equal(t, "fe80::800:27ff:fe00:0", st.LinkLocal.String())

	// A second refresh with no actual change and an idempotent group join
	// must not request another advertisement.
	joiner.fresh = false
	advertise = trk.refresh(ctx)
	assert.False(t, advertise)
	assert.Equal(t, 2, joiner.calls)

	// A fresh join alone requests one even if nothing else changed.
	joiner.fresh = true
	advertise = trk.refresh(ctx)
	assert.True(t, advertise)
}

func TestTracker_refresh_failures(t *testing.T) {
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	testCases := []struct {
		name   string
		mutate func(trk *tracker)
	}{{
		name: "lookup_fails",
		mutate: func(trk *tracker) {
			trk.lookupIface = func(_ string) (ifi *net.Interface, err error) {
				return nil, errors.Error("no such interface")
			}
		},
	}, {
		name: "no_mac",
		mutate: func(trk *tracker) {
			trk.lookupIface = func(_ string) (ifi *net.Interface, err error) {
				return &net.Interface{Index: 2, Name: "eth0"}, nil
			}
		},
	}, {
		name: "no_link_local",
		mutate: func(trk *tracker) {
			trk.ifaceAddrs = func(_ *net.Interface) (addrs []net.Addr, err error) {
				return []net.Addr{&net.IPNet{
					IP:   net.ParseIP("2001:db8::1"),
					Mask: net.CIDRMask(64, 128),
				}}, nil
			}
		},
	}, {
		name: "addrs_fail",
		mutate: func(trk *tracker) {
			trk.ifaceAddrs = func(_ *net.Interface) (addrs []net.Addr, err error) {
				return nil, errors.Error("netlinkrib: try again")
			}
		},
	}, {
		name: "join_fails",
		mutate: func(trk *tracker) {
			trk.conn = &fakeJoiner{err: errors.Error("operation not permitted")}
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			trk := newTestTracker(t, &fakeJoiner{fresh: true})

			// Become usable first to check that a failed refresh clears the
			// whole state.
			_ = trk.refresh(ctx)
			require.True(t, trk.state.OK)

			tc.mutate(trk)

			advertise := trk.refresh(ctx)
			assert.False(t, advertise)
			assert.Equal(t, ifaceState{}, trk.state)
		})
	}
}
