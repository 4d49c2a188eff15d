package netmon

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// fakeConn is an rtnetlinkConn returning canned message batches.
type fakeConn struct {
	batches [][]netlink.Message
}

// type check
var _ rtnetlinkConn = (*fakeConn)(nil)

// Receive implements the rtnetlinkConn interface for *fakeConn.
func (c *fakeConn) Receive() (msgs []netlink.Message, err error) {
	msgs = c.batches[0]
	c.batches = c.batches[1:]

	return msgs, nil
}

// Close implements the rtnetlinkConn interface for *fakeConn.
func (c *fakeConn) Close() (err error) { return nil }

// linkMsg builds an RTM_NEWLINK or RTM_DELLINK message for the interface
// with the given index.
func linkMsg(typ netlink.HeaderType, index int32) (msg netlink.Message) {
	data := make([]byte, unix.SizeofIfInfomsg)
	data[0] = unix.AF_UNSPEC
	binary.NativeEndian.PutUint32(data[4:8], uint32(index))

	return netlink.Message{
		Header: netlink.Header{Type: typ},
		Data:   data,
	}
}

// addrMsg builds an RTM_NEWADDR or RTM_DELADDR message for the interface
// with the given index.
func addrMsg(typ netlink.HeaderType, family byte, index uint32) (msg netlink.Message) {
	data := make([]byte, unix.SizeofIfAddrmsg)
	data[0] = family
	binary.NativeEndian.PutUint32(data[4:8], index)

	return netlink.Message{
		Header: netlink.Header{Type: typ},
		Data:   data,
	}
}

func TestMonitor_Receive(t *testing.T) {
	conn := &fakeConn{
		batches: [][]netlink.Message{{
			linkMsg(unix.RTM_NEWLINK, 2),
			addrMsg(unix.RTM_NEWADDR, unix.AF_INET6, 2),
			// Skipped: not IPv6.
			addrMsg(unix.RTM_NEWADDR, unix.AF_INET, 2),
			// Skipped: unrelated message kind.
			{Header: netlink.Header{Type: unix.RTM_NEWROUTE}},
			addrMsg(unix.RTM_DELADDR, unix.AF_INET6, 3),
			linkMsg(unix.RTM_DELLINK, 2),
		}, {
			linkMsg(unix.RTM_NEWLINK, 4),
			// The end-of-dump marker stops processing.
			{Header: netlink.Header{Type: unix.NLMSG_DONE}},
			linkMsg(unix.RTM_NEWLINK, 5),
		}, {
			// Skipped: truncated header.
			{Header: netlink.Header{Type: unix.RTM_NEWLINK}, Data: []byte{0, 0, 0}},
		}},
	}

	m, err := newMonitor(slogutil.NewDiscardLogger(), func() (c rtnetlinkConn, dErr error) {
		return conn, nil
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, m.Close)

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	evs, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Event{
		{Type: EventLinkNew, Index: 2},
		{Type: EventAddrNew, Index: 2},
		{Type: EventAddrDel, Index: 3},
		{Type: EventLinkDel, Index: 2},
	}, evs)

	evs, err = m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Event{{Type: EventLinkNew, Index: 4}}, evs)

	evs, err = m.Receive(ctx)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestMonitor_Receive_errorMarker(t *testing.T) {
	errData := make([]byte, 4)
	eperm := int32(unix.EPERM)
	binary.NativeEndian.PutUint32(errData, uint32(-eperm))

	conn := &fakeConn{
		batches: [][]netlink.Message{{
			linkMsg(unix.RTM_NEWLINK, 2),
			{Header: netlink.Header{Type: unix.NLMSG_ERROR}, Data: errData},
		}},
	}

	m, err := newMonitor(slogutil.NewDiscardLogger(), func() (c rtnetlinkConn, dErr error) {
		return conn, nil
	})
	require.NoError(t, err)
	testutil.CleanupAndRequireSuccess(t, m.Close)

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	_, err = m.Receive(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EPERM)
}
