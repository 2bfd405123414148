// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"testing"
	"time"

	"github.com/bassosimone/chancore/chancoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activate drives a freshly constructed channel through
// init/start/activate without spawning the background action thread,
// so the test can call tick() deterministically.
func activate(t *testing.T, c *Channel) {
	t.Helper()
	require.NoError(t, c.lifecycle.beginInit())
	c.OnComponentStateChanged(true, ComponentStateStarted, nil)
	c.OnComponentStateChanged(false, ComponentStateStarted, nil)
	require.Equal(t, StateUnactivated, c.lifecycle.state)
	require.NoError(t, c.ActivateChannel("chan1", "role"))
	c.OnComponentStateChanged(true, ComponentStateStarted, nil)
	c.OnComponentStateChanged(false, ComponentStateStarted, nil)
	require.Equal(t, StateActivated, c.lifecycle.state)
}

func newTestChannel(clock *chancoretest.Clock, transport *chancoretest.Transport, um *chancoretest.UserModel, enc *chancoretest.Encoding) (*Channel, *chancoretest.SDK) {
	sdk := chancoretest.NewSDK()
	cfg := NewConfig()
	cfg.TimeNow = clock.Now
	cfg.MaxEncodingTime = 0
	cfg.LookaheadWindow = time.Minute
	cfg.WildcardFetchInterval = time.Hour
	c := NewChannel("chan1", FramingSingle, sdk, transport, um, map[string]Encoding{"enc1": enc}, cfg)
	return c, sdk
}

func TestChannelSendFireAck(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, sdk := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))
	require.NoError(t, c.OpenConnection("linkA", "connA"))

	um.SetTimeline([]*Action{
		{
			ID:        1,
			Timestamp: t0.Add(5 * time.Millisecond),
			LinkID:    "linkA",
			Slots:     []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}},
		},
	})
	c.thread.refreshDueTimelines()

	handle, err := c.SendPackage("linkA", "connA", []byte("hello"), time.Time{})
	require.NoError(t, err)

	sleepFor, indefinite := c.tick(c.thread)
	require.False(t, indefinite)
	assert.Equal(t, 5*time.Millisecond, sleepFor)
	assert.Empty(t, transport.Staged, "too early to encode")

	clock.Advance(5 * time.Millisecond)
	_, indefinite = c.tick(c.thread)
	require.False(t, indefinite)
	assert.Empty(t, transport.Staged, "encoded bytes are staged only when the action fires")
	assert.Len(t, transport.FiredActions, 1, "only the first tick's wildcard poll: not fired until encode completes")

	enc.CompleteEncodes(c)

	_, indefinite = c.tick(c.thread)
	assert.True(t, indefinite, "nothing left scheduled on this link")
	require.Len(t, transport.FiredActions, 2, "the first tick's wildcard poll, then the action")
	require.Len(t, transport.Staged, 1)
	assert.Equal(t, EncodeSingle([]byte("hello")), transport.Staged[0])

	for _, h := range transport.LastFiredHandles() {
		c.OnPackageStatusChanged(h, true, nil)
	}

	events := sdk.PackageEventsSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, handle, events[0].Handle)
	assert.Equal(t, PackageSent, events[0].Status)
}

func TestChannelReceiveDelivers(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, sdk := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))
	require.NoError(t, c.OpenConnection("linkA", "connA"))

	framed := EncodeSingle([]byte("payload"))
	require.NoError(t, c.OnReceive("linkA", EncodingParams{EncodingID: "enc1"}, framed))
	enc.CompleteDecodes(c)

	require.Len(t, sdk.Received, 1)
	assert.Equal(t, []byte("payload"), sdk.Received[0].Bytes)
	assert.Equal(t, []string{"connA"}, sdk.Received[0].ConnectionIDs)
}

func TestChannelSendPackageRejectedBeforeActivation(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	_, err := c.SendPackage("linkA", "connA", []byte("x"), time.Time{})
	got, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindNotReady, got.Kind)
}

func TestChannelDeadlineExpiresPackage(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, sdk := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))
	require.NoError(t, c.OpenConnection("linkA", "connA"))

	// No action scheduled on this link at all, so the package can only
	// ever time out.
	handle, err := c.SendPackage("linkA", "connA", []byte("hello"), t0.Add(time.Millisecond))
	require.NoError(t, err)

	clock.Advance(2 * time.Millisecond)
	c.tick(c.thread)

	events := sdk.PackageEventsSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, handle, events[0].Handle)
	assert.Equal(t, PackageFailedTimeout, events[0].Status)
}

func TestChannelDestroyLinkReclaimsActions(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, sdk := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))
	require.NoError(t, c.OpenConnection("linkA", "connA"))

	um.SetTimeline([]*Action{
		{ID: 1, Timestamp: t0.Add(time.Hour), LinkID: "linkA", Slots: []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}}},
	})
	c.thread.refreshDueTimelines()

	handle, err := c.SendPackage("linkA", "connA", []byte("hello"), time.Time{})
	require.NoError(t, err)
	_, found := c.actions.lookup(1)
	require.True(t, found)

	require.NoError(t, c.DestroyLink("linkA"))

	linkEvents := sdk.LinkEvents
	require.NotEmpty(t, linkEvents)
	assert.Equal(t, LinkDestroyed, linkEvents[len(linkEvents)-1].Status)

	_, found = c.actions.lookup(1)
	assert.False(t, found, "destroying the link should drop its actions")

	events := sdk.PackageEventsSnapshot()
	require.Len(t, events, 1)
	assert.Equal(t, handle, events[0].Handle)
	assert.Equal(t, PackageFailedGeneric, events[0].Status)
}

func TestChannelStartStopBackgroundThread(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	require.NoError(t, c.Init())
	c.Shutdown()
}

func TestChannelActivateCallsBothComponents(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.DeactivateChannel())

	assert.Equal(t, []string{"activated", "deactivated"}, um.Events())
}
