// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"testing"
	"time"

	"github.com/bassosimone/chancore/chancoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionThreadRefreshesEmptyLinkTimeline(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))

	um.SetTimeline([]*Action{
		{ID: 7, Timestamp: t0.Add(time.Second), LinkID: "linkA", Slots: []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}}},
	})

	// Nothing in the store yet, so the link is due for a refresh.
	c.thread.refreshDueTimelines()

	a, ok := c.actions.lookup(7)
	require.True(t, ok)
	assert.Equal(t, "linkA", a.LinkID)
}

func TestActionThreadSkipsRecentlyRefreshedLink(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))

	um.SetTimeline([]*Action{
		{ID: 1, Timestamp: t0.Add(time.Second), LinkID: "linkA", Slots: []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}}},
	})
	c.thread.refreshDueTimelines()
	require.Contains(t, c.thread.lastRefresh, "linkA")

	// Replace the timeline and refresh again immediately: since the head
	// action (1s out) is still well inside the lookahead window but the
	// link was *just* refreshed, the second call should be a no-op.
	um.SetTimeline([]*Action{
		{ID: 2, Timestamp: t0.Add(time.Second), LinkID: "linkA", Slots: []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}}},
	})
	c.thread.refreshDueTimelines()

	_, stillThereOldID := c.actions.lookup(1)
	assert.True(t, stillThereOldID, "should not have refreshed again so soon")
}

func TestActionThreadOnTimelineUpdatedForcesRefresh(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))

	um.SetTimeline([]*Action{
		{ID: 1, Timestamp: t0.Add(time.Second), LinkID: "linkA", Slots: []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}}},
	})
	c.thread.refreshDueTimelines()

	um.SetTimeline([]*Action{
		{ID: 2, Timestamp: t0.Add(time.Second), LinkID: "linkA", Slots: []*EncodingSlot{{EncodingID: "enc1", MTU: 1500}}},
	})
	c.OnTimelineUpdated("linkA")
	c.thread.refreshDueTimelines()

	_, found := c.actions.lookup(2)
	assert.True(t, found, "OnTimelineUpdated should force the next refresh through")
}

func TestActionThreadPollsWildcardLinksOnInterval(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)
	c.cfg.WildcardFetchInterval = time.Second

	activate(t, c)
	require.NoError(t, c.CreateLink("linkA"))

	_, indefinite := c.tick(c.thread)
	assert.True(t, indefinite)
	require.Len(t, transport.FiredActions, 1, "first tick always polls")

	_, _ = c.tick(c.thread)
	assert.Len(t, transport.FiredActions, 1, "too soon to poll again")

	clock.Advance(time.Second)
	_, _ = c.tick(c.thread)
	assert.Len(t, transport.FiredActions, 2)
}

func TestActionThreadStopReturnsPromptlyWithNoWork(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := chancoretest.NewClock(t0)
	transport := chancoretest.NewTransport()
	um := chancoretest.NewUserModel()
	enc := chancoretest.NewEncoding(1500)
	c, _ := newTestChannel(clock, transport, um, enc)

	require.NoError(t, c.Init())
	done := make(chan struct{})
	go func() {
		c.thread.stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action thread did not stop promptly")
	}
}
