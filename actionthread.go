// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"time"

	"golang.org/x/sync/singleflight"
)

// actionThread is the single cooperative goroutine per [Channel] that
// advances time: firing scheduled actions, encoding ahead of schedule,
// refreshing timelines, and polling wildcard links.
type actionThread struct {
	ch *Channel

	wake     chan struct{}
	stopping chan struct{}
	stopped  chan struct{}

	refreshGroup     singleflight.Group
	lastRefresh      map[string]time.Time
	lastWildcardPoll time.Time
}

// newActionThread returns an action thread bound to ch, not yet started.
func newActionThread(ch *Channel) *actionThread {
	return &actionThread{
		ch:          ch,
		wake:        make(chan struct{}, 1),
		stopping:    make(chan struct{}),
		stopped:     make(chan struct{}),
		lastRefresh: make(map[string]time.Time),
	}
}

// start launches the background loop.
func (t *actionThread) start() {
	go t.loop()
}

// signal wakes the loop if it is sleeping; a no-op if a wakeup is
// already pending, since the loop re-evaluates everything on wake
// regardless of which event triggered it.
func (t *actionThread) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// stop signals the loop to exit and waits for it to do so. The loop
// returns at its next check of the stop signal without running another
// refresh or tick, so actions still pending are not fired first.
func (t *actionThread) stop() {
	close(t.stopping)
	t.signal()
	<-t.stopped
}

func (t *actionThread) loop() {
	defer close(t.stopped)
	for {
		select {
		case <-t.stopping:
			return
		default:
		}

		t.refreshDueTimelines()

		sleepFor, indefinite := t.ch.tick(t)
		if indefinite {
			select {
			case <-t.stopping:
				return
			case <-t.wake:
			}
			continue
		}
		if sleepFor <= 0 {
			continue // something is ready right now
		}

		timer := time.NewTimer(sleepFor)
		select {
		case <-timer.C:
		case <-t.wake:
			timer.Stop()
		case <-t.stopping:
			timer.Stop()
			return
		}
	}
}

// refreshDueTimelines asks the User Model for a fresh timeline whenever
// any bucket's head action is within the lookahead window, or has no
// actions yet; the same path is reused when [Channel.OnTimelineUpdated]
// fires or a link is created/destroyed. GetTimeline takes no link
// argument: it returns one composition-wide timeline, so one call's
// result is partitioned by each returned action's own LinkID
// (WildcardLinkID for actions the send pipeline must still commit to a
// link) and merged into every due bucket at once. Concurrent refreshes
// collapse onto one underlying call via singleflight; GetTimeline is
// called without the channel mutex held.
func (t *actionThread) refreshDueTimelines() {
	now := t.ch.cfg.TimeNow()
	due := t.ch.bucketsDueForRefresh(now, t.lastRefresh)
	if len(due) == 0 {
		return
	}

	start, end := now, now.Add(t.ch.cfg.LookaheadWindow)
	v, err, _ := t.refreshGroup.Do("*", func() (any, error) {
		return t.ch.userModel.GetTimeline(start, end)
	})
	for _, bucketKey := range due {
		t.lastRefresh[bucketKey] = now
	}
	if err != nil {
		t.ch.logger.Info("action thread: get_timeline failed", "error", err)
		return
	}

	all, _ := v.([]*Action)
	byBucket := partitionActionsByBucket(all, due)
	for _, bucketKey := range due {
		t.ch.applyTimelineRefresh(bucketKey, byBucket[bucketKey], start)
	}
}

// partitionActionsByBucket groups actions by their declared (possibly
// wildcard) LinkID, keeping only buckets the caller is about to refresh.
func partitionActionsByBucket(all []*Action, buckets []string) map[string][]*Action {
	wanted := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		wanted[b] = true
	}
	out := make(map[string][]*Action)
	for _, a := range all {
		if wanted[a.LinkID] {
			out[a.LinkID] = append(out[a.LinkID], a)
		}
	}
	return out
}

// bucketsDueForRefresh returns the action-store bucket keys (link ids,
// plus [WildcardLinkID] for the shared wildcard queue) whose timeline
// should be refreshed this iteration.
func (c *Channel) bucketsDueForRefresh(now time.Time, lastRefresh map[string]time.Time) []string {
	var due []string
	c.withLock(func() []notification {
		candidates := make([]string, 0, len(c.links)+1)
		for linkID, link := range c.links {
			if link.destroyed {
				continue
			}
			candidates = append(candidates, linkID)
		}
		candidates = append(candidates, WildcardLinkID)

		for _, key := range candidates {
			queue := c.actions.getActions(key)
			needsRefresh := len(queue) == 0
			if !needsRefresh {
				needsRefresh = queue[0].Timestamp.Before(now.Add(c.cfg.LookaheadWindow))
			}
			if !needsRefresh {
				continue
			}
			if last, ok := lastRefresh[key]; ok && now.Sub(last) < c.cfg.LookaheadWindow/4 {
				continue // refreshed recently enough; avoid hammering the user model every tick
			}
			due = append(due, key)
		}
		return nil
	})
	return due
}

// applyTimelineRefresh merges a fetched timeline into one bucket of the
// action store, then reconciles any action the merge just withdrew.
func (c *Channel) applyTimelineRefresh(bucketKey string, newActions []*Action, cutoff time.Time) {
	c.withLock(func() []notification {
		c.actions.updateTimeline(c.logger, bucketKey, newActions, cutoff)
		outcomes := c.reconcileWithdrawnActionsLocked(bucketKey)
		return c.notifyOutcomesLocked(outcomes)
	})
}

// reconcileWithdrawnActionsLocked rebinds or fails fragments for every
// action the last merge marked ToBeRemoved in bucketKey's queue, then
// purges those actions from the store. A withdrawn action that never
// committed to a link (an unfilled wildcard action) carries no
// fragments, so this is a no-op for it. Caller must hold the mutex.
func (c *Channel) reconcileWithdrawnActionsLocked(bucketKey string) []packageOutcome {
	var withdrawn []*Action
	for _, a := range c.actions.getActions(bucketKey) {
		if a.ToBeRemoved {
			withdrawn = append(withdrawn, a)
		}
	}

	var outcomes []packageOutcome
	for _, a := range withdrawn {
		targetLinkID := a.effectiveLinkID()
		var future []*Action
		if targetLinkID != "" {
			for _, cand := range c.actions.getActions(targetLinkID) {
				if cand == a || cand.ToBeRemoved || !actionLess(a, cand) {
					continue
				}
				future = append(future, cand)
			}
		}
		outcomes = append(outcomes, c.pkgs.dropFragmentsFor(a, future)...)
		c.actions.actionDone(a.ID)
	}
	return outcomes
}

// OnTimelineUpdated lets the User Model proactively signal that a fresh
// timeline is available for a link, rather than waiting for the action
// thread's periodic lookahead check.
func (c *Channel) OnTimelineUpdated(linkID string) {
	c.thread.lastRefresh[linkID] = time.Time{} // force the next tick to refresh
	c.thread.signal()
}

// tick runs one iteration of the loop body: fires every ready action
// per link, fills and requests encoding for each link's head action
// once its encode window opens, checks per-package deadlines, and
// polls wildcard links. Returns how long to sleep before the next
// iteration, or indefinite=true to sleep until woken.
func (c *Channel) tick(t *actionThread) (sleepFor time.Duration, indefinite bool) {
	var earliestWake *time.Time
	var notifications []notification

	c.withLock(func() []notification {
		if c.lifecycle.state != StateActivated && c.lifecycle.state != StateDeactivating {
			indefinite = true
			return nil
		}

		now := c.cfg.TimeNow()
		for linkID, link := range c.links {
			if link.destroyed {
				continue
			}
			notifications = append(notifications, c.fireReadyActionsLocked(linkID)...)
			notifications = append(notifications, c.expirePackagesLocked(linkID, now)...)
			notifications = append(notifications, c.notifyOutcomesLocked(c.pkgs.removeDone(linkID))...)

			wake := c.fillAndEncodeHeadLocked(link, now)
			if wake != nil && (earliestWake == nil || wake.Before(*earliestWake)) {
				earliestWake = wake
			}
		}

		notifications = append(notifications, c.fireReadyActionsLocked(WildcardLinkID)...)
		if wake := c.fillAndEncodeWildcardHeadLocked(now); wake != nil && (earliestWake == nil || wake.Before(*earliestWake)) {
			earliestWake = wake
		}

		if c.cfg.WildcardFetchInterval > 0 && now.Sub(t.lastWildcardPoll) >= c.cfg.WildcardFetchInterval {
			t.lastWildcardPoll = now
			c.pollWildcardLinksLocked()
		}

		return nil
	})

	for _, n := range notifications {
		n()
	}

	if earliestWake == nil {
		return 0, true
	}
	d := earliestWake.Sub(c.cfg.TimeNow())
	if d < 0 {
		d = 0
	}
	return d, false
}

// fireReadyActionsLocked fires every head action of linkID whose
// timestamp has arrived and whose slots are fully encoded, popping each
// from the store as it fires.
func (c *Channel) fireReadyActionsLocked(linkID string) []notification {
	var notifications []notification
	now := c.cfg.TimeNow()
	for {
		queue := c.actions.getActions(linkID)
		if len(queue) == 0 {
			return notifications
		}
		head := queue[0]
		if head.Timestamp.After(now) || !head.allSlotsEncoded() {
			return notifications
		}
		spanID := NewSpanID()
		c.logger.Debug("actionFireStart", "span_id", spanID, "link_id", linkID, "action_id", head.ID)
		if _, err := c.send.fireAction(head, c.transport); err != nil {
			reason := newError(KindPackageFailedGeneric, "do_action failed", err)
			for _, f := range head.fragments() {
				notifications = append(notifications, c.notifyOutcomesLocked(c.pkgs.failPackage(f.Pkg, reason))...)
			}
			c.logger.Info("action thread: do_action failed", "link_id", linkID, "action_id", head.ID,
				"class", c.cfg.ErrClassifier.Classify(err))
			c.logger.Debug("actionFireDone", "span_id", spanID, "link_id", linkID, "action_id", head.ID, "error", err)
		} else {
			c.logger.Debug("actionFireDone", "span_id", spanID, "link_id", linkID, "action_id", head.ID)
		}
		c.actions.actionDone(head.ID)
	}
}

// expirePackagesLocked fails every package on linkID whose deadline has
// passed before its action fired.
func (c *Channel) expirePackagesLocked(linkID string, now time.Time) []notification {
	var notifications []notification
	for _, pkg := range c.pkgs.queue(linkID) {
		if pkg.Deadline.IsZero() || pkg.failed != nil || now.Before(pkg.Deadline) {
			continue
		}
		reason := newError(KindPackageFailedTimeout, "deadline exceeded before action fired", nil)
		notifications = append(notifications, c.notifyOutcomesLocked(c.pkgs.failPackage(pkg, reason))...)
	}
	return notifications
}

// fillAndEncodeHeadLocked fills and requests encoding for linkID's head
// action once within its encode window, and returns the next time this
// link needs the thread to wake up: either the encode start time (if
// not reached yet) or the action's firing timestamp.
func (c *Channel) fillAndEncodeHeadLocked(link *Link, now time.Time) *time.Time {
	queue := c.actions.getActions(link.ID)
	if len(queue) == 0 {
		return nil
	}
	head := queue[0]

	maxEncodingTime := c.cfg.MaxEncodingTime
	for _, slot := range head.Slots {
		if enc, ok := c.encodings[slot.EncodingID]; ok {
			if t := enc.GetEncodingProperties().EncodingTime; t > maxEncodingTime {
				maxEncodingTime = t
			}
		}
	}
	nextEncodeStart := head.Timestamp.Add(-maxEncodingTime)

	if isHeadUnencoded(head) && !now.Before(nextEncodeStart) {
		spanID := NewSpanID()
		c.logger.Debug("actionFillStart", "span_id", spanID, "link_id", link.ID, "action_id", head.ID)
		c.send.fillAction(head, c.pkgs.queue(link.ID))
		err := c.send.requestEncode(head, link, c.encodings)
		if err != nil {
			c.logger.Info("action thread: request_encode failed", "link_id", link.ID, "error", err)
		}
		c.logger.Debug("actionFillDone", "span_id", spanID, "link_id", link.ID, "action_id", head.ID, "fragment_count", len(head.fragments()))
	}

	if now.Before(nextEncodeStart) {
		return &nextEncodeStart
	}
	return &head.Timestamp
}

// fillAndEncodeWildcardHeadLocked is [Channel.fillAndEncodeHeadLocked]'s
// counterpart for the shared wildcard bucket's head action: once its
// encode window opens, it commits the action to a concrete link via
// chooseWildcardLink before filling and encoding exactly as a per-link
// head action would. If no link's queue has any unbound content, it
// falls back to the lexicographically lowest known link so the action
// still fires as cover traffic; with no links at all there is nothing
// to commit to, so the action is left unencoded for the next tick.
func (c *Channel) fillAndEncodeWildcardHeadLocked(now time.Time) *time.Time {
	queue := c.actions.getActions(WildcardLinkID)
	if len(queue) == 0 {
		return nil
	}
	head := queue[0]

	maxEncodingTime := c.cfg.MaxEncodingTime
	for _, slot := range head.Slots {
		if enc, ok := c.encodings[slot.EncodingID]; ok {
			if t := enc.GetEncodingProperties().EncodingTime; t > maxEncodingTime {
				maxEncodingTime = t
			}
		}
	}
	nextEncodeStart := head.Timestamp.Add(-maxEncodingTime)

	if isHeadUnencoded(head) && !now.Before(nextEncodeStart) {
		candidates := make(map[string][]*Package, len(c.links))
		for id, link := range c.links {
			if !link.destroyed {
				candidates[id] = c.pkgs.queue(id)
			}
		}
		linkID, ok := chooseWildcardLink(candidates)
		if !ok {
			linkID = lowestLinkID(c.links)
			ok = linkID != ""
		}
		if ok {
			head.resolvedLinkID = linkID
			link := c.links[linkID]
			spanID := NewSpanID()
			c.logger.Debug("actionFillStart", "span_id", spanID, "link_id", linkID, "action_id", head.ID, "wildcard", true)
			c.send.fillAction(head, c.pkgs.queue(linkID))
			err := c.send.requestEncode(head, link, c.encodings)
			if err != nil {
				c.logger.Info("action thread: wildcard request_encode failed", "link_id", linkID, "error", err)
			}
			c.logger.Debug("actionFillDone", "span_id", spanID, "link_id", linkID, "action_id", head.ID, "fragment_count", len(head.fragments()))
		}
	}

	if now.Before(nextEncodeStart) {
		return &nextEncodeStart
	}
	return &head.Timestamp
}

// lowestLinkID returns the lexicographically lowest non-destroyed link
// id in links, or "" if there are none.
func lowestLinkID(links map[string]*Link) string {
	lowest := ""
	for id, l := range links {
		if l.destroyed {
			continue
		}
		if lowest == "" || id < lowest {
			lowest = id
		}
	}
	return lowest
}

// isHeadUnencoded reports whether no slot of action has started encoding yet.
func isHeadUnencoded(action *Action) bool {
	for _, s := range action.Slots {
		if s.State != SlotUnencoded {
			return false
		}
	}
	return true
}

// pollWildcardLinksLocked asks the Transport to perform a read-side
// action on every link, the mechanism by which inbound polling happens
// for Transports that are not otherwise pushed to. There is no
// dedicated "poll" entry in the downward Transport interface, so this
// is realized as an empty do_action: a fire with no encoding slots,
// which the Transport can use as its cue to check for newly arrived
// content on that link.
func (c *Channel) pollWildcardLinksLocked() {
	for linkID, link := range c.links {
		if link.destroyed {
			continue
		}
		pollAction := &Action{LinkID: linkID, Timestamp: c.cfg.TimeNow()}
		if err := c.transport.DoAction(nil, pollAction); err != nil {
			c.logger.Info("action thread: wildcard poll do_action failed", "link_id", linkID, "error", err)
		}
	}
}
