// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"sort"
	"time"
)

// actionStore owns, per link, the ordered sequence of upcoming [Action]s
// and merges timeline refreshes from the User Model while preserving
// action identity. Every method assumes the owning [Channel]'s mutex is
// already held.
type actionStore struct {
	byLink map[string][]*Action
	byID   map[uint64]*Action
}

// newActionStore returns an empty action store.
func newActionStore() *actionStore {
	return &actionStore{
		byLink: make(map[string][]*Action),
		byID:   make(map[uint64]*Action),
	}
}

// getActions returns the ordered view of actions the Send Pipeline and
// Action Thread operate on for a link. The returned slice is owned by
// the store; callers must not mutate it.
func (s *actionStore) getActions(linkID string) []*Action {
	return s.byLink[linkID]
}

// lookup returns the action with the given id, if any.
func (s *actionStore) lookup(id uint64) (*Action, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// updateTimeline merges newActions into the store for one link.
//
// Actions already in the store with Timestamp before cutoff are
// in-flight and retained unchanged, regardless of whether newActions
// still mentions them. Among actions at or after cutoff: existing
// actions absent from newActions are marked ToBeRemoved rather than
// deleted outright (the package store reclaims their fragments); new
// actions absent from the existing store are inserted; actions present
// in both keep the existing *Action instance, so fragment bindings
// survive the refresh untouched. The merged sequence is re-sorted by
// (timestamp, id).
func (s *actionStore) updateTimeline(logger Logger, linkID string, newActions []*Action, cutoff time.Time) {
	existing := s.byLink[linkID]

	seenNew := make(map[uint64]bool, len(newActions))
	var deduped []*Action
	for _, a := range newActions {
		if seenNew[a.ID] {
			logger.Info("action store: discarding duplicate action id in timeline refresh",
				"link_id", linkID, "action_id", a.ID)
			continue
		}
		seenNew[a.ID] = true
		deduped = append(deduped, a)
	}

	var merged []*Action
	keptExisting := make(map[uint64]bool)

	for _, a := range existing {
		if a.Timestamp.Before(cutoff) {
			merged = append(merged, a)
			keptExisting[a.ID] = true
			continue
		}
		if incoming, ok := seenNew[a.ID]; ok && incoming {
			merged = append(merged, a) // identity preserved
			keptExisting[a.ID] = true
			continue
		}
		a.ToBeRemoved = true
		merged = append(merged, a)
		keptExisting[a.ID] = true
	}

	for _, a := range deduped {
		if keptExisting[a.ID] {
			continue // already represented by the existing instance
		}
		if _, ok := s.byID[a.ID]; ok {
			// Belongs to another link's action, or a stale id reused
			// before action_done ran; never insert a duplicate id.
			continue
		}
		merged = append(merged, a)
		s.byID[a.ID] = a
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return actionLess(merged[i], merged[j])
	})

	s.byLink[linkID] = merged
	for _, a := range merged {
		s.byID[a.ID] = a
	}
}

// actionDone purges an action once it has fired (or has been fully
// drained of work), detaching and reclaiming any dangling fragments so
// the package store can rebind or fail them.
func (s *actionStore) actionDone(id uint64) []*Fragment {
	a, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)

	// Use the action's declared (possibly wildcard) LinkID, not its
	// resolved one: that is the bucket key updateTimeline stored it
	// under, regardless of whether the Send Pipeline later committed
	// it to a concrete link.
	linkID := a.LinkID
	queue := s.byLink[linkID]
	for i, candidate := range queue {
		if candidate.ID == id {
			s.byLink[linkID] = append(queue[:i], queue[i+1:]...)
			break
		}
	}

	dangling := a.fragments()
	for _, f := range dangling {
		f.detach()
	}
	return dangling
}

// removeLink forgets every action belonging to a destroyed link and
// returns their fragments for reclamation, mirroring actionDone but for
// every action on the link at once.
func (s *actionStore) removeLink(linkID string) []*Fragment {
	queue := s.byLink[linkID]
	delete(s.byLink, linkID)

	var dangling []*Fragment
	for _, a := range queue {
		delete(s.byID, a.ID)
		dangling = append(dangling, a.fragments()...)
	}
	for _, f := range dangling {
		f.detach()
	}
	return dangling
}
