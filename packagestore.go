// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

// packageOutcome is delivered to the owner of the [Channel] once a
// package leaves the store, either by completing or by failing outright.
type packageOutcome struct {
	Pkg    *Package
	Status PackageStatus
}

// packageStore owns, per link, the FIFO of outbound packages and tracks
// each package's fragmentation state across actions. Every
// method assumes the owning [Channel]'s mutex is already held.
type packageStore struct {
	byLink map[string][]*Package
	logger Logger
}

// newPackageStore returns an empty package store.
func newPackageStore(logger Logger) *packageStore {
	return &packageStore{byLink: make(map[string][]*Package), logger: logger}
}

// queue returns the link's package FIFO in enqueue order. The returned
// slice is owned by the store.
func (s *packageStore) queue(linkID string) []*Package {
	return s.byLink[linkID]
}

// enqueue appends a package to its link's FIFO. Binding fragments to
// not-yet-started actions is the send pipeline's job; enqueue
// only makes the package visible to it.
func (s *packageStore) enqueue(linkID string, pkg *Package) {
	s.byLink[linkID] = append(s.byLink[linkID], pkg)
}

// removeDone drops every package on a link that has reached a terminal
// state (the store only drops a package once every fragment is terminal)
// and returns the outcome to report upward for each.
func (s *packageStore) removeDone(linkID string) []packageOutcome {
	queue := s.byLink[linkID]
	var kept []*Package
	var outcomes []packageOutcome
	for _, p := range queue {
		if p.done() {
			outcomes = append(outcomes, packageOutcome{Pkg: p, Status: p.outcome()})
			continue
		}
		kept = append(kept, p)
	}
	s.byLink[linkID] = kept
	return outcomes
}

// onLinkDestroyed detaches every fragment of every package on the
// destroyed link back to UNENCODED with no bound action; the link's
// actions are orphaned separately, by the action store. Packages
// remain queued after this call; the channel layer follows it with
// failAndClearLink, which fails them with PACKAGE_FAILED_GENERIC and
// drops the link's queue.
func (s *packageStore) onLinkDestroyed(linkID string) {
	for _, p := range s.byLink[linkID] {
		for _, f := range p.Fragments {
			f.detach()
		}
	}
}

// failAndClearLink fails every package still queued on a destroyed link
// with reason and drops the link's queue outright: once a link is gone
// for good there is no future action left to rebind an orphaned fragment
// to, so the caller must be told explicitly instead of the package
// lingering unreported.
func (s *packageStore) failAndClearLink(linkID string, reason *Error) []packageOutcome {
	var outcomes []packageOutcome
	for _, p := range s.byLink[linkID] {
		outcomes = append(outcomes, s.failPackage(p, reason)...)
	}
	delete(s.byLink, linkID)
	return outcomes
}

// dropFragmentsFor handles an action withdrawn by the User Model
// (marked ToBeRemoved by the action store). Each of the action's
// fragments is rebound to the next future action on the same link that
// still has spare slot capacity; if none exists, the owning package is
// failed with PACKAGE_FAILED_GENERIC and every sibling fragment not yet
// sent is cancelled.
//
// futureActions must be the link's action queue, ordered and excluding
// action itself, restricted to actions whose timestamp is still ahead
// of the caller's notion of "now".
func (s *packageStore) dropFragmentsFor(action *Action, futureActions []*Action) []packageOutcome {
	var outcomes []packageOutcome
	for _, slot := range action.Slots {
		fragments := slot.fragments
		slot.fragments = nil
		slot.State = SlotUnencoded
		for _, f := range fragments {
			target, slotIndexInTarget := findRebindSlot(futureActions, f)
			if target == nil {
				outcomes = append(outcomes, s.failPackage(f.Pkg, newError(
					KindPackageFailedGeneric, "action withdrawn with no future capacity to rebind fragment", nil))...)
				continue
			}
			f.Action = target
			f.SlotIndex = slotIndexInTarget
			f.State = FragmentUnencoded
			target.Slots[slotIndexInTarget].fragments = append(target.Slots[slotIndexInTarget].fragments, f)
		}
	}
	return outcomes
}

// findRebindSlot finds the first future action with an encoding slot
// that still has room for f's length, returning that action and slot
// index. A slot "has room" here means it has not yet started encoding
// and has not already been assigned a fragment of its own for this
// pass; the Send Pipeline's own capacity accounting takes over once
// filling runs again.
func findRebindSlot(futureActions []*Action, f *Fragment) (*Action, int) {
	for _, a := range futureActions {
		if a.ToBeRemoved || a.effectiveLinkID() == "" {
			continue
		}
		for i, slot := range a.Slots {
			if slot.State == SlotUnencoded && len(slot.fragments) == 0 && slot.MTU >= f.Len {
				return a, i
			}
		}
	}
	return nil, 0
}

// failPackage marks the first-failing fragment's package failed with
// reason, cancels every sibling fragment not yet sent, and reports the
// single outcome for the package: the first fragment to fail fails
// the whole package.
func (s *packageStore) failPackage(pkg *Package, reason *Error) []packageOutcome {
	if pkg.failed != nil {
		return nil // already failed by an earlier fragment
	}
	pkg.failed = reason
	s.logger.Info("package store: failing package", "handle", pkg.Handle, "reason", reason.Error())
	for _, f := range pkg.Fragments {
		if f.State != FragmentSent {
			f.State = FragmentDone
			f.failed = reason
		}
	}
	return []packageOutcome{{Pkg: pkg, Status: pkg.outcome()}}
}
