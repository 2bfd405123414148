// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import "time"

// SlotState is the lifecycle of one [EncodingSlot].
type SlotState int

const (
	SlotUnencoded SlotState = iota
	SlotEncoding
	SlotEncoded
)

// WildcardLinkID is the sentinel link id meaning an Action's target link
// is unspecified; the send pipeline picks one at fill time.
const WildcardLinkID = ""

// EncodingSlot is a declared opportunity within an Action to encode up
// to MTU bytes under a specific encoding id.
type EncodingSlot struct {
	EncodingID string
	MTU        int
	State      SlotState

	// handle identifies the in-flight encode request for this slot, once
	// filling has requested one; zero before that.
	handle EncodeHandle

	// fragments bound to this slot, in bind order.
	fragments []*Fragment

	// encodedBytes holds the slot's encoded payload once
	// on_bytes_encoded(OK) has arrived; nil until then.
	encodedBytes []byte
}

// Action is a scheduled opportunity to interact with the outside world.
// The action store keeps, per link, a sequence strictly sorted by
// (Timestamp, ID).
type Action struct {
	ID          uint64
	Timestamp   time.Time
	LinkID      string // WildcardLinkID if unspecified
	Config      []byte // opaque, supplied by the User Model
	Slots       []*EncodingSlot
	ToBeRemoved bool

	// resolvedLinkID is set once a wildcard action has committed to a
	// link during slot filling; empty until then.
	resolvedLinkID string
}

// effectiveLinkID returns the link this action is bound to: LinkID
// itself unless it is a wildcard action that has already been resolved.
func (a *Action) effectiveLinkID() string {
	if a.LinkID != WildcardLinkID {
		return a.LinkID
	}
	return a.resolvedLinkID
}

// ResolvedLinkID exposes effectiveLinkID to callers outside the package
// (in particular Transport implementations), which need to know which
// link a wildcard action committed to once the send pipeline has filled
// it. Empty if a wildcard action has not been filled yet.
func (a *Action) ResolvedLinkID() string {
	return a.effectiveLinkID()
}

// allSlotsEncoded reports whether every encoding slot has finished
// encoding, the precondition for firing the action.
func (a *Action) allSlotsEncoded() bool {
	for _, s := range a.Slots {
		if s.State != SlotEncoded {
			return false
		}
	}
	return true
}

// fragments returns every fragment bound to the action across all slots,
// in slot-then-bind order.
func (a *Action) fragments() []*Fragment {
	var out []*Fragment
	for _, s := range a.Slots {
		out = append(out, s.fragments...)
	}
	return out
}

// actionLess implements the Action Store's strict (timestamp, action_id) order.
func actionLess(a, b *Action) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
