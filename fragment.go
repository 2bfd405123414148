// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

// FragmentState is the lifecycle of one [Fragment].
type FragmentState int

const (
	FragmentUnencoded FragmentState = iota
	FragmentEncoding
	FragmentEncoded
	FragmentEnqueued
	FragmentSent
	FragmentDone
)

// terminal reports whether the state requires no further action: either
// SENT (successfully delivered) or DONE (failed and accounted for).
func (s FragmentState) terminal() bool {
	return s == FragmentSent || s == FragmentDone
}

// FragmentHandle identifies one [Fragment] for the lifetime of its
// binding to a Transport action: it is what DoAction hands the
// Transport and what the Transport echoes back when reporting status.
type FragmentHandle uint64

// Fragment is a contiguous [Offset, Offset+Len) slice of a [Package]
// bound to exactly one action's encoding slot.
//
// Invariant: fragments of a package cover [0, len(Package.Bytes)) with
// no gaps or overlaps once the package is fully bound. Invariant:
// fragments of a package are strictly ordered by their owning action's
// (timestamp, action_id).
type Fragment struct {
	Handle FragmentHandle
	Pkg    *Package
	Offset int
	Len    int

	// Action is the action this fragment is bound to; nil only
	// transiently, while detached after a withdrawal or failure, before
	// rebinding or reporting failure.
	Action    *Action
	SlotIndex int

	State FragmentState

	// failed records the terminal failure reason, set only when State
	// is FragmentDone due to an error rather than a successful send.
	failed *Error
}

// bytes returns the slice of the owning package's bytes this fragment covers.
func (f *Fragment) bytes() []byte {
	return f.Pkg.Bytes[f.Offset : f.Offset+f.Len]
}

// detach clears the fragment's binding to any action, resetting it to
// UNENCODED so it can be rebound to a future action of the same link.
func (f *Fragment) detach() {
	f.Action = nil
	f.SlotIndex = 0
	f.State = FragmentUnencoded
}
