// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import "time"

// Package is an outbound payload from a caller plus its associated
// metadata. Named Package, not "package", to avoid colliding with the
// language keyword.
type Package struct {
	Handle       PackageHandle
	LinkID       string
	ConnectionID string
	Bytes        []byte
	Deadline     time.Time

	// Fragments owned by this package, in the order they were bound
	// (which is also [0, len(Bytes)) offset order once fully bound).
	Fragments []*Fragment

	// bound is how many leading bytes of Bytes have been assigned to a
	// fragment so far; the rest is the remaining unbound length the
	// slot-filling algorithm still has to place.
	bound int

	// failed is set once the first fragment of this package fails,
	// capturing the reason reported to the caller.
	failed *Error
}

// remaining returns the number of bytes not yet bound to any fragment.
func (p *Package) remaining() int {
	return len(p.Bytes) - p.bound
}

// fullyBound reports whether every byte of the package has been
// assigned to some fragment.
func (p *Package) fullyBound() bool {
	return p.bound >= len(p.Bytes)
}

// done reports whether every fragment of the package has reached a
// terminal state and either one of them failed or every byte has been
// bound, the condition under which the package leaves the package store.
// A package whose fragments so far are all sent but which still has
// unbound bytes is not done.
func (p *Package) done() bool {
	if len(p.Fragments) == 0 {
		return false
	}
	anyFailed := false
	for _, f := range p.Fragments {
		if !f.State.terminal() {
			return false
		}
		if f.State == FragmentDone {
			anyFailed = true
		}
	}
	return anyFailed || p.fullyBound()
}

// outcome reports the terminal status to deliver upward: PackageSent iff
// every fragment reached FragmentSent, PackageFailedGeneric otherwise
// (unless a timeout was the specific cause, tracked via failed).
func (p *Package) outcome() PackageStatus {
	if p.failed != nil {
		if p.failed.Kind == KindPackageFailedTimeout {
			return PackageFailedTimeout
		}
		return PackageFailedGeneric
	}
	for _, f := range p.Fragments {
		if f.State != FragmentSent {
			return PackageFailedGeneric
		}
	}
	return PackageSent
}
