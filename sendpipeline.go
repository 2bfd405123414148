// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

// encodeTarget remembers which slot of which action an outstanding
// encode request belongs to, so [sendPipeline.onBytesEncoded] can
// resume where requestEncode left off.
type encodeTarget struct {
	action    *Action
	slotIndex int
}

// sendPipeline fills an action's encoding slots from a link's package
// queue, drives the encode-then-fire sequence, and reports terminal
// package status once the transport confirms delivery. Every method
// assumes the owning [Channel]'s mutex is already held.
type sendPipeline struct {
	mode          FramingMode
	logger        Logger
	errClassifier ErrClassifier
	pkgs          *packageStore

	nextEncodeHandle   uint64
	nextFragmentHandle uint64
	nextFragmentID     map[string]uint32 // keyed by link id

	pendingEncodes   map[EncodeHandle]encodeTarget
	pendingFragments map[FragmentHandle]*Fragment
}

// newSendPipeline returns a send pipeline for one channel composition.
func newSendPipeline(mode FramingMode, logger Logger, errClassifier ErrClassifier, pkgs *packageStore) *sendPipeline {
	return &sendPipeline{
		mode:             mode,
		logger:           logger,
		errClassifier:    errClassifier,
		pkgs:             pkgs,
		nextFragmentID:   make(map[string]uint32),
		pendingEncodes:   make(map[EncodeHandle]encodeTarget),
		pendingFragments: make(map[FragmentHandle]*Fragment),
	}
}

// chooseWildcardLink picks the link to commit a wildcard action to: the
// link whose package queue has the largest oldest-unbound package,
// ties broken by the lowest link id.
func chooseWildcardLink(queues map[string][]*Package) (string, bool) {
	bestLinkID := ""
	bestRemaining := -1
	found := false
	for linkID, queue := range queues {
		pkg := oldestUnboundPackage(queue)
		if pkg == nil {
			continue
		}
		r := pkg.remaining()
		if !found || r > bestRemaining || (r == bestRemaining && linkID < bestLinkID) {
			bestLinkID, bestRemaining, found = linkID, r, true
		}
	}
	return bestLinkID, found
}

// oldestUnboundPackage returns the first package in enqueue order that
// still has unbound bytes, or nil if the queue is fully bound or empty.
func oldestUnboundPackage(queue []*Package) *Package {
	for _, p := range queue {
		if p.remaining() > 0 {
			return p
		}
	}
	return nil
}

// fillAction binds fragments from queue into every encoding slot of
// action, walking the queue in order and splitting a package across
// slot boundaries when it exceeds remaining slot capacity. Reports
// whether any real package content was bound, as opposed to the action
// being filled entirely with cover traffic.
func (p *sendPipeline) fillAction(action *Action, queue []*Package) bool {
	anyBound := false
	for slotIndex, slot := range action.Slots {
		capacity := slot.MTU
		for _, pkg := range queue {
			if capacity <= 0 {
				break
			}
			r := pkg.remaining()
			if r <= 0 {
				continue
			}
			if r <= capacity {
				p.bindFragment(pkg, slot, action, slotIndex, r)
				capacity -= r
			} else {
				p.bindFragment(pkg, slot, action, slotIndex, capacity)
				capacity = 0
			}
			anyBound = true
		}
	}
	return anyBound
}

// bindFragment creates a fragment covering the next unbound length
// bytes of pkg and binds it to slot.
func (p *sendPipeline) bindFragment(pkg *Package, slot *EncodingSlot, action *Action, slotIndex, length int) *Fragment {
	f := &Fragment{
		Handle:    FragmentHandle(p.allocFragmentHandle()),
		Pkg:       pkg,
		Offset:    pkg.bound,
		Len:       length,
		Action:    action,
		SlotIndex: slotIndex,
		State:     FragmentUnencoded,
	}
	pkg.bound += length
	pkg.Fragments = append(pkg.Fragments, f)
	slot.fragments = append(slot.fragments, f)
	p.logger.Debug("packageBound", "package_handle", pkg.Handle, "fragment_handle", f.Handle,
		"slot_index", slotIndex, "offset", f.Offset, "len", length)
	return f
}

func (p *sendPipeline) allocFragmentHandle() uint64 {
	p.nextFragmentHandle++
	return p.nextFragmentHandle
}

func (p *sendPipeline) allocEncodeHandle() uint64 {
	p.nextEncodeHandle++
	return p.nextEncodeHandle
}

// requestEncode emits one encode request per encoding slot of action:
// slots with bound fragments carry their framed package bytes; slots
// left empty by filling carry pure cover traffic (encodePackage=false).
// Every bound fragment transitions to ENCODING.
func (p *sendPipeline) requestEncode(action *Action, link *Link, encodings map[string]Encoding) error {
	for slotIndex, slot := range action.Slots {
		enc, ok := encodings[slot.EncodingID]
		if !ok {
			return newError(KindInvalidArgument, "unknown encoding id "+slot.EncodingID, nil)
		}

		encodePackage := len(slot.fragments) > 0
		var payload []byte
		if encodePackage {
			payload = p.buildSlotPayload(link, slot)
		}

		handle := EncodeHandle(p.allocEncodeHandle())
		slot.handle = handle
		slot.State = SlotEncoding
		p.pendingEncodes[handle] = encodeTarget{action: action, slotIndex: slotIndex}

		for _, f := range slot.fragments {
			f.State = FragmentEncoding
		}

		params := EncodingParams{EncodingID: slot.EncodingID}
		if err := enc.EncodeBytes(handle, params, payload, encodePackage); err != nil {
			return err
		}
	}
	return nil
}

// buildSlotPayload frames a slot's bound fragments for the pipeline's
// configured mode.
func (p *sendPipeline) buildSlotPayload(link *Link, slot *EncodingSlot) []byte {
	switch p.mode {
	case FramingSingle:
		return EncodeSingle(slot.fragments[0].bytes())
	case FramingBatch:
		raws := make([][]byte, len(slot.fragments))
		for i, f := range slot.fragments {
			raws[i] = f.bytes()
		}
		return EncodeBatch(raws)
	default: // FramingFragmentSingleProducer, FramingFragmentMultiProducer
		id := p.nextFragmentID[link.ID]
		p.nextFragmentID[link.ID] = id + 1

		first, last := slot.fragments[0], slot.fragments[len(slot.fragments)-1]
		frame := FragmentFrame{
			FragmentID:   id,
			ContinueLast: first.Offset > 0,
			ContinueNext: !last.Pkg.fullyBound(),
		}
		if p.mode == FramingFragmentMultiProducer {
			frame.ProducerID = link.ProducerID
		}
		for _, f := range slot.fragments {
			frame.Records = append(frame.Records, f.bytes())
		}
		return EncodeFragmentFrame(p.mode, frame)
	}
}

// onBytesEncoded completes one encode request. On success the slot
// becomes ENCODED and its bytes are stashed for firing; every bound
// fragment becomes ENCODED. On failure, every
// fragment bound to the slot has its package failed via the package
// store, cancelling sibling fragments not yet sent.
func (p *sendPipeline) onBytesEncoded(handle EncodeHandle, bytes []byte, ok bool, cause error) []packageOutcome {
	target, found := p.pendingEncodes[handle]
	if !found {
		return nil
	}
	delete(p.pendingEncodes, handle)

	slot := target.action.Slots[target.slotIndex]
	if !ok {
		var outcomes []packageOutcome
		reason := newError(KindPackageFailedGeneric, "encode failed", cause)
		p.logger.Info("send pipeline: encode failed", "action_id", target.action.ID,
			"slot_index", target.slotIndex, "class", p.errClassifier.Classify(cause))
		for _, f := range slot.fragments {
			outcomes = append(outcomes, p.pkgs.failPackage(f.Pkg, reason)...)
		}
		return outcomes
	}

	slot.State = SlotEncoded
	slot.encodedBytes = bytes
	for _, f := range slot.fragments {
		f.State = FragmentEncoded
	}
	return nil
}

// fireAction stages every slot's encoded bytes with the transport, then
// fires the action. Precondition: action.allSlotsEncoded(). Every bound
// fragment transitions to ENQUEUED and is tracked for the matching
// on_package_status_changed callback.
func (p *sendPipeline) fireAction(action *Action, transport Transport) ([][]FragmentHandle, error) {
	handles := make([][]FragmentHandle, len(action.Slots))
	for slotIndex, slot := range action.Slots {
		enc := encodingParamsFor(slot)
		if err := transport.EnqueueContent(enc, action, slot.encodedBytes); err != nil {
			return nil, err
		}
		slotHandles := make([]FragmentHandle, len(slot.fragments))
		for i, f := range slot.fragments {
			slotHandles[i] = f.Handle
			f.State = FragmentEnqueued
			p.pendingFragments[f.Handle] = f
		}
		handles[slotIndex] = slotHandles
	}
	if err := transport.DoAction(handles, action); err != nil {
		return nil, err
	}
	return handles, nil
}

// encodingParamsFor builds the EncodingParams a Transport expects when
// staging one slot's already-encoded bytes.
func encodingParamsFor(slot *EncodingSlot) EncodingParams {
	return EncodingParams{EncodingID: slot.EncodingID}
}

// onPackageStatusChanged applies a transport-reported terminal status
// to the fragment identified by handle, and reports the package's
// outcome once every one of its fragments has reached a terminal
// state.
func (p *sendPipeline) onPackageStatusChanged(handle FragmentHandle, sent bool, cause *Error) *packageOutcome {
	f, found := p.pendingFragments[handle]
	if !found {
		return nil
	}
	delete(p.pendingFragments, handle)

	if sent {
		f.State = FragmentSent
	} else {
		f.State = FragmentDone
		f.failed = cause
		if f.Pkg.failed == nil {
			f.Pkg.failed = cause
		}
	}

	if !f.Pkg.done() {
		return nil
	}
	return &packageOutcome{Pkg: f.Pkg, Status: f.Pkg.outcome()}
}

// forgetLink drops a destroyed link's fragment-id sequence, so a future
// recreation of the same link id starts fragment numbering fresh.
// Pending encode requests and fragment handles are left in place.
func (p *sendPipeline) forgetLink(linkID string) {
	delete(p.nextFragmentID, linkID)
}
