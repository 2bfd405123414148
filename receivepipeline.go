// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

// decodeTarget remembers which link a decode request was issued for, so
// [receivePipeline.onBytesDecoded] knows where to deliver the result.
type decodeTarget struct {
	linkID string
	params EncodingParams
	spanID string
}

// receivePipeline turns bytes arriving on a link into reassembled
// packages. Every method assumes the owning [Channel]'s mutex is
// already held.
type receivePipeline struct {
	mode   FramingMode
	logger Logger

	nextDecodeHandle uint64
	pendingDecodes   map[DecodeHandle]decodeTarget
	reassemblers     map[string]*Reassembler // keyed by link id
}

// newReceivePipeline returns a receive pipeline for one channel composition.
func newReceivePipeline(mode FramingMode, logger Logger) *receivePipeline {
	return &receivePipeline{
		mode:           mode,
		logger:         logger,
		pendingDecodes: make(map[DecodeHandle]decodeTarget),
		reassemblers:   make(map[string]*Reassembler),
	}
}

// onReceive requests a decode for bytes just received on linkID,
// remembering the link so the result can be routed once it arrives.
func (p *receivePipeline) onReceive(linkID string, params EncodingParams, bytes []byte, encodings map[string]Encoding) (DecodeHandle, error) {
	enc, ok := encodings[params.EncodingID]
	if !ok {
		return 0, newError(KindInvalidArgument, "unknown encoding id "+params.EncodingID, nil)
	}
	p.nextDecodeHandle++
	handle := DecodeHandle(p.nextDecodeHandle)
	spanID := NewSpanID()
	p.pendingDecodes[handle] = decodeTarget{linkID: linkID, params: params, spanID: spanID}
	p.logger.Debug("decodeStart", "span_id", spanID, "link_id", linkID, "handle", handle)
	if err := enc.DecodeBytes(handle, params, bytes); err != nil {
		delete(p.pendingDecodes, handle)
		return 0, err
	}
	return handle, nil
}

// onBytesDecoded dispatches one decoded buffer by framing mode,
// returning every reassembled package it completes plus the link it
// arrived on so the caller can fan it out to that link's connections.
// found is false if handle is unknown (already handled, or never
// issued by this pipeline).
func (p *receivePipeline) onBytesDecoded(handle DecodeHandle, bytes []byte, ok bool) (pkgs [][]byte, linkID string, found bool) {
	target, found := p.pendingDecodes[handle]
	if !found {
		return nil, "", false
	}
	delete(p.pendingDecodes, handle)
	linkID = target.linkID
	defer func() {
		p.logger.Debug("decodeDone", "span_id", target.spanID, "link_id", linkID, "handle", handle, "package_count", len(pkgs))
	}()

	if !ok {
		return nil, linkID, true
	}

	switch p.mode {
	case FramingSingle:
		return [][]byte{DecodeSingle(bytes)}, linkID, true
	case FramingBatch:
		decoded, err := DecodeBatch(bytes)
		if err != nil {
			return nil, linkID, true
		}
		return decoded, linkID, true
	default: // FramingFragmentSingleProducer, FramingFragmentMultiProducer
		frame, err := DecodeFragmentFrame(p.mode, bytes)
		if err != nil {
			return nil, linkID, true
		}
		r := p.reassemblerFor(linkID)
		return r.Accept(frame), linkID, true
	}
}

// reassemblerFor returns the per-link reassembler, creating it on
// first use.
func (p *receivePipeline) reassemblerFor(linkID string) *Reassembler {
	r, ok := p.reassemblers[linkID]
	if !ok {
		r = NewReassembler()
		p.reassemblers[linkID] = r
	}
	return r
}

// forgetLink discards reassembly state for a destroyed link.
func (p *receivePipeline) forgetLink(linkID string) {
	delete(p.reassemblers, linkID)
}
