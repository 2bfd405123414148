// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FramingMode selects the wire layout for one [Channel] composition.
type FramingMode int

const (
	// FramingSingle carries exactly one package per action; no header.
	FramingSingle FramingMode = iota

	// FramingBatch carries one or more whole packages, each length-prefixed.
	FramingBatch

	// FramingFragmentSingleProducer carries a fragment header (no
	// producer id) followed by length-prefixed records.
	FramingFragmentSingleProducer

	// FramingFragmentMultiProducer is identical to
	// FramingFragmentSingleProducer but the header is prefixed with a
	// 16-byte producer id, so reassembly is keyed per producer.
	FramingFragmentMultiProducer
)

// Fragment header flag bits.
const (
	flagContinueLast = 1 << 0
	flagContinueNext = 1 << 1
)

const (
	sizeU32         = 4
	sizeFlags       = 1
	sizeProducerID  = 16
	sizeSingleHdr   = sizeU32 + sizeFlags
	sizeMultiHdr    = sizeProducerID + sizeU32 + sizeFlags
)

// EncodeSingle returns the encoded payload for SINGLE framing: the raw
// package bytes, unmodified.
func EncodeSingle(pkg []byte) []byte {
	return pkg
}

// DecodeSingle returns the sole package carried by a SINGLE-framed payload.
func DecodeSingle(buf []byte) []byte {
	return buf
}

// EncodeBatch returns the encoded payload for BATCH framing: each
// package is a little-endian u32 length followed by that many bytes.
func EncodeBatch(packages [][]byte) []byte {
	var out bytes.Buffer
	for _, p := range packages {
		writeRecord(&out, p)
	}
	return out.Bytes()
}

// DecodeBatch walks a BATCH-framed payload and returns every package in order.
func DecodeBatch(buf []byte) ([][]byte, error) {
	var out [][]byte
	r := bytes.NewReader(buf)
	for r.Len() > 0 {
		rec, err := readRecord(r)
		if err != nil {
			return nil, fmt.Errorf("chancore: batch decode: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// FragmentFrame is the parsed form of one fragment-mode action payload:
// a header plus the length-prefixed records it carries.
type FragmentFrame struct {
	ProducerID    ProducerID // zero for FramingFragmentSingleProducer
	FragmentID    uint32
	ContinueLast  bool
	ContinueNext  bool
	Records       [][]byte
}

// EncodeFragmentFrame serializes a [FragmentFrame] for the given mode.
// mode must be FramingFragmentSingleProducer or FramingFragmentMultiProducer.
func EncodeFragmentFrame(mode FramingMode, frame FragmentFrame) []byte {
	var out bytes.Buffer
	if mode == FramingFragmentMultiProducer {
		out.Write(frame.ProducerID[:])
	}
	var idBuf [sizeU32]byte
	binary.LittleEndian.PutUint32(idBuf[:], frame.FragmentID)
	out.Write(idBuf[:])
	var flags byte
	if frame.ContinueLast {
		flags |= flagContinueLast
	}
	if frame.ContinueNext {
		flags |= flagContinueNext
	}
	out.WriteByte(flags)
	for _, rec := range frame.Records {
		writeRecord(&out, rec)
	}
	return out.Bytes()
}

// DecodeFragmentFrame parses a fragment-mode action payload for the
// given mode.
func DecodeFragmentFrame(mode FramingMode, buf []byte) (FragmentFrame, error) {
	var frame FragmentFrame
	r := bytes.NewReader(buf)
	if mode == FramingFragmentMultiProducer {
		var pid ProducerID
		if _, err := io.ReadFull(r, pid[:]); err != nil {
			return frame, fmt.Errorf("chancore: fragment decode: short producer id")
		}
		frame.ProducerID = pid
	}
	var idBuf [sizeU32]byte
	if _, err := io.ReadFull(r, idBuf[:]); err != nil {
		return frame, fmt.Errorf("chancore: fragment decode: short fragment id")
	}
	frame.FragmentID = binary.LittleEndian.Uint32(idBuf[:])
	flagByte, err := r.ReadByte()
	if err != nil {
		return frame, fmt.Errorf("chancore: fragment decode: short flags")
	}
	frame.ContinueLast = flagByte&flagContinueLast != 0
	frame.ContinueNext = flagByte&flagContinueNext != 0
	for r.Len() > 0 {
		rec, err := readRecord(r)
		if err != nil {
			return frame, fmt.Errorf("chancore: fragment decode: %w", err)
		}
		frame.Records = append(frame.Records, rec)
	}
	return frame, nil
}

// producerScratch is the reassembly state kept for one producer id.
type producerScratch struct {
	seen         bool
	expectedNext uint32
	hasPending   bool
	pending      []byte
}

// Reassembler reconstructs records split across fragment-mode action
// payloads, one scratch buffer per producer id. A zero Reassembler is
// ready to use. Not safe for concurrent use: callers
// hold the owning Channel's mutex while driving it, same as every
// other receive-pipeline state.
type Reassembler struct {
	entries map[ProducerID]*producerScratch
}

// NewReassembler returns a ready-to-use [Reassembler].
func NewReassembler() *Reassembler {
	return &Reassembler{entries: make(map[ProducerID]*producerScratch)}
}

// Accept feeds one parsed fragment frame into the reassembler and
// returns every record it completes, in order.
//
// A fragment is accepted in sequence when its FragmentID equals the
// expected next id for that producer; comparison wraps on uint32
// overflow, so reassembly keeps working across the wraparound. A gap,
// or a leading CONTINUE_LAST flag with no pending scratch (a lost
// predecessor), discards whatever was pending: only fully self-contained
// records in the new frame are delivered.
func (r *Reassembler) Accept(frame FragmentFrame) [][]byte {
	if r.entries == nil {
		r.entries = make(map[ProducerID]*producerScratch)
	}
	st, ok := r.entries[frame.ProducerID]
	if !ok {
		st = &producerScratch{}
		r.entries[frame.ProducerID] = st
	}

	gap := st.seen && frame.FragmentID != st.expectedNext
	lostPredecessor := len(frame.Records) > 0 && frame.ContinueLast && !st.hasPending
	if gap || lostPredecessor {
		st.hasPending = false
		st.pending = nil
	}

	var delivered [][]byte
	n := len(frame.Records)
	for i, rec := range frame.Records {
		isFirst := i == 0
		isLast := i == n-1

		if isFirst && frame.ContinueLast {
			if !st.hasPending {
				// Incomplete leading record with no predecessor to
				// join to; drop it.
				continue
			}
			rec = append(append([]byte(nil), st.pending...), rec...)
			st.pending = nil
			st.hasPending = false
		}

		if isLast && frame.ContinueNext {
			st.pending = append([]byte(nil), rec...)
			st.hasPending = true
			continue
		}

		delivered = append(delivered, rec)
	}

	st.expectedNext = frame.FragmentID + 1
	st.seen = true
	return delivered
}

// Forget discards any reassembly state held for a producer, e.g. when
// its link is destroyed.
func (r *Reassembler) Forget(producer ProducerID) {
	delete(r.entries, producer)
}

func writeRecord(out *bytes.Buffer, rec []byte) {
	var lenBuf [sizeU32]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
	out.Write(lenBuf[:])
	out.Write(rec)
}

func readRecord(r *bytes.Reader) ([]byte, error) {
	var lenBuf [sizeU32]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("short record length")
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	rec := make([]byte, n)
	if _, err := io.ReadFull(r, rec); err != nil {
		return nil, fmt.Errorf("short record body")
	}
	return rec, nil
}
