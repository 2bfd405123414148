// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/nop's NewSpanID.

package chancore

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span: a sequence of
// operations that can fail in a single, specific way (e.g. one action
// thread iteration, or one decode-and-deliver cycle).
//
// Use a span id to correlate every log line emitted while handling one
// logical operation. It is unrelated to the opaque 64-bit action id the
// User Model assigns to an [Action]; that id is never regenerated.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}

// ProducerID is the 16-byte random identity a [Link] uses to key
// multi-producer fragment reassembly.
type ProducerID [16]byte

// NewProducerID mints a random 16-byte producer id, generated once when
// a Link is created and held for its lifetime.
func NewProducerID() ProducerID {
	return ProducerID(runtimex.PanicOnError1(uuid.NewRandom()))
}

// zeroProducerID is the all-zero producer id used as the reassembly key
// in single-producer framing modes, where there is exactly one scratch
// buffer per link.
var zeroProducerID ProducerID
