// SPDX-License-Identifier: GPL-3.0-or-later

// Package chancore implements the component manager for a covert
// communications channel: the engine that composes a Transport, a User
// Model and one or more Encodings into a single logical channel.
//
// # Core Abstraction
//
// A [Channel] owns three kinds of shared state behind one mutex: the
// [actionStore] (per-link scheduled [Action]s), the [packageStore]
// (per-link outbound [Package]s and their [Fragment]s) and the
// [ChannelState]. A single background goroutine, the action thread
// (see actionthread.go), drives time forward: it fills upcoming actions
// with bound fragments, asks the configured Encodings to encode them
// ahead of schedule, and fires the action through the Transport once its
// timestamp arrives and every encoding slot is ready.
//
// Callers enqueue outbound bytes with [Channel.SendPackage]; the channel
// never blocks waiting for an action to fire. Component completions
// (encode/decode results, transport status, link/connection/package
// status) arrive via the On*/on_* methods, invoked from whatever thread
// the component's own implementation uses.
//
// # Wire Framing
//
// Four framing modes govern how package bytes are packed into (and
// unpacked from) a single action's encoded payload: SINGLE, BATCH,
// FRAGMENT_SINGLE_PRODUCER and FRAGMENT_MULTIPLE_PRODUCER. See
// framing.go for the exact little-endian layouts and the reassembly
// policy for the two fragmenting modes.
//
// # Observability
//
// All components log through the [Logger] interface (compatible with
// [log/slog]), defaulting to a no-op discard logger. Events come in
// paired *Start/*Done spans tagged with a [NewSpanID] (a time-ordered
// UUIDv7) so that one logical operation's log lines can be correlated,
// independently of the opaque action ids the User Model assigns.
//
// # Concurrency
//
// [Channel] presents a single internal mutex guarding the action store,
// package store and lifecycle state. No user-supplied callback runs
// while that mutex is held: upward notifications are queued and
// delivered after the mutex is released, in the order they were
// generated. See actionthread.go and channel.go for the scheduling
// model.
//
// # Design Boundaries
//
// This package does not implement a Transport, User Model or Encoding:
// it composes whatever a caller supplies behind the interfaces in
// component.go. It does not provide cryptographic payload privacy,
// transport reliability guarantees, or persistent queues; action state
// lives in memory for the lifetime of the process.
package chancore
