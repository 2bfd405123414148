// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

// ChannelState is the lifecycle state of one [Channel].
type ChannelState int

const (
	StateUninitialized ChannelState = iota
	StateInitializing
	StateUnactivated
	StateStarting
	StateActivated
	StateDeactivating
	StateDeactivated
	StateFailed
)

// String returns a human-readable name for the state.
func (s ChannelState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateUnactivated:
		return "unactivated"
	case StateStarting:
		return "starting"
	case StateActivated:
		return "activated"
	case StateDeactivating:
		return "deactivating"
	case StateDeactivated:
		return "deactivated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// lifecycle tracks the channel-wide state machine plus the readiness
// of the Transport and User Model, which must both report started (or
// both stopped) before the channel advances. Encodings are passive and
// never gate a transition. Every method assumes the owning [Channel]'s
// mutex is already held.
type lifecycle struct {
	state ChannelState

	transportStarted bool
	userModelStarted bool

	transportStopped bool
	userModelStopped bool
}

// newLifecycle returns a lifecycle in the UNINITIALIZED state.
func newLifecycle() *lifecycle {
	return &lifecycle{state: StateUninitialized}
}

// beginInit transitions UNINITIALIZED -> INITIALIZING on init(plugin_config).
func (l *lifecycle) beginInit() error {
	if l.state != StateUninitialized {
		return newError(KindNotReady, "init: channel already initialized", nil)
	}
	l.state = StateInitializing
	return nil
}

// onComponentStarted records one component's COMPONENT_STATE_STARTED
// report and advances INITIALIZING -> UNACTIVATED once both the
// Transport and User Model have reported started, or STARTING ->
// ACTIVATED if a call to activate is already pending.
func (l *lifecycle) onComponentStarted(isTransport bool) {
	if isTransport {
		l.transportStarted = true
	} else {
		l.userModelStarted = true
	}
	if !l.transportStarted || !l.userModelStarted {
		return
	}
	switch l.state {
	case StateInitializing:
		l.state = StateUnactivated
	case StateStarting:
		l.state = StateActivated
	}
}

// onComponentFailed moves the channel to the terminal FAILED state from
// any non-terminal state, reachable regardless of what was in progress.
func (l *lifecycle) onComponentFailed() {
	if l.state == StateFailed || l.state == StateDeactivated {
		return
	}
	l.state = StateFailed
}

// beginActivate transitions UNACTIVATED -> STARTING on activate_channel.
func (l *lifecycle) beginActivate() error {
	if l.state != StateUnactivated {
		return errNotReady("activate_channel")
	}
	// The started reports seen during INITIALIZING do not count: both
	// components must report started again for this activation.
	l.transportStarted = false
	l.userModelStarted = false
	l.state = StateStarting
	return nil
}

// beginDeactivate transitions ACTIVATED -> DEACTIVATING on deactivate_channel.
// Pending actions are not cancelled; new sends are rejected because
// requireActivated no longer passes once this returns.
func (l *lifecycle) beginDeactivate() error {
	if l.state != StateActivated {
		return errNotReady("deactivate_channel")
	}
	l.state = StateDeactivating
	return nil
}

// onComponentStopped records one component's shutdown completion and
// advances DEACTIVATING -> DEACTIVATED once both have stopped.
func (l *lifecycle) onComponentStopped(isTransport bool) {
	if isTransport {
		l.transportStopped = true
	} else {
		l.userModelStopped = true
	}
	if l.state == StateDeactivating && l.transportStopped && l.userModelStopped {
		l.state = StateDeactivated
	}
}

// requireActivated returns errNotReady unless the channel is ACTIVATED,
// the gate every public operation outside lifecycle management passes
// through: every callable operation returns a non-fatal "not ready"
// status unless the channel is ACTIVATED.
func (l *lifecycle) requireActivated(op string) error {
	if l.state != StateActivated {
		return errNotReady(op)
	}
	return nil
}
