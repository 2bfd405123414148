// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import "time"

// ComponentState is the lifecycle state a plugin component reports for
// itself, driving the channel's INITIALIZING -> UNACTIVATED -> ... transitions.
type ComponentState int

const (
	ComponentStateUnstarted ComponentState = iota
	ComponentStateStarted
	ComponentStateFailed
)

// EncodingParams names which Encoding produced (or should decode) a
// byte buffer, plus any encoding-specific parameters the Transport
// reports alongside received bytes.
type EncodingParams struct {
	EncodingID string
	Params     map[string]string
}

// EncodingProperties is what an Encoding reports about itself once,
// independent of any particular action.
type EncodingProperties struct {
	EncodingTime time.Duration
	MimeType     string
}

// EncodingPropertiesForParameters is what an Encoding reports for a
// specific set of parameters: the MTU available to a bound fragment.
type EncodingPropertiesForParameters struct {
	MTU int
}

// EncodeHandle identifies one in-flight encode request, returned by
// [Encoding.EncodeBytes] and echoed back by the Encoding's completion
// callback ([Channel.OnBytesEncoded]).
type EncodeHandle uint64

// DecodeHandle identifies one in-flight decode request.
type DecodeHandle uint64

// Transport is the downward interface a transport plugin implements. It
// talks to the outside world via scheduled Actions, and supplies the
// link address space the core multiplexes packages and connections over.
type Transport interface {
	GetTransportProperties() TransportProperties
	GetLinkProperties(linkID string) LinkProperties

	CreateLink(linkID string) error
	LoadLinkAddress(linkID, address string) error
	LoadLinkAddresses(linkID string, addresses []string) error
	CreateLinkFromAddress(linkID, address string) error
	DestroyLink(linkID string) error

	// ActivateChannel and DeactivateChannel mirror the channel-wide
	// lifecycle transitions: the core calls these once it has decided
	// to move STARTING -> ACTIVATED (resp. ACTIVATED -> DEACTIVATING),
	// concurrently with the matching call on the User Model.
	ActivateChannel(channelID, roleName string) error
	DeactivateChannel() error

	// GetActionParams returns the EncodingParams for each encoding slot
	// declared by the action, in slot order.
	GetActionParams(action *Action) []EncodingParams

	// EnqueueContent stages encoded bytes for one encoding slot of an
	// upcoming action, ahead of the action firing.
	EnqueueContent(params EncodingParams, action *Action, bytes []byte) error

	// DequeueContent discards any staged content for an action that was
	// withdrawn before firing.
	DequeueContent(action *Action) error

	// DoAction fires the action: every encoding slot has been staged via
	// EnqueueContent. fragmentHandles identifies, per encoding slot, the
	// fragments whose status the transport should report back via
	// OnPackageStatusChanged as they complete.
	DoAction(fragmentHandles [][]FragmentHandle, action *Action) error

	OnUserInputReceived(key, value string)
}

// TransportProperties describes capabilities of a Transport, reported
// once at startup.
type TransportProperties struct {
	SupportedActions []string
}

// LinkProperties describes one Link's capabilities (MTU hints,
// directionality, expected send/receive rates, ...), reported by the
// Transport on request.
type LinkProperties struct {
	Mtu         int
	Reliable    bool
	SendTimeout time.Duration
}

// UserModel is the downward interface a user-model plugin implements. It
// supplies the timeline of plausible-user-action opportunities a
// Transport may act on.
type UserModel interface {
	GetUserModelProperties() UserModelProperties

	AddLink(linkID string) error
	RemoveLink(linkID string) error

	// ActivateChannel and DeactivateChannel mirror the Transport's
	// methods of the same name; see there.
	ActivateChannel(channelID, roleName string) error
	DeactivateChannel() error

	// GetTimeline returns Actions for the window [start, end]. Actions
	// returned for overlapping windows must keep the same id.
	GetTimeline(start, end time.Time) ([]*Action, error)

	// OnTransportEvent notifies the user model of a transport-level
	// event (e.g. a link status change) that may affect future timelines.
	OnTransportEvent(event string)

	// OnSendPackage lets the user model react to a caller's send by
	// proposing additional actions (e.g. an immediate opportunity).
	OnSendPackage(linkID string, bytes []byte) ([]*Action, error)

	OnUserInputReceived(key, value string)
}

// UserModelProperties describes capabilities of a User Model, reported
// once at startup.
type UserModelProperties struct {
	Name string
}

// Encoding is the downward interface an encoding plugin implements. It
// turns bytes into content appropriate for one action's encoding slot,
// and back.
type Encoding interface {
	GetEncodingProperties() EncodingProperties
	GetEncodingPropertiesForParameters(params EncodingParams) EncodingPropertiesForParameters

	// EncodeBytes requests an asynchronous encode; the result arrives via
	// [Channel.OnBytesEncoded] tagged with handle. encodePackage is false
	// when the bytes being encoded are pure cover traffic, i.e. the
	// slot's MTU exceeded the remaining package bytes.
	EncodeBytes(handle EncodeHandle, params EncodingParams, bytes []byte, encodePackage bool) error

	// DecodeBytes requests an asynchronous decode; the result arrives via
	// [Channel.OnBytesDecoded] tagged with handle.
	DecodeBytes(handle DecodeHandle, params EncodingParams, bytes []byte) error

	OnUserInputReceived(key, value string)
}
