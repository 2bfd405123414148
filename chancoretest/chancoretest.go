// SPDX-License-Identifier: GPL-3.0-or-later

// Package chancoretest provides in-memory fakes for the downward and
// upward interfaces of github.com/bassosimone/chancore, shared across
// that package's top-level scenario tests.
package chancoretest

import (
	"sync"
	"time"

	"github.com/bassosimone/chancore"
)

// Clock is a deterministic, manually-advanced stand-in for
// [chancore.Config.TimeNow].
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now implements the func() time.Time shape [chancore.Config.TimeNow] expects.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SDK is an in-memory [chancore.SDK] that records every upward call.
type SDK struct {
	mu sync.Mutex

	nextLinkID int
	nextConnID int

	LinkEvents    []LinkEvent
	ConnEvents    []ConnEvent
	ChannelEvents []ChannelEvent
	PackageEvents []PackageEvent
	Received      []ReceivedPkg
}

type LinkEvent struct {
	LinkID string
	Status chancore.LinkStatus
}

type ConnEvent struct {
	ConnectionID string
	Status       chancore.ConnectionStatus
}

type ChannelEvent struct {
	ChannelID string
	Status    chancore.ChannelStatus
}

type PackageEvent struct {
	Handle chancore.PackageHandle
	Status chancore.PackageStatus
}

type ReceivedPkg struct {
	Bytes         []byte
	ConnectionIDs []string
}

// NewSDK returns an empty recording SDK.
func NewSDK() *SDK {
	return &SDK{}
}

func (s *SDK) GenerateLinkID(channelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLinkID++
	return channelID + "-link-" + itoa(s.nextLinkID)
}

func (s *SDK) GenerateConnectionID(linkID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConnID++
	return linkID + "-conn-" + itoa(s.nextConnID)
}

func (s *SDK) OnLinkStatusChanged(linkID string, status chancore.LinkStatus, properties map[string]string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LinkEvents = append(s.LinkEvents, LinkEvent{linkID, status})
}

func (s *SDK) OnConnectionStatusChanged(connectionID string, status chancore.ConnectionStatus, properties map[string]string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnEvents = append(s.ConnEvents, ConnEvent{connectionID, status})
}

func (s *SDK) OnChannelStatusChanged(channelID string, status chancore.ChannelStatus, properties map[string]string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ChannelEvents = append(s.ChannelEvents, ChannelEvent{channelID, status})
}

func (s *SDK) OnPackageStatusChanged(handle chancore.PackageHandle, status chancore.PackageStatus, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PackageEvents = append(s.PackageEvents, PackageEvent{handle, status})
}

func (s *SDK) ReceiveEncPkg(bytes []byte, connectionIDs []string, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	s.Received = append(s.Received, ReceivedPkg{cp, connectionIDs})
}

func (s *SDK) RequestPluginUserInput(key, prompt string, cache bool) {}
func (s *SDK) RequestCommonUserInput(key string)                    {}
func (s *SDK) DisplayInfoToUser(data, infoType string)              {}

// PackageEventsSnapshot returns a copy of the package events recorded so far.
func (s *SDK) PackageEventsSnapshot() []PackageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PackageEvent, len(s.PackageEvents))
	copy(out, s.PackageEvents)
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Transport is an in-memory [chancore.Transport] that records staged
// content and fired actions. It never reports fragment status itself: a
// test reads [Transport.LastFiredHandles] and reports each fragment
// through OnPackageStatusChanged.
type Transport struct {
	mu sync.Mutex

	// FailDoAction, if set, is returned by every DoAction call.
	FailDoAction error

	FiredActions []*chancore.Action
	FiredHandles [][][]chancore.FragmentHandle
	Staged       [][]byte
}

// LastFiredHandles flattens the fragment handles from the most recent
// DoAction call, for a test to feed into OnPackageStatusChanged once
// the channel's lock is no longer held.
func (t *Transport) LastFiredHandles() []chancore.FragmentHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.FiredHandles) == 0 {
		return nil
	}
	var out []chancore.FragmentHandle
	for _, slot := range t.FiredHandles[len(t.FiredHandles)-1] {
		out = append(out, slot...)
	}
	return out
}

func NewTransport() *Transport {
	return &Transport{}
}

func (t *Transport) GetTransportProperties() chancore.TransportProperties {
	return chancore.TransportProperties{}
}

func (t *Transport) GetLinkProperties(linkID string) chancore.LinkProperties {
	return chancore.LinkProperties{Mtu: 1500}
}

func (t *Transport) CreateLink(linkID string) error                            { return nil }
func (t *Transport) LoadLinkAddress(linkID, address string) error              { return nil }
func (t *Transport) LoadLinkAddresses(linkID string, addresses []string) error { return nil }
func (t *Transport) CreateLinkFromAddress(linkID, address string) error        { return nil }
func (t *Transport) DestroyLink(linkID string) error                           { return nil }
func (t *Transport) DequeueContent(action *chancore.Action) error              { return nil }
func (t *Transport) OnUserInputReceived(key, value string)                     {}
func (t *Transport) ActivateChannel(channelID, roleName string) error          { return nil }
func (t *Transport) DeactivateChannel() error                                  { return nil }

func (t *Transport) GetActionParams(action *chancore.Action) []chancore.EncodingParams {
	out := make([]chancore.EncodingParams, len(action.Slots))
	for i, s := range action.Slots {
		out[i] = chancore.EncodingParams{EncodingID: s.EncodingID}
	}
	return out
}

func (t *Transport) EnqueueContent(params chancore.EncodingParams, action *chancore.Action, bytes []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Staged = append(t.Staged, bytes)
	return nil
}

func (t *Transport) DoAction(fragmentHandles [][]chancore.FragmentHandle, action *chancore.Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailDoAction != nil {
		return t.FailDoAction
	}
	t.FiredActions = append(t.FiredActions, action)
	t.FiredHandles = append(t.FiredHandles, fragmentHandles)
	return nil
}

// UserModel is an in-memory [chancore.UserModel] backed by a
// caller-supplied, mutable timeline.
type UserModel struct {
	mu       sync.Mutex
	actions  []*chancore.Action
	events   []string
	FailNext error
}

func NewUserModel() *UserModel {
	return &UserModel{}
}

// SetTimeline replaces the full set of actions returned by GetTimeline.
func (u *UserModel) SetTimeline(actions []*chancore.Action) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.actions = actions
}

func (u *UserModel) GetUserModelProperties() chancore.UserModelProperties {
	return chancore.UserModelProperties{Name: "chancoretest"}
}

func (u *UserModel) AddLink(linkID string) error    { return nil }
func (u *UserModel) RemoveLink(linkID string) error { return nil }

func (u *UserModel) ActivateChannel(channelID, roleName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, "activated")
	return nil
}

func (u *UserModel) DeactivateChannel() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, "deactivated")
	return nil
}

func (u *UserModel) GetTimeline(start, end time.Time) ([]*chancore.Action, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.FailNext != nil {
		err := u.FailNext
		u.FailNext = nil
		return nil, err
	}
	var out []*chancore.Action
	for _, a := range u.actions {
		if !a.Timestamp.Before(start) && !a.Timestamp.After(end) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (u *UserModel) OnTransportEvent(event string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events = append(u.events, event)
}

func (u *UserModel) Events() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.events))
	copy(out, u.events)
	return out
}

func (u *UserModel) OnSendPackage(linkID string, bytes []byte) ([]*chancore.Action, error) {
	return nil, nil
}

func (u *UserModel) OnUserInputReceived(key, value string) {}

// Encoding is an in-memory [chancore.Encoding]. Real encodings complete
// asynchronously, from a goroutine of their own choosing, so EncodeBytes
// and DecodeBytes only queue the request here; a test drains the queue
// with [Encoding.CompleteEncodes]/[Encoding.CompleteDecodes] to simulate
// that completion without ever calling back into the channel from
// inside a downward call (which would deadlock on its mutex).
type Encoding struct {
	MTU int

	mu            sync.Mutex
	pendingEncode []pendingEncode
	pendingDecode []pendingDecode
}

type pendingEncode struct {
	Handle        chancore.EncodeHandle
	Bytes         []byte
	EncodePackage bool
}

type pendingDecode struct {
	Handle chancore.DecodeHandle
	Bytes  []byte
}

func NewEncoding(mtu int) *Encoding {
	return &Encoding{MTU: mtu}
}

func (e *Encoding) GetEncodingProperties() chancore.EncodingProperties {
	return chancore.EncodingProperties{EncodingTime: 0, MimeType: "application/octet-stream"}
}

func (e *Encoding) GetEncodingPropertiesForParameters(params chancore.EncodingParams) chancore.EncodingPropertiesForParameters {
	return chancore.EncodingPropertiesForParameters{MTU: e.MTU}
}

func (e *Encoding) EncodeBytes(handle chancore.EncodeHandle, params chancore.EncodingParams, bytes []byte, encodePackage bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingEncode = append(e.pendingEncode, pendingEncode{handle, bytes, encodePackage})
	return nil
}

func (e *Encoding) DecodeBytes(handle chancore.DecodeHandle, params chancore.EncodingParams, bytes []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingDecode = append(e.pendingDecode, pendingDecode{handle, bytes})
	return nil
}

func (e *Encoding) OnUserInputReceived(key, value string) {}

// CompleteEncodes reports every currently-pending encode request to ch
// as having succeeded, echoing the bytes it was asked to encode
// (a pass-through encoding, sufficient for exercising the scheduling and
// framing layers without a real wire codec).
func (e *Encoding) CompleteEncodes(ch *chancore.Channel) {
	e.mu.Lock()
	pending := e.pendingEncode
	e.pendingEncode = nil
	e.mu.Unlock()
	for _, p := range pending {
		ch.OnBytesEncoded(p.Handle, p.Bytes, true, nil)
	}
}

// CompleteDecodes reports every currently-pending decode request to ch
// as having succeeded, echoing the bytes it was asked to decode.
func (e *Encoding) CompleteDecodes(ch *chancore.Channel) {
	e.mu.Lock()
	pending := e.pendingDecode
	e.pendingDecode = nil
	e.mu.Unlock()
	for _, p := range pending {
		ch.OnBytesDecoded(p.Handle, p.Bytes, true)
	}
}
