// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import "time"

// LinkStatus is the status a [Channel] reports for a Link via [SDK.OnLinkStatusChanged].
type LinkStatus int

const (
	LinkCreated LinkStatus = iota
	LinkLoaded
	LinkDestroyed
)

// ConnectionStatus is the status a [Channel] reports for a Connection.
type ConnectionStatus int

const (
	ConnectionOpen ConnectionStatus = iota
	ConnectionClosed
)

// ChannelStatus is the status a [Channel] reports for itself.
type ChannelStatus int

const (
	ChannelAvailable ChannelStatus = iota
	ChannelUnavailable
	ChannelEnabled
	ChannelDisabled
	ChannelFailed
)

// PackageStatus is the terminal status reported for one [Package].
type PackageStatus int

const (
	PackageSent PackageStatus = iota
	PackageFailedGeneric
	PackageFailedTimeout
)

// SDK is the upward interface the core calls into. It is implemented by
// the outer runtime that owns persistent state and the top-level API;
// the [Channel] only ever calls it with the lock released, and in the
// order the underlying events were generated for a given link.
type SDK interface {
	// GenerateLinkID returns a fresh, stable link id for the given channel.
	GenerateLinkID(channelID string) string

	// GenerateConnectionID returns a fresh, stable connection id for the given link.
	GenerateConnectionID(linkID string) string

	// OnLinkStatusChanged reports a Link lifecycle transition.
	OnLinkStatusChanged(linkID string, status LinkStatus, properties map[string]string, timeout time.Duration)

	// OnConnectionStatusChanged reports a Connection lifecycle transition.
	OnConnectionStatusChanged(connectionID string, status ConnectionStatus, properties map[string]string, timeout time.Duration)

	// OnChannelStatusChanged reports a Channel-wide status transition.
	OnChannelStatusChanged(channelID string, status ChannelStatus, properties map[string]string, timeout time.Duration)

	// OnPackageStatusChanged reports the terminal outcome for a package,
	// identified by the caller handle supplied to [Channel.SendPackage].
	OnPackageStatusChanged(handle PackageHandle, status PackageStatus, timeout time.Duration)

	// ReceiveEncPkg delivers one reassembled package to every connection
	// id in connectionIDs (the full set of open connections on the
	// owning link at delivery time).
	ReceiveEncPkg(bytes []byte, connectionIDs []string, timeout time.Duration)

	// RequestPluginUserInput asks the user (via the outer SDK) for a
	// value keyed by key, optionally caching the answer.
	RequestPluginUserInput(key, prompt string, cache bool)

	// RequestCommonUserInput asks the user for a value shared across plugins.
	RequestCommonUserInput(key string)

	// DisplayInfoToUser shows the given data to the user, tagged with a type.
	DisplayInfoToUser(data, infoType string)
}

// PackageHandle identifies one caller-submitted [Package] for the
// lifetime of its journey through the channel; it is the value a caller
// gets back from [Channel.SendPackage] and the value [SDK.OnPackageStatusChanged]
// reports against.
type PackageHandle uint64
