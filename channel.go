// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Channel is a named composition of one [Transport], one [UserModel]
// and one or more [Encoding]s. It is the top-level type this
// package exports: construct one with [NewChannel], drive its lifecycle
// with [Channel.Init]/[Channel.ActivateChannel], and feed it caller and
// component events through its exported methods.
//
// A Channel is immutable after construction except for the state
// guarded by its internal mutex (action store, package store,
// lifecycle, link/connection tables, pending encode/decode maps). Every
// exported method is safe for concurrent use.
type Channel struct {
	id     string
	cfg    *Config
	mode   FramingMode
	sdk    SDK
	logger Logger

	transport Transport
	userModel UserModel
	encodings map[string]Encoding

	mu        sync.Mutex
	lifecycle *lifecycle
	links     map[string]*Link
	actions   *actionStore
	pkgs      *packageStore
	send      *sendPipeline
	recv      *receivePipeline

	nextPackageHandle uint64
	handlesToPackages map[PackageHandle]*Package

	thread *actionThread
}

// NewChannel constructs a Channel in the UNINITIALIZED state. cfg may
// be nil, in which case [NewConfig] defaults are used.
func NewChannel(id string, mode FramingMode, sdk SDK, transport Transport, userModel UserModel, encodings map[string]Encoding, cfg *Config) *Channel {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := &Channel{
		id:                id,
		cfg:               cfg,
		mode:              mode,
		sdk:               sdk,
		logger:            cfg.Logger,
		transport:         transport,
		userModel:         userModel,
		encodings:         encodings,
		lifecycle:         newLifecycle(),
		links:             make(map[string]*Link),
		actions:           newActionStore(),
		handlesToPackages: make(map[PackageHandle]*Package),
	}
	c.pkgs = newPackageStore(cfg.Logger)
	c.send = newSendPipeline(mode, cfg.Logger, cfg.ErrClassifier, c.pkgs)
	c.recv = newReceivePipeline(mode, cfg.Logger)
	c.thread = newActionThread(c)
	return c
}

// notification is one upward call queued while the mutex was held, to
// be delivered once it is released.
type notification func()

// withLock runs fn with the mutex held and delivers every notification
// it returns only after releasing it, preserving the order fn queued
// them in.
func (c *Channel) withLock(fn func() []notification) {
	c.mu.Lock()
	notifications := fn()
	c.mu.Unlock()
	for _, n := range notifications {
		n()
	}
}

// Init transitions UNINITIALIZED -> INITIALIZING and starts the action
// thread's background goroutine. Component startup completion arrives
// later via [Channel.OnComponentStateChanged].
func (c *Channel) Init() error {
	var err error
	c.withLock(func() []notification {
		err = c.lifecycle.beginInit()
		return nil
	})
	if err != nil {
		return err
	}
	c.thread.start()
	return nil
}

// ActivateChannel transitions UNACTIVATED -> STARTING and asks the
// Transport and User Model to activate concurrently, via
// [errgroup.Group]. Either call failing is logged but does not block
// the transition: the components are expected to follow up with
// [Channel.OnComponentStateChanged] reporting COMPONENT_STATE_FAILED if
// the failure is fatal.
func (c *Channel) ActivateChannel(channelID, roleName string) error {
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.beginActivate(); err != nil {
			return nil
		}
		var g errgroup.Group
		g.Go(func() error { return c.transport.ActivateChannel(channelID, roleName) })
		g.Go(func() error { return c.userModel.ActivateChannel(channelID, roleName) })
		if gerr := g.Wait(); gerr != nil {
			c.logger.Info("channel: activate_channel component call failed", "error", gerr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.thread.signal()
	return nil
}

// DeactivateChannel transitions ACTIVATED -> DEACTIVATING, asks the
// Transport and User Model to deactivate concurrently and, once both
// calls have returned (successfully or not), records both as stopped,
// which advances the channel to DEACTIVATED before returning. Pending
// actions stay in the action store but are no longer fired, since the
// action thread only fires in ACTIVATED or DEACTIVATING; new
// [Channel.SendPackage] calls are rejected from this point on.
func (c *Channel) DeactivateChannel() error {
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.beginDeactivate(); err != nil {
			return nil
		}
		var g errgroup.Group
		g.Go(func() error { return c.transport.DeactivateChannel() })
		g.Go(func() error { return c.userModel.DeactivateChannel() })
		if gerr := g.Wait(); gerr != nil {
			c.logger.Info("channel: deactivate_channel component call failed", "error", gerr)
		}
		c.lifecycle.onComponentStopped(true)
		c.lifecycle.onComponentStopped(false)
		return nil
	})
	if err != nil {
		return err
	}
	c.thread.signal()
	return nil
}

// Shutdown transitions into DEACTIVATING if the channel is still
// ACTIVATED, stops the action thread and joins it, then asks the
// Transport and User Model to deactivate and advances the lifecycle to
// DEACTIVATED once both calls have returned. The action thread exits
// without running pending work first: actions not yet fired are not
// fired. After a prior explicit [Channel.DeactivateChannel] call the
// components are not asked again; Shutdown only stops and joins the
// action thread.
func (c *Channel) Shutdown() {
	var needsDeactivate bool
	c.withLock(func() []notification {
		if c.lifecycle.state == StateActivated {
			_ = c.lifecycle.beginDeactivate()
			needsDeactivate = true
		}
		return nil
	})

	c.thread.stop()

	if needsDeactivate {
		var g errgroup.Group
		g.Go(func() error { return c.transport.DeactivateChannel() })
		g.Go(func() error { return c.userModel.DeactivateChannel() })
		if err := g.Wait(); err != nil {
			c.logger.Info("channel: shutdown component call failed", "error", err)
		}
	}

	c.withLock(func() []notification {
		if c.lifecycle.state == StateDeactivating {
			c.lifecycle.onComponentStopped(true)
			c.lifecycle.onComponentStopped(false)
		}
		return nil
	})
}

// OnComponentStateChanged reports one component's lifecycle state and
// drives the channel's activation/failure transitions accordingly.
// isTransport distinguishes the Transport from the User Model;
// Encodings never call this (they are passive). cause is the
// underlying error that made the component fail, and may be nil.
func (c *Channel) OnComponentStateChanged(isTransport bool, state ComponentState, cause error) {
	c.withLock(func() []notification {
		switch state {
		case ComponentStateStarted:
			c.lifecycle.onComponentStarted(isTransport)
		case ComponentStateFailed:
			wasAlready := c.lifecycle.state == StateFailed
			c.lifecycle.onComponentFailed()
			c.logger.Info("channel: component failed", "is_transport", isTransport,
				"class", c.cfg.ErrClassifier.Classify(cause))
			if !wasAlready {
				return []notification{func() {
					c.sdk.OnChannelStatusChanged(c.id, ChannelFailed, nil, 0)
				}}
			}
		}
		return nil
	})
	c.thread.signal()
}

// CreateLink creates a new link and registers it once the Transport
// accepts the request.
func (c *Channel) CreateLink(linkID string) error {
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.requireActivated("create_link"); err != nil {
			return nil
		}
		if linkID == "" {
			err = errInvalidArgument("create_link: empty link id")
			return nil
		}
		if transportErr := c.transport.CreateLink(linkID); transportErr != nil {
			err = newError(KindPackageFailedGeneric, "create_link", transportErr)
			return nil
		}
		c.links[linkID] = newLink(linkID)
		if umErr := c.userModel.AddLink(linkID); umErr != nil {
			c.logger.Info("channel: user model rejected add_link", "link_id", linkID, "error", umErr)
		}
		return []notification{func() {
			c.sdk.OnLinkStatusChanged(linkID, LinkCreated, nil, 0)
		}}
	})
	c.thread.signal()
	return err
}

// DestroyLink destroys a link: every connection on it closes, every
// fragment bound to one of its packages resets to UNENCODED, and any
// in-flight encoding for it is orphaned.
func (c *Channel) DestroyLink(linkID string) error {
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.requireActivated("destroy_link"); err != nil {
			return nil
		}
		link, ok := c.links[linkID]
		if !ok {
			err = errInvalidArgument("destroy_link: unknown link id " + linkID)
			return nil
		}
		return c.destroyLinkLocked(link)
	})
	c.thread.signal()
	return err
}

// destroyLinkLocked performs the actual teardown; called both from
// DestroyLink and from a transport-reported LINK_DESTROYED event. The
// caller must hold the mutex.
func (c *Channel) destroyLinkLocked(link *Link) []notification {
	link.destroyed = true
	connIDs := link.connectionIDs()
	c.pkgs.onLinkDestroyed(link.ID)
	c.actions.removeLink(link.ID)
	c.send.forgetLink(link.ID)
	c.recv.forgetLink(link.ID)
	delete(c.links, link.ID)
	if umErr := c.userModel.RemoveLink(link.ID); umErr != nil {
		c.logger.Info("channel: user model rejected remove_link", "link_id", link.ID, "error", umErr)
	}

	reason := newError(KindPackageFailedGeneric, "link destroyed", nil)
	notifications := c.notifyOutcomesLocked(c.pkgs.failAndClearLink(link.ID, reason))
	for _, cid := range connIDs {
		cid := cid
		notifications = append(notifications, func() {
			c.sdk.OnConnectionStatusChanged(cid, ConnectionClosed, nil, 0)
		})
	}
	notifications = append(notifications, func() {
		c.sdk.OnLinkStatusChanged(link.ID, LinkDestroyed, nil, 0)
	})
	return notifications
}

// OpenConnection opens a connection on an existing link.
func (c *Channel) OpenConnection(linkID, connectionID string) error {
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.requireActivated("open_connection"); err != nil {
			return nil
		}
		link, ok := c.links[linkID]
		if !ok {
			err = errInvalidArgument("open_connection: unknown link id " + linkID)
			return nil
		}
		link.addConnection(&Connection{ID: connectionID, LinkID: linkID})
		return []notification{func() {
			c.sdk.OnConnectionStatusChanged(connectionID, ConnectionOpen, nil, 0)
		}}
	})
	return err
}

// CloseConnection closes a previously-opened connection.
func (c *Channel) CloseConnection(linkID, connectionID string) error {
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.requireActivated("close_connection"); err != nil {
			return nil
		}
		link, ok := c.links[linkID]
		if !ok {
			err = errInvalidArgument("close_connection: unknown link id " + linkID)
			return nil
		}
		link.removeConnection(connectionID)
		return []notification{func() {
			c.sdk.OnConnectionStatusChanged(connectionID, ConnectionClosed, nil, 0)
		}}
	})
	return err
}

// SendPackage enqueues an outbound package, returning the handle the
// caller should expect back via [Channel.OnPackageStatusChanged]. Never
// blocks waiting for an action to fire.
func (c *Channel) SendPackage(linkID, connectionID string, bytes []byte, deadline time.Time) (PackageHandle, error) {
	var handle PackageHandle
	var err error
	c.withLock(func() []notification {
		if err = c.lifecycle.requireActivated("send_package"); err != nil {
			return nil
		}
		if _, ok := c.links[linkID]; !ok {
			err = errInvalidArgument("send_package: unknown link id " + linkID)
			return nil
		}
		c.nextPackageHandle++
		handle = PackageHandle(c.nextPackageHandle)
		pkg := &Package{
			Handle:       handle,
			LinkID:       linkID,
			ConnectionID: connectionID,
			Bytes:        bytes,
			Deadline:     deadline,
		}
		c.handlesToPackages[handle] = pkg
		c.pkgs.enqueue(linkID, pkg)
		return nil
	})
	if err == nil {
		c.thread.signal()
	}
	return handle, err
}

// OnReceive is called by the Transport when bytes arrive on a link; it
// requests a decode, to be completed via [Channel.OnBytesDecoded].
func (c *Channel) OnReceive(linkID string, params EncodingParams, bytes []byte) error {
	var err error
	c.withLock(func() []notification {
		_, err = c.recv.onReceive(linkID, params, bytes, c.encodings)
		return nil
	})
	return err
}

// OnBytesDecoded completes a decode request, delivering every
// reassembled package to every open connection on the originating link.
func (c *Channel) OnBytesDecoded(handle DecodeHandle, bytes []byte, ok bool) {
	c.withLock(func() []notification {
		pkgs, linkID, found := c.recv.onBytesDecoded(handle, bytes, ok)
		if !found || len(pkgs) == 0 {
			return nil
		}
		link, exists := c.links[linkID]
		if !exists {
			return nil
		}
		connIDs := link.connectionIDs()
		var notifications []notification
		for _, pkgBytes := range pkgs {
			pkgBytes := pkgBytes
			notifications = append(notifications, func() {
				c.sdk.ReceiveEncPkg(pkgBytes, connIDs, 0)
			})
		}
		return notifications
	})
}

// OnBytesEncoded completes an encode request issued by the send
// pipeline.
func (c *Channel) OnBytesEncoded(handle EncodeHandle, bytes []byte, ok bool, cause error) {
	c.withLock(func() []notification {
		outcomes := c.send.onBytesEncoded(handle, bytes, ok, cause)
		return c.notifyOutcomesLocked(outcomes)
	})
	c.thread.signal()
}

// OnPackageStatusChanged reports a transport-confirmed terminal status
// for one fragment, keyed by the handle [Channel] assigned when firing
// the action.
func (c *Channel) OnPackageStatusChanged(handle FragmentHandle, sent bool, cause *Error) {
	c.withLock(func() []notification {
		outcome := c.send.onPackageStatusChanged(handle, sent, cause)
		if outcome == nil {
			return nil
		}
		return c.notifyOutcomesLocked([]packageOutcome{*outcome})
	})
}

// OnLinkStatusChanged reports a transport-originated link status event
// (in particular LINK_DESTROYED, which the core must tear down for).
func (c *Channel) OnLinkStatusChanged(linkID string, status LinkStatus) {
	c.withLock(func() []notification {
		if status != LinkDestroyed {
			return nil
		}
		link, ok := c.links[linkID]
		if !ok {
			return nil
		}
		return c.destroyLinkLocked(link)
	})
	c.thread.signal()
}

// notifyOutcomesLocked converts terminal package outcomes into queued
// upward notifications and forgets their handle mapping. An outcome for
// a package whose handle was already reported is dropped, so each
// package is reported once. Caller must hold the mutex.
func (c *Channel) notifyOutcomesLocked(outcomes []packageOutcome) []notification {
	var notifications []notification
	for _, o := range outcomes {
		if _, ok := c.handlesToPackages[o.Pkg.Handle]; !ok {
			continue
		}
		delete(c.handlesToPackages, o.Pkg.Handle)
		handle, status := o.Pkg.Handle, o.Status
		c.logger.Debug("packageDone", "handle", handle, "status", status)
		notifications = append(notifications, func() {
			c.sdk.OnPackageStatusChanged(handle, status, 0)
		})
	}
	return notifications
}
