// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/appservice"
	"github.com/aiku/matrix-xmpp-bridge/pkg/cache"
	"github.com/aiku/matrix-xmpp-bridge/pkg/directory"
	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

// Version is reported in XMPP software version replies.
var Version = "0.1.0"

// InboundMessage is a Matrix message addressed to the XMPP side.
type InboundMessage struct {
	EventID  id.EventID
	RoomID   id.RoomID
	SenderID id.UserID
	// Sender is SenderID mapped into the bridge's XMPP domain.
	Sender xmpp.JID
	Body   string
}

// Host is the XMPP server the bridge component is plugged into.
type Host interface {
	xmpp.Host
	// UserExists reports whether jid is a local account on the XMPP server.
	UserExists(ctx context.Context, jid xmpp.JID) (bool, error)
	// DeliverMatrixMessage hands a Matrix message to the XMPP server.
	DeliverMatrixMessage(ctx context.Context, msg *InboundMessage) error
}

// Connector wires the bridge together: it owns the homeserver client, the
// caches and the room machinery, handles XMPP packets through its component
// and serves the appservice API.
type Connector struct {
	Config    *Config
	Directory *directory.Client
	Caches    *cache.Caches
	Rooms     *RoomManager
	Relay     *Relay
	Presence  *Synchronizer

	hostLock  sync.RWMutex
	host      Host
	component *xmpp.Component

	appservice *appservice.Handler
	server     *http.Server
	listener   net.Listener
	log        zerolog.Logger
}

var (
	_ xmpp.Handler            = (*Connector)(nil)
	_ appservice.EventHandler = (*Connector)(nil)
	_ appservice.QueryHandler = (*Connector)(nil)
)

// New builds a Connector from a post-processed config. A config without
// homeserver URL or appservice token is accepted; every homeserver call then
// fails with directory.ErrConfigurationMissing.
func New(cfg *Config, log zerolog.Logger) (*Connector, error) {
	dir, err := directory.NewClient(cfg.DirectoryConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to create homeserver client: %w", err)
	}
	return NewWithDirectory(cfg, dir, log), nil
}

// NewWithDirectory builds a Connector around an existing homeserver client.
func NewWithDirectory(cfg *Config, dir *directory.Client, log zerolog.Logger) *Connector {
	caches := cache.New(cfg.Appservice.JoinCacheSize)
	rooms := NewRoomManager(dir, caches, log)
	c := &Connector{
		Config:    cfg,
		Directory: dir,
		Caches:    caches,
		Rooms:     rooms,
		Relay:     NewRelay(rooms, dir, cfg.Appservice.GhostPrefix, log),
		Presence:  NewSynchronizer(rooms, dir, caches, cfg, log),
		log:       log,
	}
	c.appservice = appservice.NewHandler(appservice.Config{
		HSToken:      cfg.Appservice.HSToken,
		TxnCacheSize: cfg.Appservice.TransactionCacheSize,
	}, c, c, log)
	return c
}

// SetHost attaches the XMPP server. Packets are dropped until it is called.
func (c *Connector) SetHost(host Host) {
	c.hostLock.Lock()
	defer c.hostLock.Unlock()
	c.host = host
	c.component = xmpp.NewComponent(c.Config.BridgeDomain(), "Matrix Bridge", Version, c, host, c.log)
}

func (c *Connector) getHost() (Host, *xmpp.Component) {
	c.hostLock.RLock()
	defer c.hostLock.RUnlock()
	return c.host, c.component
}

// ProcessPacket is the entry point for every packet the XMPP server routes to
// the bridge domain.
func (c *Connector) ProcessPacket(ctx context.Context, p xmpp.Packet) {
	_, component := c.getHost()
	if component == nil {
		c.log.Warn().Type("packet_type", p).Msg("Dropping packet, no XMPP host attached")
		return
	}
	component.ProcessPacket(ctx, p)
}

// HTTPHandler serves the appservice API and /metrics.
func (c *Connector) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", c.appservice)
	return mux
}

// Start checks that the appservice token works and starts the appservice
// listener. A failing identity check is logged, not fatal.
func (c *Connector) Start(ctx context.Context) error {
	if !c.Directory.Configured() {
		c.log.Error().Msg("Homeserver URL or appservice token missing, homeserver calls will fail")
	} else if ok, err := c.CanActAs(ctx, c.Config.BotUserID()); err != nil {
		c.log.Warn().Err(err).Msg("Failed to verify appservice identity")
	} else if !ok {
		c.log.Warn().Stringer("user_id", c.Config.BotUserID()).Msg("Appservice token cannot act as bridge bot")
	} else {
		c.log.Info().Stringer("user_id", c.Config.BotUserID()).Msg("Verified appservice identity")
	}

	ln, err := net.Listen("tcp", c.Config.Appservice.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.Config.Appservice.Listen, err)
	}
	c.listener = ln
	c.server = &http.Server{
		Handler:      c.HTTPHandler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		c.log.Info().Str("addr", ln.Addr().String()).Msg("Starting appservice API")
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error().Err(err).Msg("Appservice API error")
		}
	}()
	return nil
}

// Addr returns the address the appservice API listens on, or nil before Start.
func (c *Connector) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop shuts the appservice listener down, waiting for in-flight requests
// until ctx expires.
func (c *Connector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	c.log.Info().Msg("Stopping appservice API")
	return c.server.Shutdown(ctx)
}

// CanActAs reports whether the appservice token may act as userID. Both
// answers are cached. Any non-2xx answer from the homeserver is a cached
// false; only failures that never got a response are retried later.
func (c *Connector) CanActAs(ctx context.Context, userID id.UserID) (bool, error) {
	return c.Caches.WhoAmI.GetOrCompute(userID, func() (bool, error) {
		ok, err := c.Directory.VerifyIdentity(ctx, userID)
		if status := directory.StatusCode(err); status != 0 {
			c.log.Debug().Err(err).Stringer("user_id", userID).Msg("Homeserver refused identity check")
			return false, nil
		}
		return ok, err
	})
}

// HandleMessage relays one-to-one chat messages. Group chat messages are
// left to the XMPP server's own room handling.
func (c *Connector) HandleMessage(ctx context.Context, msg *xmpp.Message) error {
	if msg.Type == xmpp.MessageGroupChat {
		c.log.Debug().Stringer("from", msg.From).Msg("Ignoring group chat message")
		return nil
	}
	return c.Relay.SendMessage(ctx, msg.From.Bare(), msg.To.Bare(), msg.Body, msg.ID)
}

func (c *Connector) HandleRoomJoin(ctx context.Context, room, occupant xmpp.JID) error {
	return c.Presence.RoomJoined(ctx, room, occupant)
}

func (c *Connector) HandleRoomDestroyed(ctx context.Context, room xmpp.JID) error {
	return c.Presence.RoomDestroyed(ctx, room)
}

// DiscoItems lists the homeserver's public rooms as items of the bridge
// domain.
func (c *Connector) DiscoItems(ctx context.Context) ([]xmpp.DiscoItem, error) {
	rooms, err := c.Directory.PublicRooms(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]xmpp.DiscoItem, 0, len(rooms))
	for _, room := range rooms {
		name := room.Name
		if name == "" {
			name = "Unnamed Room"
		}
		items = append(items, xmpp.DiscoItem{
			JID:  ToJID(string(room.RoomID), c.Config.BridgeDomain()),
			Name: name,
		})
	}
	return items, nil
}

// DiscoUser returns the Matrix display name of the ghost behind user.
func (c *Connector) DiscoUser(ctx context.Context, user xmpp.JID) (string, error) {
	profile, err := c.Directory.GetProfile(ctx, ToMatrixUserID(user, c.Config.Appservice.GhostPrefix))
	if errors.Is(err, directory.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", xmpp.ErrItemNotFound, err)
	} else if err != nil {
		return "", err
	}
	return profile.DisplayName, nil
}
