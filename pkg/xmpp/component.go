// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package xmpp is the boundary between the bridge and the host XMPP server.
// The host decodes stanzas into Packet values and hands them to a Component,
// which routes them to a Handler and answers IQ queries through the Host.
package xmpp

import (
	"context"
	"errors"
	"runtime"

	"github.com/rs/zerolog"
)

// ErrItemNotFound is returned by Handler lookups for entities that do not
// exist; the component answers those with item-not-found.
var ErrItemNotFound = errors.New("item not found")

// Handler receives the bridge-relevant events of the component.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) error
	// HandleRoomJoin is called when someone enters a group room. occupant is
	// the real JID of the user and is zero when the host could not tell.
	HandleRoomJoin(ctx context.Context, room, occupant JID) error
	HandleRoomDestroyed(ctx context.Context, room JID) error
	// DiscoItems lists the rooms reachable through the component.
	DiscoItems(ctx context.Context) ([]DiscoItem, error)
	// DiscoUser returns the display name of a bridged user, or ErrItemNotFound.
	// An empty name falls back to the JID's local part.
	DiscoUser(ctx context.Context, user JID) (string, error)
}

// Host is the part of the XMPP server the component depends on.
type Host interface {
	SendIQ(ctx context.Context, resp *IQResponse) error
	// IsMUCRoom reports whether room is a group chat room on the host.
	IsMUCRoom(room JID) bool
	// RealJID returns the user behind a room occupant address, or a zero JID
	// and false when the host does not know it.
	RealJID(occupant JID) (JID, bool)
}

// Component features advertised on disco#info.
var componentFeatures = []string{
	"jabber:iq:gateway",
	NSDiscoInfo,
	NSDiscoItems,
	"urn:xmpp:ping",
	"urn:xmpp:receipts",
	NSMUC,
	"urn:matrix:bridge:1",
}

var userFeatures = []string{NSDiscoInfo, NSVersion}

// Component dispatches packets addressed to the bridge's XMPP domain.
type Component struct {
	Domain  string
	Name    string
	Version string

	handler Handler
	host    Host
	log     zerolog.Logger
}

// NewComponent builds a component serving domain.
func NewComponent(domain, name, version string, handler Handler, host Host, log zerolog.Logger) *Component {
	return &Component{
		Domain:  domain,
		Name:    name,
		Version: version,
		handler: handler,
		host:    host,
		log:     log.With().Str("component", "xmpp").Logger(),
	}
}

// ProcessPacket handles one packet. It never fails: errors are logged, and
// IQ queries always get either a result or a stanza error.
func (c *Component) ProcessPacket(ctx context.Context, p Packet) {
	switch pkt := p.(type) {
	case *Message:
		c.processMessage(ctx, pkt)
	case *Presence:
		c.processPresence(ctx, pkt)
	case *IQ:
		c.processIQ(ctx, pkt)
	default:
		c.log.Warn().Type("packet_type", p).Msg("Ignoring unknown packet type")
	}
}

func (c *Component) processMessage(ctx context.Context, msg *Message) {
	if msg.Type == MessageError {
		c.log.Debug().Stringer("from", msg.From).Msg("Ignoring error message")
		return
	}
	if err := c.handler.HandleMessage(ctx, msg); err != nil {
		c.log.Warn().Err(err).
			Stringer("from", msg.From).
			Stringer("to", msg.To).
			Str("message_id", msg.ID).
			Msg("Dropping message")
	}
}

func (c *Component) processPresence(ctx context.Context, pres *Presence) {
	room := pres.To.Bare()
	if !pres.MUC || !c.host.IsMUCRoom(room) {
		return
	}
	log := c.log.With().Stringer("room", room).Logger()
	switch {
	case pres.Type == PresenceUnavailable && pres.Destroy:
		if err := c.handler.HandleRoomDestroyed(ctx, room); err != nil {
			log.Warn().Err(err).Msg("Failed to handle room destruction")
		}
	case pres.Type == PresenceUnavailable:
		log.Debug().Stringer("from", pres.From).Msg("Occupant left room")
	default:
		occupant, _ := c.host.RealJID(pres.To)
		if err := c.handler.HandleRoomJoin(ctx, room, occupant.Bare()); err != nil {
			log.Warn().Err(err).Stringer("occupant", occupant).Msg("Failed to handle room join")
		}
	}
}

func (c *Component) processIQ(ctx context.Context, iq *IQ) {
	switch iq.Type {
	case IQResult, IQError:
		c.log.Debug().Str("iq_id", iq.ID).Str("iq_type", string(iq.Type)).Msg("Ignoring IQ response")
		return
	case IQSet:
		if KindOf(iq.Namespace) == QueryMUCOwner && iq.Destroy {
			if err := c.handler.HandleRoomDestroyed(ctx, iq.To.Bare()); err != nil {
				c.log.Warn().Err(err).Stringer("room", iq.To.Bare()).Msg("Failed to handle room destruction")
			}
			return
		}
	}
	if iq.Namespace == "" {
		c.reply(ctx, iq, nil, &StanzaError{Code: 400, Condition: ConditionBadRequest})
		return
	}
	if iq.Type != IQGet {
		c.reply(ctx, iq, nil, &StanzaError{Condition: ConditionFeatureNotImplemented})
		return
	}

	toComponent := iq.To.Local == "" && iq.To.Domain == c.Domain
	switch KindOf(iq.Namespace) {
	case QueryDiscoInfo:
		if toComponent {
			c.reply(ctx, iq, c.componentInfo(), nil)
			return
		}
		name, err := c.handler.DiscoUser(ctx, iq.To.Bare())
		if err != nil {
			c.replyErr(ctx, iq, err)
			return
		}
		if name == "" {
			name = iq.To.Local
		}
		c.reply(ctx, iq, DiscoInfo{
			Identities: []Identity{{Category: "client", Type: "user", Name: name}},
			Features:   userFeatures,
		}, nil)
	case QueryDiscoItems:
		if !toComponent {
			c.reply(ctx, iq, nil, &StanzaError{Condition: ConditionFeatureNotImplemented})
			return
		}
		items, err := c.handler.DiscoItems(ctx)
		if err != nil {
			c.replyErr(ctx, iq, err)
			return
		}
		c.reply(ctx, iq, DiscoItems{Items: items}, nil)
	case QueryVersion:
		c.reply(ctx, iq, SoftwareVersion{
			Name:    c.Name,
			Version: c.Version,
			OS:      runtime.GOOS + " / " + runtime.Version(),
		}, nil)
	default:
		c.reply(ctx, iq, nil, &StanzaError{Condition: ConditionFeatureNotImplemented})
	}
}

func (c *Component) componentInfo() DiscoInfo {
	return DiscoInfo{
		Identities: []Identity{
			{Category: "conference", Type: "text", Name: c.Name},
			{Category: "directory", Type: "chatroom", Name: c.Name},
			{Category: "gateway", Type: "matrix", Name: c.Name},
		},
		Features: componentFeatures,
	}
}

func (c *Component) replyErr(ctx context.Context, iq *IQ, err error) {
	if errors.Is(err, ErrItemNotFound) {
		c.reply(ctx, iq, nil, &StanzaError{Code: 404, Condition: ConditionItemNotFound})
		return
	}
	c.log.Warn().Err(err).Str("query", KindOf(iq.Namespace).String()).Msg("Query failed")
	c.reply(ctx, iq, nil, &StanzaError{Code: 500, Condition: ConditionInternalServerError})
}

func (c *Component) reply(ctx context.Context, iq *IQ, payload any, stanzaErr *StanzaError) {
	resp := &IQResponse{
		ID:        iq.ID,
		From:      iq.To,
		To:        iq.From,
		Namespace: iq.Namespace,
		Payload:   payload,
		Error:     stanzaErr,
	}
	if err := c.host.SendIQ(ctx, resp); err != nil {
		c.log.Warn().Err(err).Str("iq_id", iq.ID).Msg("Failed to send IQ response")
	}
}
