// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/connector/plainfmt"
)

// HandleEvent receives every event the homeserver pushes in a transaction.
// Plain messages from real Matrix users are handed to the XMPP host; events
// sent by the bridge itself are dropped to avoid echoes.
func (c *Connector) HandleEvent(ctx context.Context, evt *event.Event) {
	log := c.log.With().
		Stringer("event_id", evt.ID).
		Stringer("room_id", evt.RoomID).
		Stringer("sender", evt.Sender).
		Str("event_type", evt.Type.Type).
		Logger()
	if evt.Type.Type != event.EventMessage.Type {
		log.Debug().Msg("Ignoring non-message event")
		return
	}
	if c.isBridgeUser(evt.Sender) {
		log.Debug().Msg("Ignoring message sent by the bridge")
		return
	}
	content := evt.Content.AsMessage()
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
	default:
		log.Debug().Str("msgtype", string(content.MsgType)).Msg("Ignoring unsupported message type")
		relayedMessages.WithLabelValues(directionToXMPP, "unsupported").Inc()
		return
	}
	body := plainfmt.Parse(content)
	if strings.TrimSpace(body) == "" {
		relayedMessages.WithLabelValues(directionToXMPP, "empty").Inc()
		return
	}

	host, _ := c.getHost()
	if host == nil {
		log.Warn().Msg("Dropping Matrix message, no XMPP host attached")
		relayedMessages.WithLabelValues(directionToXMPP, "failed").Inc()
		return
	}
	err := host.DeliverMatrixMessage(ctx, &InboundMessage{
		EventID:  evt.ID,
		RoomID:   evt.RoomID,
		SenderID: evt.Sender,
		Sender:   MatrixUserJID(evt.Sender, c.Config.BridgeDomain()),
		Body:     body,
	})
	if err != nil {
		log.Err(err).Msg("Failed to deliver Matrix message to XMPP")
		relayedMessages.WithLabelValues(directionToXMPP, "failed").Inc()
		return
	}
	relayedMessages.WithLabelValues(directionToXMPP, "sent").Inc()
}

func (c *Connector) isBridgeUser(userID id.UserID) bool {
	return userID == c.Config.BotUserID() ||
		strings.HasPrefix(string(userID), c.Config.Appservice.GhostPrefix)
}

// QueryUser answers whether a ghost user ID belongs to an existing XMPP
// account.
func (c *Connector) QueryUser(ctx context.Context, userID id.UserID) (bool, error) {
	jid, ok := ParseGhostUserID(userID, c.Config.Appservice.GhostPrefix, c.Config.BridgeDomain())
	if !ok {
		return false, nil
	}
	host, _ := c.getHost()
	if host == nil {
		return false, nil
	}
	return host.UserExists(ctx, jid)
}

// QueryRoomAlias answers whether an alias maps onto an existing group chat
// room hosted under the XMPP domain.
func (c *Connector) QueryRoomAlias(ctx context.Context, alias id.RoomAlias) (bool, error) {
	room := ToJID(string(alias), c.Config.BridgeDomain())
	if room.Local == "" || !strings.HasSuffix(room.Domain, "."+c.Config.XMPP.Domain) {
		return false, nil
	}
	host, _ := c.getHost()
	if host == nil {
		return false, nil
	}
	return host.IsMUCRoom(room), nil
}
