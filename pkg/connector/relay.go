// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aiku/matrix-xmpp-bridge/pkg/directory"
	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

// Relay forwards XMPP chat messages into Matrix direct rooms. Each message
// gets exactly one send attempt.
type Relay struct {
	rooms       *RoomManager
	dir         *directory.Client
	ghostPrefix string
	log         zerolog.Logger
}

func NewRelay(rooms *RoomManager, dir *directory.Client, ghostPrefix string, log zerolog.Logger) *Relay {
	return &Relay{
		rooms:       rooms,
		dir:         dir,
		ghostPrefix: ghostPrefix,
		log:         log.With().Str("component", "relay").Logger(),
	}
}

// SendMessage relays body from sender to recipient. A blank body is dropped
// without error and without touching the homeserver. messageID becomes the
// send transaction ID; a random one is used when it is empty.
func (r *Relay) SendMessage(ctx context.Context, sender, recipient xmpp.JID, body, messageID string) error {
	log := r.log.With().
		Stringer("sender", sender).
		Stringer("recipient", recipient).
		Str("message_id", messageID).
		Logger()
	if strings.TrimSpace(body) == "" {
		log.Debug().Msg("Dropping message with empty body")
		relayedMessages.WithLabelValues(directionToMatrix, "empty").Inc()
		return nil
	}

	senderID := ToMatrixUserID(sender, r.ghostPrefix)
	recipientID := ToMatrixUserID(recipient, r.ghostPrefix)
	roomID, err := r.rooms.EnsureDirectRoom(ctx, DirectAlias(sender, recipient), senderID, recipientID)
	if err != nil {
		relayedMessages.WithLabelValues(directionToMatrix, "failed").Inc()
		return fmt.Errorf("failed to prepare room: %w", err)
	}

	txnID := messageID
	if txnID == "" {
		txnID = uuid.NewString()
	}
	eventID, err := r.dir.SendText(ctx, roomID, body, senderID, txnID)
	if err != nil {
		relayedMessages.WithLabelValues(directionToMatrix, "failed").Inc()
		return fmt.Errorf("failed to send message: %w", err)
	}
	relayedMessages.WithLabelValues(directionToMatrix, "sent").Inc()
	log.Debug().
		Stringer("room_id", roomID).
		Stringer("event_id", eventID).
		Msg("Relayed message to Matrix")
	return nil
}
