// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/cache"
	"github.com/aiku/matrix-xmpp-bridge/pkg/directory"
	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

// Synchronizer mirrors XMPP group rooms into the Matrix public room directory.
type Synchronizer struct {
	rooms  *RoomManager
	dir    *directory.Client
	caches *cache.Caches
	cfg    *Config
	log    zerolog.Logger
}

func NewSynchronizer(rooms *RoomManager, dir *directory.Client, caches *cache.Caches, cfg *Config, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		rooms:  rooms,
		dir:    dir,
		caches: caches,
		cfg:    cfg,
		log:    log.With().Str("component", "presence").Logger(),
	}
}

// RoomJoined makes sure the Matrix room for an XMPP group room exists and is
// published, then joins the occupant's ghost. A zero occupant only publishes.
func (s *Synchronizer) RoomJoined(ctx context.Context, room, occupant xmpp.JID) error {
	alias := GroupAlias(room)
	name := s.cfg.FormatRoomName(RoomNameParams{Local: room.Local, Domain: room.Domain})
	roomID, err := s.rooms.EnsureRoom(ctx, RoomSpec{
		Alias:  alias,
		Name:   name,
		Preset: directory.PresetPublicChat,
	})
	if err != nil {
		return fmt.Errorf("failed to get room for %s: %w", room, err)
	}
	if err = s.publish(ctx, alias, roomID, name); err != nil {
		// Joining still makes the room usable.
		s.log.Err(err).Str("alias", string(alias)).Msg("Failed to publish room")
	}
	if occupant.IsZero() {
		s.log.Debug().Stringer("room", room).Msg("Occupant address unknown, not joining")
		return nil
	}
	ghost := ToMatrixUserID(occupant, s.cfg.Appservice.GhostPrefix)
	if _, err = s.rooms.EnsureJoined(ctx, roomID, ghost); err != nil {
		return fmt.Errorf("failed to join %s to %s: %w", ghost, room, err)
	}
	return nil
}

func (s *Synchronizer) publish(ctx context.Context, alias id.RoomAlias, roomID id.RoomID, name string) error {
	if published, ok := s.caches.Published.Get(alias); ok && published == roomID {
		return nil
	}
	err := s.dir.PublishRoom(ctx, roomID, directory.PublishRequest{
		AliasLocalpart: aliasLocalpart(alias),
		WorldReadable:  true,
		Name:           name,
	})
	if err != nil {
		return err
	}
	s.caches.Published.Set(alias, roomID)
	s.log.Info().Str("alias", string(alias)).Stringer("room_id", roomID).Msg("Published room")
	return nil
}

// RoomDestroyed removes the Matrix room of a destroyed XMPP group room from
// the public directory. A room that never existed is not an error.
func (s *Synchronizer) RoomDestroyed(ctx context.Context, room xmpp.JID) error {
	alias := GroupAlias(room)
	log := s.log.With().Str("alias", string(alias)).Logger()
	roomID, ok := s.caches.RoomIDs.Get(alias)
	if !ok {
		var err error
		roomID, err = s.dir.ResolveAlias(ctx, alias)
		if errors.Is(err, directory.ErrNotFound) {
			log.Debug().Msg("Destroyed room has no Matrix counterpart")
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", alias, err)
		}
	}
	if err := s.dir.UnpublishRoom(ctx, roomID); err != nil {
		return fmt.Errorf("failed to unpublish %s: %w", roomID, err)
	}
	s.caches.Published.Delete(alias)
	log.Info().Stringer("room_id", roomID).Msg("Unpublished destroyed room")
	return nil
}
