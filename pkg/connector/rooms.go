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
	"golang.org/x/sync/singleflight"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/cache"
	"github.com/aiku/matrix-xmpp-bridge/pkg/directory"
)

// RoomSpec describes the room an alias should point at if it has to be
// created.
type RoomSpec struct {
	Alias  id.RoomAlias
	Name   string
	Invite []id.UserID
	Direct bool
	Preset string
}

// RoomManager converges rooms and memberships on the homeserver. Every step
// consults the caches first; a cached fact is never re-validated remotely.
type RoomManager struct {
	dir    *directory.Client
	caches *cache.Caches
	// creating collapses concurrent creations of the same alias into one call.
	creating singleflight.Group
	log      zerolog.Logger
}

func NewRoomManager(dir *directory.Client, caches *cache.Caches, log zerolog.Logger) *RoomManager {
	return &RoomManager{
		dir:    dir,
		caches: caches,
		log:    log.With().Str("component", "rooms").Logger(),
	}
}

// EnsureRoom returns the room ID behind spec.Alias, creating the room when the
// alias does not resolve.
func (rm *RoomManager) EnsureRoom(ctx context.Context, spec RoomSpec) (id.RoomID, error) {
	if roomID, ok := rm.caches.RoomIDs.Get(spec.Alias); ok {
		return roomID, nil
	}
	log := rm.log.With().Str("alias", string(spec.Alias)).Logger()
	roomID, err := rm.dir.ResolveAlias(ctx, spec.Alias)
	switch {
	case err == nil:
		rm.caches.RoomIDs.Set(spec.Alias, roomID)
		return roomID, nil
	case !errors.Is(err, directory.ErrNotFound):
		log.Err(err).Msg("Failed to resolve room alias")
		return "", err
	}
	log.Debug().Msg("Room alias not found, creating room")

	// The flight is shared by every waiter, so one caller giving up must not
	// fail the others.
	flightCtx := context.WithoutCancel(ctx)
	res, err, _ := rm.creating.Do(string(spec.Alias), func() (any, error) {
		return rm.create(flightCtx, spec)
	})
	if err != nil {
		return "", err
	}
	return res.(id.RoomID), nil
}

func (rm *RoomManager) create(ctx context.Context, spec RoomSpec) (id.RoomID, error) {
	// A flight that finished just before this one started already cached it.
	if roomID, ok := rm.caches.RoomIDs.Get(spec.Alias); ok {
		return roomID, nil
	}
	log := rm.log.With().Str("alias", string(spec.Alias)).Logger()
	roomID, err := rm.dir.CreateRoom(ctx, directory.CreateRoomRequest{
		AliasLocalpart: aliasLocalpart(spec.Alias),
		Name:           spec.Name,
		Invite:         spec.Invite,
		IsDirect:       spec.Direct,
		Preset:         spec.Preset,
	})
	if err == nil {
		rm.caches.RoomIDs.Set(spec.Alias, roomID)
		log.Info().Stringer("room_id", roomID).Msg("Created room")
		return roomID, nil
	}
	// Someone else may have claimed the alias between resolve and create.
	resolved, resolveErr := rm.dir.ResolveAlias(ctx, spec.Alias)
	if resolveErr != nil {
		log.Err(err).Msg("Failed to create room")
		return "", fmt.Errorf("failed to create room %s: %w", spec.Alias, err)
	}
	log.Debug().Err(err).Stringer("room_id", resolved).Msg("Room creation failed but alias now resolves")
	rm.caches.RoomIDs.Set(spec.Alias, resolved)
	return resolved, nil
}

// EnsureJoined joins userID into roomID unless that was already done. A 403 is
// remembered like a success and reported as AlreadySatisfied.
func (rm *RoomManager) EnsureJoined(ctx context.Context, roomID id.RoomID, userID id.UserID) (directory.Outcome, error) {
	key := cache.JoinKey{RoomID: roomID, UserID: userID}
	if _, ok := rm.caches.Joined.Get(key); ok {
		return directory.AlreadySatisfied, nil
	}
	_, err := rm.dir.JoinRoom(ctx, string(roomID), userID)
	outcome := directory.OutcomeOf(err)
	log := rm.log.With().Stringer("room_id", roomID).Stringer("user_id", userID).Logger()
	switch outcome {
	case directory.Succeeded:
		log.Debug().Msg("Joined room")
	case directory.AlreadySatisfied:
		log.Warn().Err(err).Msg("Join forbidden, treating user as already joined")
	default:
		log.Err(err).Msg("Failed to join room")
		return outcome, err
	}
	rm.caches.Joined.Set(key, true)
	return outcome, nil
}

// EnsureInvited invites invitee on behalf of actingUser if invitee is not
// joined yet. Failures are logged and folded into the outcome; the room may
// be usable regardless.
func (rm *RoomManager) EnsureInvited(ctx context.Context, roomID id.RoomID, invitee, actingUser id.UserID) directory.Outcome {
	log := rm.log.With().
		Stringer("room_id", roomID).
		Stringer("invitee", invitee).
		Stringer("acting_user", actingUser).
		Logger()
	members, err := rm.dir.JoinedMembers(ctx, roomID, actingUser)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list joined members, inviting anyway")
	} else if _, joined := members[invitee]; joined {
		return directory.AlreadySatisfied
	}
	err = rm.dir.InviteUser(ctx, roomID, invitee, actingUser)
	outcome := directory.OutcomeOf(err)
	switch outcome {
	case directory.AlreadySatisfied:
		log.Debug().Err(err).Msg("Invite forbidden, treating user as already invited")
	case directory.Failed:
		log.Err(err).Msg("Failed to invite user")
	}
	return outcome
}

// EnsureDirectRoom positions sender and recipient in the private room behind
// alias: the room exists, sender is joined, recipient is invited. Only a
// failure to get the room or the sender's membership is returned.
func (rm *RoomManager) EnsureDirectRoom(ctx context.Context, alias id.RoomAlias, sender, recipient id.UserID) (id.RoomID, error) {
	roomID, err := rm.EnsureRoom(ctx, RoomSpec{
		Alias:  alias,
		Invite: []id.UserID{recipient},
		Direct: true,
		Preset: directory.PresetTrustedPrivateChat,
	})
	if err != nil {
		return "", err
	}
	if _, err = rm.EnsureJoined(ctx, roomID, sender); err != nil {
		return "", err
	}
	rm.EnsureInvited(ctx, roomID, recipient, sender)
	return roomID, nil
}
