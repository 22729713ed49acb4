// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package directory is a stateless request/response wrapper around the Matrix
// client-server API, used with an appservice token.
//
// Calls that act on behalf of a ghost user carry that user as the user_id
// query parameter while the Authorization header carries the appservice token.
// Dropping the query parameter makes the homeserver attribute the action to
// the appservice bot instead of the ghost.
package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// DefaultTimeout bounds every homeserver request when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds the immutable values the client needs.
type Config struct {
	HomeserverURL      string
	AccessToken        string
	InsecureSkipVerify bool
	Timeout            time.Duration
	// HTTPClient replaces the default transport. Used by tests.
	HTTPClient *http.Client
}

// Client performs homeserver calls. A Client built without a homeserver URL
// or token is valid, but every call fails with ErrConfigurationMissing and no
// network attempt is made.
type Client struct {
	cli *mautrix.Client
	log zerolog.Logger
}

// NewClient builds a Client. It only fails if the homeserver URL is present
// but cannot be parsed.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	c := &Client{log: log.With().Str("component", "directory").Logger()}
	if cfg.HomeserverURL == "" || cfg.AccessToken == "" {
		return c, nil
	}
	cli, err := mautrix.NewClient(cfg.HomeserverURL, "", cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid homeserver url %q: %w", cfg.HomeserverURL, err)
	}
	cli.Log = c.log
	if cfg.HTTPClient != nil {
		cli.Client = cfg.HTTPClient
	} else {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		cli.Client = &http.Client{Timeout: timeout, Transport: transport}
	}
	c.cli = cli
	return c, nil
}

// Configured reports whether calls will reach the network.
func (c *Client) Configured() bool {
	return c.cli != nil
}

func masquerade(userID id.UserID) map[string]string {
	return map[string]string{"user_id": string(userID)}
}

func (c *Client) do(ctx context.Context, op, method string, path mautrix.ClientURLPath, query map[string]string, reqBody, resBody any) error {
	if c.cli == nil {
		c.log.Error().Str("op", op).Msg("Homeserver URL or appservice token not set, skipping request")
		observe(op, ErrConfigurationMissing)
		return &Error{Op: op, Kind: ErrConfigurationMissing}
	}
	_, err := c.cli.MakeRequest(ctx, method, c.cli.BuildURLWithQuery(path, query), reqBody, resBody)
	if dirErr := classify(op, err); dirErr != nil {
		observe(op, dirErr.Kind)
		return dirErr
	}
	observe(op, nil)
	return nil
}

// VerifyIdentity asks the homeserver whether the appservice token may act as
// userID. A homeserver refusal is reported as (false, err).
func (c *Client) VerifyIdentity(ctx context.Context, userID id.UserID) (bool, error) {
	var resp mautrix.RespWhoami
	err := c.do(ctx, "whoami", http.MethodGet, mautrix.ClientURLPath{"v3", "account", "whoami"}, masquerade(userID), nil, &resp)
	if err != nil {
		return false, err
	}
	return resp.UserID == userID, nil
}

// ResolveAlias returns the room ID an alias points to. A missing alias is
// reported as ErrNotFound.
func (c *Client) ResolveAlias(ctx context.Context, alias id.RoomAlias) (id.RoomID, error) {
	var resp mautrix.RespAliasResolve
	err := c.do(ctx, "resolve_alias", http.MethodGet, mautrix.ClientURLPath{"v3", "directory", "room", string(alias)}, nil, nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// CreateRoomRequest describes a room to create as the appservice bot.
type CreateRoomRequest struct {
	// AliasLocalpart is the alias without the leading '#' and the server name.
	AliasLocalpart string
	Name           string
	Invite         []id.UserID
	IsDirect       bool
	Preset         string
}

// Room presets used by the bridge.
const (
	PresetTrustedPrivateChat = "trusted_private_chat"
	PresetPublicChat         = "public_chat"
)

// CreateRoom creates a room and returns its ID.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (id.RoomID, error) {
	body := &mautrix.ReqCreateRoom{
		RoomAliasName: req.AliasLocalpart,
		Name:          req.Name,
		Invite:        req.Invite,
		IsDirect:      req.IsDirect,
		Preset:        req.Preset,
	}
	var resp mautrix.RespCreateRoom
	err := c.do(ctx, "create_room", http.MethodPost, mautrix.ClientURLPath{"v3", "createRoom"}, nil, body, &resp)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// JoinRoom joins actingUser to a room given by ID or alias.
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string, actingUser id.UserID) (id.RoomID, error) {
	var resp mautrix.RespJoinRoom
	err := c.do(ctx, "join", http.MethodPost, mautrix.ClientURLPath{"v3", "join", roomIDOrAlias}, masquerade(actingUser), struct{}{}, &resp)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

// InviteUser invites invitee into roomID on behalf of actingUser.
func (c *Client) InviteUser(ctx context.Context, roomID id.RoomID, invitee, actingUser id.UserID) error {
	body := &mautrix.ReqInviteUser{UserID: invitee}
	return c.do(ctx, "invite", http.MethodPost, mautrix.ClientURLPath{"v3", "rooms", string(roomID), "invite"}, masquerade(actingUser), body, &struct{}{})
}

type joinedMembersResponse struct {
	Joined map[id.UserID]struct {
		DisplayName string `json:"display_name,omitempty"`
	} `json:"joined"`
}

// JoinedMembers lists the users currently joined to roomID, as seen by
// actingUser.
func (c *Client) JoinedMembers(ctx context.Context, roomID id.RoomID, actingUser id.UserID) (map[id.UserID]struct{}, error) {
	var resp joinedMembersResponse
	err := c.do(ctx, "joined_members", http.MethodGet, mautrix.ClientURLPath{"v3", "rooms", string(roomID), "joined_members"}, masquerade(actingUser), nil, &resp)
	if err != nil {
		return nil, err
	}
	members := make(map[id.UserID]struct{}, len(resp.Joined))
	for userID := range resp.Joined {
		members[userID] = struct{}{}
	}
	return members, nil
}

// textContent is the only message content the bridge sends.
type textContent struct {
	MsgType event.MessageType `json:"msgtype"`
	Body    string            `json:"body"`
}

// SendText sends a plain m.text message as actingUser. txnID lets the
// homeserver deduplicate retried sends.
func (c *Client) SendText(ctx context.Context, roomID id.RoomID, body string, actingUser id.UserID, txnID string) (id.EventID, error) {
	content := &textContent{MsgType: event.MsgText, Body: body}
	var resp mautrix.RespSendEvent
	path := mautrix.ClientURLPath{"v3", "rooms", string(roomID), "send", event.EventMessage.Type, txnID}
	err := c.do(ctx, "send_message", http.MethodPut, path, masquerade(actingUser), content, &resp)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

// PublishRequest carries the room directory metadata sent on publish.
type PublishRequest struct {
	Visibility     string `json:"visibility"`
	AliasLocalpart string `json:"room_alias_name,omitempty"`
	WorldReadable  bool   `json:"world_readable"`
	GuestCanJoin   bool   `json:"guest_can_join"`
	Name           string `json:"name,omitempty"`
	AvatarURL      string `json:"avatar_url,omitempty"`
	Topic          string `json:"topic"`
}

// PublishRoom lists roomID in the public room directory. Republishing an
// already listed room is harmless.
func (c *Client) PublishRoom(ctx context.Context, roomID id.RoomID, req PublishRequest) error {
	if req.Visibility == "" {
		req.Visibility = "public"
	}
	if req.Topic == "" {
		req.Topic = "not available"
	}
	return c.do(ctx, "publish_room", http.MethodPost, mautrix.ClientURLPath{"v3", "directory", "list", "room", string(roomID)}, nil, &req, &struct{}{})
}

// UnpublishRoom removes roomID from the public room directory.
func (c *Client) UnpublishRoom(ctx context.Context, roomID id.RoomID) error {
	return c.do(ctx, "unpublish_room", http.MethodDelete, mautrix.ClientURLPath{"v3", "directory", "list", "room", string(roomID)}, nil, nil, &struct{}{})
}

// PublicRoom is one entry of the public room directory.
type PublicRoom struct {
	RoomID         id.RoomID    `json:"room_id"`
	Name           string       `json:"name,omitempty"`
	Topic          string       `json:"topic,omitempty"`
	CanonicalAlias id.RoomAlias `json:"canonical_alias,omitempty"`
	JoinedMembers  int          `json:"num_joined_members"`
}

type publicRoomsResponse struct {
	Chunk []PublicRoom `json:"chunk"`
}

// PublicRoomsLimit caps a single public room listing.
const PublicRoomsLimit = 50

// PublicRooms returns the first page of the homeserver's public room directory.
func (c *Client) PublicRooms(ctx context.Context) ([]PublicRoom, error) {
	var resp publicRoomsResponse
	query := map[string]string{"limit": strconv.Itoa(PublicRoomsLimit)}
	err := c.do(ctx, "public_rooms", http.MethodGet, mautrix.ClientURLPath{"v3", "publicRooms"}, query, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Chunk, nil
}

// GetProfile returns the global profile of userID.
func (c *Client) GetProfile(ctx context.Context, userID id.UserID) (*mautrix.RespUserProfile, error) {
	var resp mautrix.RespUserProfile
	err := c.do(ctx, "get_profile", http.MethodGet, mautrix.ClientURLPath{"v3", "profile", string(userID)}, nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
