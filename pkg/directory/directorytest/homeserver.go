// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package directorytest provides an in-memory homeserver that records every
// client-server API call it receives.
package directorytest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"maunium.net/go/mautrix/id"
)

const clientPrefix = "/_matrix/client/v3/"

// Call is one recorded request.
type Call struct {
	Method string
	// Path is relative to /_matrix/client/v3/, e.g. "directory/room/#a:x.org".
	Path   string
	UserID id.UserID
	Auth   string
	Body   string
}

func (c Call) String() string {
	if c.UserID != "" {
		return fmt.Sprintf("%s %s?user_id=%s", c.Method, c.Path, c.UserID)
	}
	return c.Method + " " + c.Path
}

// Homeserver fakes the subset of the client-server API the bridge uses. Rooms
// created through it get sequential IDs on ServerName.
type Homeserver struct {
	Server     *httptest.Server
	ServerName string

	mu    sync.Mutex
	calls []Call
	next  int

	// Aliases maps room aliases to room IDs.
	Aliases map[id.RoomAlias]id.RoomID
	// Members maps room IDs to their joined users.
	Members map[id.RoomID]map[id.UserID]struct{}
	// Published holds rooms listed in the public directory.
	Published map[id.RoomID]string
	// Identities lists the users the appservice token may act as.
	Identities map[id.UserID]bool
	// Profiles maps users to display names.
	Profiles map[id.UserID]string
	// ForbidJoin makes joins by these users fail with 403.
	ForbidJoin map[id.UserID]bool
	// ForbidInvite makes invites of these users fail with 403.
	ForbidInvite map[id.UserID]bool
	// FailPaths makes requests whose path contains the key fail with the
	// given status code.
	FailPaths map[string]int
	// BeforeCreate runs with the state locked before a createRoom request is
	// handled. It may mutate the exported maps directly.
	BeforeCreate func(hs *Homeserver)
}

// NewHomeserver starts a fake homeserver. Callers must Close it.
func NewHomeserver(serverName string) *Homeserver {
	hs := &Homeserver{
		ServerName:   serverName,
		Aliases:      make(map[id.RoomAlias]id.RoomID),
		Members:      make(map[id.RoomID]map[id.UserID]struct{}),
		Published:    make(map[id.RoomID]string),
		Identities:   make(map[id.UserID]bool),
		Profiles:     make(map[id.UserID]string),
		ForbidJoin:   make(map[id.UserID]bool),
		ForbidInvite: make(map[id.UserID]bool),
		FailPaths:    make(map[string]int),
	}
	hs.Server = httptest.NewServer(http.HandlerFunc(hs.handle))
	return hs
}

func (hs *Homeserver) URL() string {
	return hs.Server.URL
}

func (hs *Homeserver) Close() {
	hs.Server.Close()
}

// Calls returns a copy of the recorded calls in arrival order.
func (hs *Homeserver) Calls() []Call {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	cp := make([]Call, len(hs.calls))
	copy(cp, hs.calls)
	return cp
}

// CallsTo returns the recorded calls whose path starts with prefix.
func (hs *Homeserver) CallsTo(method, prefix string) []Call {
	var out []Call
	for _, c := range hs.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls but keeps the server state.
func (hs *Homeserver) Reset() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.calls = nil
}

// AddRoom registers an existing room under alias with the given members.
func (hs *Homeserver) AddRoom(alias id.RoomAlias, members ...id.UserID) id.RoomID {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	roomID := hs.newRoomIDLocked()
	if alias != "" {
		hs.Aliases[alias] = roomID
	}
	set := make(map[id.UserID]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	hs.Members[roomID] = set
	return roomID
}

// AliasTarget returns the room alias points to.
func (hs *Homeserver) AliasTarget(alias id.RoomAlias) (id.RoomID, bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	roomID, ok := hs.Aliases[alias]
	return roomID, ok
}

// IsMember reports whether userID is joined to roomID.
func (hs *Homeserver) IsMember(roomID id.RoomID, userID id.UserID) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	_, ok := hs.Members[roomID][userID]
	return ok
}

// IsPublished reports whether roomID is in the public directory.
func (hs *Homeserver) IsPublished(roomID id.RoomID) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	_, ok := hs.Published[roomID]
	return ok
}

func (hs *Homeserver) newRoomIDLocked() id.RoomID {
	hs.next++
	return id.RoomID(fmt.Sprintf("!room%d:%s", hs.next, hs.ServerName))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errcode, msg string) {
	writeJSON(w, status, map[string]string{"errcode": errcode, "error": msg})
}

func (hs *Homeserver) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, clientPrefix)
	actor := id.UserID(r.URL.Query().Get("user_id"))

	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.calls = append(hs.calls, Call{
		Method: r.Method,
		Path:   path,
		UserID: actor,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})

	for frag, status := range hs.FailPaths {
		if strings.Contains(path, frag) {
			writeError(w, status, "M_UNKNOWN", "fake failure")
			return
		}
	}

	parts := strings.Split(path, "/")
	switch {
	case r.Method == http.MethodGet && path == "account/whoami":
		if !hs.Identities[actor] {
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "Application service cannot masquerade as this user")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"user_id": string(actor)})

	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "directory" && parts[1] == "room":
		roomID, ok := hs.Aliases[id.RoomAlias(parts[2])]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Room alias not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "servers": []string{hs.ServerName}})

	case r.Method == http.MethodPost && path == "createRoom":
		if hs.BeforeCreate != nil {
			hs.BeforeCreate(hs)
		}
		var req struct {
			RoomAliasName string      `json:"room_alias_name"`
			Invite        []id.UserID `json:"invite"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "M_BAD_JSON", err.Error())
			return
		}
		var alias id.RoomAlias
		if req.RoomAliasName != "" {
			alias = id.RoomAlias("#" + req.RoomAliasName + ":" + hs.ServerName)
			if _, taken := hs.Aliases[alias]; taken {
				writeError(w, http.StatusBadRequest, "M_ROOM_IN_USE", "Room alias already taken")
				return
			}
		}
		roomID := hs.newRoomIDLocked()
		if alias != "" {
			hs.Aliases[alias] = roomID
		}
		hs.Members[roomID] = map[id.UserID]struct{}{}
		writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID})

	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "join":
		roomID := id.RoomID(parts[1])
		if strings.HasPrefix(parts[1], "#") {
			var ok bool
			if roomID, ok = hs.Aliases[id.RoomAlias(parts[1])]; !ok {
				writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Room alias not found")
				return
			}
		}
		members, ok := hs.Members[roomID]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Unknown room")
			return
		}
		if hs.ForbidJoin[actor] {
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "You are not invited to this room.")
			return
		}
		members[actor] = struct{}{}
		writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID})

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "rooms" && parts[2] == "invite":
		var req struct {
			UserID id.UserID `json:"user_id"`
		}
		_ = json.Unmarshal(body, &req)
		if _, ok := hs.Members[id.RoomID(parts[1])]; !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Unknown room")
			return
		}
		if hs.ForbidInvite[req.UserID] {
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "User is already in the room")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{})

	case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "rooms" && parts[2] == "joined_members":
		members, ok := hs.Members[id.RoomID(parts[1])]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Unknown room")
			return
		}
		joined := make(map[id.UserID]map[string]string, len(members))
		for userID := range members {
			joined[userID] = map[string]string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"joined": joined})

	case r.Method == http.MethodPut && len(parts) == 5 && parts[0] == "rooms" && parts[2] == "send":
		writeJSON(w, http.StatusOK, map[string]any{"event_id": fmt.Sprintf("$%s", parts[4])})

	case len(parts) == 4 && parts[0] == "directory" && parts[1] == "list" && parts[2] == "room":
		roomID := id.RoomID(parts[3])
		switch r.Method {
		case http.MethodPost, http.MethodPut:
			var req struct {
				Name string `json:"name"`
			}
			_ = json.Unmarshal(body, &req)
			hs.Published[roomID] = req.Name
		case http.MethodDelete:
			delete(hs.Published, roomID)
		}
		writeJSON(w, http.StatusOK, map[string]any{})

	case r.Method == http.MethodGet && path == "publicRooms":
		chunk := make([]map[string]any, 0, len(hs.Published))
		for roomID, name := range hs.Published {
			chunk = append(chunk, map[string]any{
				"room_id":            roomID,
				"name":               name,
				"num_joined_members": len(hs.Members[roomID]),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunk": chunk})

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "profile":
		name, ok := hs.Profiles[id.UserID(parts[1])]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Profile not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"displayname": name})

	default:
		writeError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
	}
}
