// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package appservice

import (
	"net/http"
	"strings"

	"go.mau.fi/util/exhttp"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// ProtocolID is the only third-party protocol the bridge serves.
const ProtocolID = "xmpp"

type protocolField struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ProtocolMetadata is the static answer to thirdparty/protocol/xmpp.
type ProtocolMetadata struct {
	Protocol       string          `json:"protocol"`
	Fields         []protocolField `json:"fields"`
	LocationFields []protocolField `json:"location_fields"`
}

var xmppProtocol = ProtocolMetadata{
	Protocol: ProtocolID,
	Fields: []protocolField{{
		Key:         "user",
		Name:        "User ID",
		Type:        "m.text",
		Required:    true,
		Description: "The local part of an XMPP user, e.g. 'alice'",
	}},
	LocationFields: []protocolField{{
		Key:         "room",
		Name:        "Room alias",
		Type:        "m.text",
		Description: "The alias of an XMPP MUC room",
	}},
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))
	if _, _, err := userID.Parse(); err != nil {
		errBadRequest.WithMessage("Invalid userId format").Write(w)
		return
	}
	exists, err := h.queries.QueryUser(r.Context(), userID)
	if err != nil {
		h.log.Err(err).Stringer("user_id", userID).Msg("User query failed")
		mautrix.MUnknown.WithMessage("Internal error: %v", err).Write(w)
		return
	}
	if !exists {
		mautrix.MNotFound.WithMessage("User not found").Write(w)
		return
	}
	writeEmptyOK(w)
}

func (h *Handler) getRoomAlias(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	local, server, ok := strings.Cut(strings.TrimPrefix(alias, "#"), ":")
	if !strings.HasPrefix(alias, "#") || !ok || local == "" || server == "" {
		errBadRequest.WithMessage("Invalid room alias format").Write(w)
		return
	}
	exists, err := h.queries.QueryRoomAlias(r.Context(), id.RoomAlias(alias))
	if err != nil {
		h.log.Err(err).Str("alias", alias).Msg("Room alias query failed")
		mautrix.MUnknown.WithMessage("Internal error: %v", err).Write(w)
		return
	}
	if !exists {
		mautrix.MNotFound.WithMessage("Room alias not found").Write(w)
		return
	}
	writeEmptyOK(w)
}

func (h *Handler) getProtocol(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.PathValue("protocol"), ProtocolID) {
		mautrix.MNotFound.WithMessage("Protocol not found").Write(w)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, xmppProtocol)
}
