// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package appservice implements the homeserver-facing side of the bridge:
// the application service push API. Every request must carry the configured
// homeserver token, either as a bearer token or in the access_token query
// parameter.
package appservice

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exhttp"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/cache"
)

// EventHandler receives the events of a transaction, in order.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *event.Event)
}

// QueryHandler answers the homeserver's user and room alias queries.
type QueryHandler interface {
	QueryUser(ctx context.Context, userID id.UserID) (bool, error)
	QueryRoomAlias(ctx context.Context, alias id.RoomAlias) (bool, error)
}

type Config struct {
	HSToken string
	// TxnCacheSize bounds transaction deduplication. Zero means
	// cache.DefaultTxnLimit.
	TxnCacheSize int
}

// Handler serves the appservice API.
type Handler struct {
	hsToken []byte
	txns    *cache.TxnSet
	events  EventHandler
	queries QueryHandler
	mux     *http.ServeMux
	log     zerolog.Logger

	parseTransaction func([]byte) (*Transaction, error)
}

var _ http.Handler = (*Handler)(nil)

// NewHandler builds the appservice handler. An empty HSToken rejects every
// request.
func NewHandler(cfg Config, events EventHandler, queries QueryHandler, log zerolog.Logger) *Handler {
	h := &Handler{
		hsToken:          []byte(cfg.HSToken),
		txns:             cache.NewTxnSet(cfg.TxnCacheSize),
		events:           events,
		queries:          queries,
		mux:              http.NewServeMux(),
		log:              log.With().Str("component", "appservice").Logger(),
		parseTransaction: ParseTransaction,
	}
	for _, prefix := range []string{"/_matrix/app/v1", ""} {
		h.mux.HandleFunc("PUT "+prefix+"/transactions/{txnID}", h.putTransaction)
		h.mux.HandleFunc("GET "+prefix+"/users/{userID}", h.getUser)
		h.mux.HandleFunc("GET "+prefix+"/rooms/{alias}", h.getRoomAlias)
	}
	h.mux.HandleFunc("PUT /_matrix/app/v1/ping", h.ping)
	h.mux.HandleFunc("POST /_matrix/app/v1/ping", h.ping)
	h.mux.HandleFunc("GET /_matrix/app/v1/thirdparty/protocol/{protocol}", h.getProtocol)
	h.mux.HandleFunc("GET /_matrix/app/unstable/thirdparty/protocol/{protocol}", h.getProtocol)
	h.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mautrix.MUnrecognized.WithMessage("Unknown endpoint").Write(w)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.log.Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("path", r.URL.Path).
			Msg("Rejected request with missing or invalid homeserver token")
		mautrix.MForbidden.WithMessage("Application service is not allowed to perform this action").Write(w)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authorized(r *http.Request) bool {
	if len(h.hsToken) == 0 {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		token = r.URL.Query().Get("access_token")
	}
	return subtle.ConstantTimeCompare([]byte(token), h.hsToken) == 1
}

// errBadRequest has no predefined counterpart in mautrix.
var errBadRequest = mautrix.RespError{ErrCode: "M_BAD_REQUEST", StatusCode: http.StatusBadRequest}

func writeEmptyOK(w http.ResponseWriter) {
	exhttp.WriteEmptyJSONResponse(w, http.StatusOK)
}
