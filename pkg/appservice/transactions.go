// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package appservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
)

// maxBodySize bounds a single pushed transaction (16 MB).
const maxBodySize = 16 << 20

// Transaction is a batch of events pushed by the homeserver.
type Transaction struct {
	Events []*event.Event
}

// MalformedError is returned by ParseTransaction for bodies the homeserver
// should not have sent. It maps to a 400 response.
type MalformedError struct {
	Message string
}

func (e *MalformedError) Error() string {
	return e.Message
}

// ParseTransaction decodes a transaction body. The events field must be
// present; an empty array is fine.
func ParseTransaction(body []byte) (*Transaction, error) {
	var raw struct {
		Events *[]json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &MalformedError{Message: "Invalid JSON: " + err.Error()}
	}
	if raw.Events == nil {
		return nil, &MalformedError{Message: "Missing 'events' array"}
	}
	txn := &Transaction{Events: make([]*event.Event, 0, len(*raw.Events))}
	for i, data := range *raw.Events {
		var evt event.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, &MalformedError{Message: fmt.Sprintf("Invalid event at index %d: %v", i, err)}
		}
		if evt.StateKey != nil {
			evt.Type.Class = event.StateEventType
		} else {
			evt.Type.Class = event.MessageEventType
		}
		// Unknown event types keep only their raw content.
		_ = evt.Content.ParseRaw(evt.Type)
		txn.Events = append(txn.Events, &evt)
	}
	return txn, nil
}

func (h *Handler) putTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := r.PathValue("txnID")
	log := h.log.With().Str("txn_id", txnID).Logger()
	if !h.txns.MarkSeen(txnID) {
		log.Debug().Msg("Acknowledging duplicate transaction")
		transactions.WithLabelValues("duplicate").Inc()
		writeEmptyOK(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			transactions.WithLabelValues("malformed").Inc()
			mautrix.MTooLarge.WithMessage("Transaction body too large").Write(w)
			return
		}
		log.Err(err).Msg("Failed to read transaction body")
		transactions.WithLabelValues("failed").Inc()
		// A retry of this transaction must be processed.
		h.txns.Forget(txnID)
		mautrix.MUnknown.WithMessage("Internal server error: %v", err).Write(w)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		transactions.WithLabelValues("malformed").Inc()
		mautrix.MBadJSON.WithMessage("Empty body").Write(w)
		return
	}
	txn, err := h.parseTransaction(body)
	if err != nil {
		log.Debug().Err(err).Msg("Rejecting malformed transaction")
		transactions.WithLabelValues("malformed").Inc()
		mautrix.MBadJSON.WithMessage(err.Error()).Write(w)
		return
	}

	log.Debug().Int("event_count", len(txn.Events)).Msg("Processing transaction")
	for _, evt := range txn.Events {
		h.events.HandleEvent(r.Context(), evt)
	}
	transactions.WithLabelValues("processed").Inc()
	writeEmptyOK(w)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		mautrix.MBadJSON.WithMessage("Malformed JSON: %v", err).Write(w)
		return
	}
	if req.TransactionID == "" {
		errBadRequest.WithMessage("Missing transaction_id").Write(w)
		return
	}
	h.log.Info().Str("txn_id", req.TransactionID).Msg("Received ping from homeserver")
	writeEmptyOK(w)
}
