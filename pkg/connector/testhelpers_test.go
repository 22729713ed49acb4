// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/directory/directorytest"
	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

const (
	testASToken = "as_token_123"
	testHSToken = "hs_token_456"

	ghostAlice = id.UserID("@xmpp_alice:x.org")
	ghostBob   = id.UserID("@xmpp_bob:x.org")
	testBot    = id.UserID("@xmppbridge:x.org")
)

var (
	jidAlice = xmpp.MustParseJID("alice@x.org")
	jidBob   = xmpp.MustParseJID("bob@x.org")
)

// newTestConfig returns a post-processed config pointing at hsURL.
func newTestConfig(t *testing.T, hsURL string) *Config {
	t.Helper()
	cfg := &Config{
		Homeserver: HomeserverConfig{Address: hsURL, Domain: "x.org"},
		Appservice: AppserviceConfig{
			Listen:       "127.0.0.1:0",
			ASToken:      testASToken,
			HSToken:      testHSToken,
			BotLocalpart: "xmppbridge",
		},
		XMPP: XMPPConfig{Domain: "x.org", RoomNameTemplate: "XMPP: {{.Local}}"},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestConnector starts a fake homeserver on serverName and builds a
// connector against it with a fresh fakeHost attached.
func newTestConnector(t *testing.T, serverName string) (*Connector, *directorytest.Homeserver, *fakeHost) {
	t.Helper()
	hs := directorytest.NewHomeserver(serverName)
	t.Cleanup(hs.Close)
	c, err := New(newTestConfig(t, hs.URL()), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	host := newFakeHost()
	c.SetHost(host)
	return c, hs, host
}

// callStrings renders recorded calls as "METHOD path?user_id=..." lines.
func callStrings(calls []directorytest.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

func assertCalls(t *testing.T, hs *directorytest.Homeserver, want ...string) {
	t.Helper()
	got := callStrings(hs.Calls())
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("homeserver calls:\n  got:\n    %s\n  want:\n    %s",
			strings.Join(got, "\n    "), strings.Join(want, "\n    "))
	}
}

// fakeHost records everything the connector hands to the XMPP server.
type fakeHost struct {
	mu        sync.Mutex
	rooms     map[xmpp.JID]bool
	users     map[xmpp.JID]bool
	occupants map[xmpp.JID]xmpp.JID
	iqs       []*xmpp.IQResponse
	delivered []*InboundMessage

	deliverErr error
}

var _ Host = (*fakeHost)(nil)

func newFakeHost() *fakeHost {
	return &fakeHost{
		rooms:     make(map[xmpp.JID]bool),
		users:     make(map[xmpp.JID]bool),
		occupants: make(map[xmpp.JID]xmpp.JID),
	}
}

func (h *fakeHost) SendIQ(_ context.Context, resp *xmpp.IQResponse) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.iqs = append(h.iqs, resp)
	return nil
}

func (h *fakeHost) IsMUCRoom(room xmpp.JID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[room]
}

func (h *fakeHost) RealJID(occupant xmpp.JID) (xmpp.JID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	jid, ok := h.occupants[occupant]
	return jid, ok
}

func (h *fakeHost) UserExists(_ context.Context, jid xmpp.JID) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users[jid], nil
}

func (h *fakeHost) DeliverMatrixMessage(_ context.Context, msg *InboundMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deliverErr != nil {
		return h.deliverErr
	}
	h.delivered = append(h.delivered, msg)
	return nil
}

func (h *fakeHost) IQs() []*xmpp.IQResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]*xmpp.IQResponse, len(h.iqs))
	copy(cp, h.iqs)
	return cp
}

func (h *fakeHost) Delivered() []*InboundMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]*InboundMessage, len(h.delivered))
	copy(cp, h.delivered)
	return cp
}
