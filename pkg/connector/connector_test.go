// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/matrix-xmpp-bridge/pkg/directory"
	"github.com/aiku/matrix-xmpp-bridge/pkg/directory/directorytest"
	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

func TestNewWithoutHomeserver(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t, "")
	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Directory.Configured() {
		t.Error("Directory.Configured() = true without a homeserver URL")
	}
	err = c.Relay.SendMessage(context.Background(), jidAlice, jidBob, "hello", "msg1")
	if !errors.Is(err, directory.ErrConfigurationMissing) {
		t.Errorf("SendMessage error = %v, want ErrConfigurationMissing", err)
	}
}

func TestNewInvalidHomeserverURL(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t, "://bad url")
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid homeserver URL")
	}
}

func TestCanActAsCachesRefusal(t *testing.T) {
	t.Parallel()
	c, hs, _ := newTestConnector(t, "x.org")
	ctx := context.Background()

	ok, err := c.CanActAs(ctx, ghostAlice)
	if err != nil || ok {
		t.Fatalf("CanActAs = %v, %v; want false, nil", ok, err)
	}
	ok, err = c.CanActAs(ctx, ghostAlice)
	if err != nil || ok {
		t.Fatalf("second CanActAs = %v, %v; want false, nil", ok, err)
	}
	assertCalls(t, hs, "GET account/whoami?user_id=@xmpp_alice:x.org")
}

func TestCanActAsCachesSuccess(t *testing.T) {
	t.Parallel()
	c, hs, _ := newTestConnector(t, "x.org")
	hs.Identities[ghostBob] = true

	for range 3 {
		ok, err := c.CanActAs(context.Background(), ghostBob)
		if err != nil || !ok {
			t.Fatalf("CanActAs = %v, %v; want true, nil", ok, err)
		}
	}
	if n := len(hs.Calls()); n != 1 {
		t.Errorf("got %d whoami calls, want 1", n)
	}
}

func TestCanActAsCachesErrorResponses(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()
			c, hs, _ := newTestConnector(t, "x.org")
			hs.FailPaths["whoami"] = status

			for range 2 {
				ok, err := c.CanActAs(context.Background(), ghostAlice)
				if err != nil || ok {
					t.Fatalf("CanActAs = %v, %v; want false, nil", ok, err)
				}
			}
			if n := len(hs.Calls()); n != 1 {
				t.Errorf("got %d whoami calls, want 1", n)
			}
		})
	}
}

func TestCanActAsDoesNotCacheTransportErrors(t *testing.T) {
	t.Parallel()
	hs := directorytest.NewHomeserver("x.org")
	url := hs.URL()
	hs.Close()
	c, err := New(newTestConfig(t, url), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.CanActAs(context.Background(), ghostAlice); !errors.Is(err, directory.ErrTransport) {
		t.Fatalf("CanActAs error = %v, want ErrTransport", err)
	}
	if _, ok := c.Caches.WhoAmI.Get(ghostAlice); ok {
		t.Error("failed identity check was cached")
	}
}

func TestProcessPacketChatMessage(t *testing.T) {
	t.Parallel()
	c, hs, _ := newTestConnector(t, "x.org")

	c.ProcessPacket(context.Background(), &xmpp.Message{
		ID:   "msg1",
		Type: xmpp.MessageChat,
		From: xmpp.MustParseJID("alice@x.org/phone"),
		To:   xmpp.MustParseJID("bob@x.org/laptop"),
		Body: "hello",
	})
	sends := hs.CallsTo(http.MethodPut, "rooms/")
	if len(sends) != 1 {
		t.Fatalf("got %d send calls, want 1", len(sends))
	}
	if sends[0].UserID != ghostAlice {
		t.Errorf("send user_id = %s, want %s", sends[0].UserID, ghostAlice)
	}
	if !strings.HasSuffix(sends[0].Path, "/send/m.room.message/msg1") {
		t.Errorf("send path = %s", sends[0].Path)
	}
}

func TestProcessPacketIgnoresGroupChat(t *testing.T) {
	t.Parallel()
	c, hs, _ := newTestConnector(t, "x.org")

	c.ProcessPacket(context.Background(), &xmpp.Message{
		Type: xmpp.MessageGroupChat,
		From: xmpp.MustParseJID("lobby@conference.x.org/alice"),
		To:   xmpp.MustParseJID("bob@x.org"),
		Body: "hello room",
	})
	if n := len(hs.Calls()); n != 0 {
		t.Errorf("homeserver received %d calls, want 0", n)
	}
}

func TestProcessPacketWithoutHost(t *testing.T) {
	t.Parallel()
	c, err := New(newTestConfig(t, ""), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Must not panic.
	c.ProcessPacket(context.Background(), &xmpp.Message{Type: xmpp.MessageChat, Body: "hi"})
}

func TestProcessPacketRoomPresence(t *testing.T) {
	t.Parallel()
	c, hs, host := newTestConnector(t, mucDomain)
	host.rooms[lobby] = true
	occupantAddr := xmpp.MustParseJID("lobby@conference.x.org/Alice")
	host.occupants[occupantAddr] = xmpp.MustParseJID("alice@x.org/phone")

	c.ProcessPacket(context.Background(), &xmpp.Presence{
		From: xmpp.MustParseJID("alice@x.org/phone"),
		To:   occupantAddr,
		MUC:  true,
	})
	roomID, ok := hs.AliasTarget("#lobby:conference.x.org")
	if !ok {
		t.Fatal("room was not created")
	}
	if !hs.IsMember(roomID, ghostAlice) {
		t.Error("occupant ghost did not join")
	}

	c.ProcessPacket(context.Background(), &xmpp.Presence{
		From:    lobby,
		To:      occupantAddr,
		Type:    xmpp.PresenceUnavailable,
		MUC:     true,
		Destroy: true,
	})
	if hs.IsPublished(roomID) {
		t.Error("destroyed room still published")
	}
}

func TestProcessPacketDiscoItems(t *testing.T) {
	t.Parallel()
	c, hs, host := newTestConnector(t, "x.org")
	named := hs.AddRoom("#lobby:x.org")
	unnamed := hs.AddRoom("")
	hs.Published[named] = "Lobby"
	hs.Published[unnamed] = ""

	c.ProcessPacket(context.Background(), &xmpp.IQ{
		ID:        "items1",
		Type:      xmpp.IQGet,
		From:      jidAlice,
		To:        xmpp.JID{Domain: "matrix.x.org"},
		Namespace: xmpp.NSDiscoItems,
	})
	iqs := host.IQs()
	if len(iqs) != 1 {
		t.Fatalf("got %d IQ responses, want 1", len(iqs))
	}
	items, ok := iqs[0].Payload.(xmpp.DiscoItems)
	if !ok {
		t.Fatalf("payload = %#v, want DiscoItems", iqs[0].Payload)
	}
	got := make(map[xmpp.JID]string, len(items.Items))
	for _, item := range items.Items {
		got[item.JID] = item.Name
	}
	wantNamed := ToJID(string(named), "matrix.x.org")
	wantUnnamed := ToJID(string(unnamed), "matrix.x.org")
	if got[wantNamed] != "Lobby" {
		t.Errorf("item %s = %q, want Lobby", wantNamed, got[wantNamed])
	}
	if got[wantUnnamed] != "Unnamed Room" {
		t.Errorf("item %s = %q, want Unnamed Room", wantUnnamed, got[wantUnnamed])
	}
}

func TestProcessPacketDiscoUser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		profile   string
		hasProf   bool
		wantName  string
		wantError string
	}{
		{"display_name", "Alice A.", true, "Alice A.", ""},
		{"empty_name_falls_back", "", true, "alice", ""},
		{"unknown_user", "", false, "", xmpp.ConditionItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, hs, host := newTestConnector(t, "x.org")
			if tt.hasProf {
				hs.Profiles[ghostAlice] = tt.profile
			}
			c.ProcessPacket(context.Background(), &xmpp.IQ{
				ID:        "info1",
				Type:      xmpp.IQGet,
				From:      jidBob,
				To:        jidAlice,
				Namespace: xmpp.NSDiscoInfo,
			})
			iqs := host.IQs()
			if len(iqs) != 1 {
				t.Fatalf("got %d IQ responses, want 1", len(iqs))
			}
			resp := iqs[0]
			if tt.wantError != "" {
				if resp.Error == nil || resp.Error.Condition != tt.wantError {
					t.Fatalf("error = %+v, want %s", resp.Error, tt.wantError)
				}
				return
			}
			info, ok := resp.Payload.(xmpp.DiscoInfo)
			if !ok || len(info.Identities) != 1 {
				t.Fatalf("payload = %#v", resp.Payload)
			}
			if info.Identities[0].Name != tt.wantName {
				t.Errorf("name = %q, want %q", info.Identities[0].Name, tt.wantName)
			}
			profiles := hs.CallsTo(http.MethodGet, "profile/")
			if len(profiles) != 1 || profiles[0].Path != "profile/@xmpp_alice:x.org" {
				t.Errorf("profile calls = %v", profiles)
			}
		})
	}
}

func TestProcessPacketVersion(t *testing.T) {
	t.Parallel()
	c, _, host := newTestConnector(t, "x.org")

	c.ProcessPacket(context.Background(), &xmpp.IQ{
		ID:        "v1",
		Type:      xmpp.IQGet,
		From:      jidAlice,
		To:        xmpp.JID{Domain: "matrix.x.org"},
		Namespace: xmpp.NSVersion,
	})
	iqs := host.IQs()
	if len(iqs) != 1 {
		t.Fatalf("got %d IQ responses, want 1", len(iqs))
	}
	v, ok := iqs[0].Payload.(xmpp.SoftwareVersion)
	if !ok {
		t.Fatalf("payload = %#v", iqs[0].Payload)
	}
	if v.Version != Version || v.Name == "" {
		t.Errorf("version = %+v", v)
	}
}

func TestHTTPHandler(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestConnector(t, "x.org")
	srv := httptest.NewServer(c.HTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("/metrics does not expose the default registry")
	}

	resp, err = http.Get(srv.URL + "/_matrix/app/v1/users/@xmpp_alice:x.org")
	if err != nil {
		t.Fatalf("GET user: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unauthenticated query status = %d, want 403", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	c, hs, _ := newTestConnector(t, "x.org")
	hs.Identities[testBot] = true
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok, cached := c.Caches.WhoAmI.Get(testBot); !cached || !ok {
		t.Errorf("bot identity cache = %v, %v; want true, true", ok, cached)
	}
	addr := c.Addr()
	if addr == nil {
		t.Fatal("Addr() = nil after Start")
	}

	req, _ := http.NewRequest(http.MethodPost, "http://"+addr.String()+"/_matrix/app/v1/ping", strings.NewReader(`{"transaction_id":"t1"}`))
	req.Header.Set("Authorization", "Bearer "+testHSToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ping status = %d, want 200", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := http.DefaultClient.Do(req.Clone(ctx)); err == nil {
		t.Error("server still answering after Stop")
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()
	c, _, _ := newTestConnector(t, "x.org")
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
