// Copyright 2024-2026 Aiku AI

package connector

import (
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

const testBridgeDomain = "matrix.x.org"

func TestToMatrixUserID(t *testing.T) {
	t.Parallel()
	got := ToMatrixUserID(xmpp.MustParseJID("alice@x.org/phone"), DefaultGhostPrefix)
	if got != "@xmpp_alice:x.org" {
		t.Errorf("ToMatrixUserID: got %q, want %q", got, "@xmpp_alice:x.org")
	}
}

func TestToJID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"alice:x.org", "alice@x.org"},
		{"#lobby:conference.x.org", "lobby@conference.x.org"},
		{"!abcdef:hs.org", "abcdef@hs.org"},
		{"carol", "carol@" + testBridgeDomain},
		{"#solo", "solo@" + testBridgeDomain},
		{"a:b:c", "a@b:c"},
		{"@bob:hs.org", "@bob@hs.org"},
		{"##double:x.org", "#double@x.org"},
	}
	for _, tt := range tests {
		if got := ToJID(tt.in, testBridgeDomain).String(); got != tt.want {
			t.Errorf("ToJID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	t.Parallel()
	jids := []string{"alice@x.org", "bob@example.com", "a.b-c_d@sub.domain.tld", "0@1"}
	for _, s := range jids {
		jid := xmpp.MustParseJID(s)
		userID := ToMatrixUserID(jid, DefaultGhostPrefix)
		got, ok := ParseGhostUserID(userID, DefaultGhostPrefix, testBridgeDomain)
		if !ok {
			t.Fatalf("ParseGhostUserID(%q) did not recognize ghost", userID)
		}
		if got != jid {
			t.Errorf("round trip %q -> %q -> %q", s, userID, got)
		}
	}
}

func TestParseGhostUserIDForeign(t *testing.T) {
	t.Parallel()
	if _, ok := ParseGhostUserID("@carol:hs.org", DefaultGhostPrefix, testBridgeDomain); ok {
		t.Error("non-ghost user should not parse as ghost")
	}
}

func TestMatrixUserJID(t *testing.T) {
	t.Parallel()
	got := MatrixUserJID("@carol:hs.org", testBridgeDomain)
	if got.String() != "carol@"+testBridgeDomain {
		t.Errorf("MatrixUserJID: got %q", got)
	}
}

func TestAliases(t *testing.T) {
	t.Parallel()
	alice := xmpp.MustParseJID("alice@x.org")
	bob := xmpp.MustParseJID("bob@y.org/laptop")
	if got := DirectAlias(alice, bob); got != "#alice_bridge_bob:y.org" {
		t.Errorf("DirectAlias: got %q", got)
	}
	if got := GroupAlias(xmpp.MustParseJID("lobby@conference.x.org")); got != "#lobby:conference.x.org" {
		t.Errorf("GroupAlias: got %q", got)
	}
	if got := aliasLocalpart(id.RoomAlias("#alice_bridge_bob:y.org")); got != "alice_bridge_bob" {
		t.Errorf("aliasLocalpart: got %q", got)
	}
}
