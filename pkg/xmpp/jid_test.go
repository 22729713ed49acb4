// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package xmpp

import "testing"

func TestParseJID(t *testing.T) {
	tests := []struct {
		in      string
		want    JID
		wantErr bool
	}{
		{"alice@x.org", JID{Local: "alice", Domain: "x.org"}, false},
		{"alice@x.org/phone", JID{Local: "alice", Domain: "x.org", Resource: "phone"}, false},
		{"x.org", JID{Domain: "x.org"}, false},
		{"lobby@conference.x.org/nick/with/slash", JID{Local: "lobby", Domain: "conference.x.org", Resource: "nick/with/slash"}, false},
		{"alice@", JID{}, true},
		{"", JID{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseJID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if !tt.wantErr && got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestBare(t *testing.T) {
	j := MustParseJID("alice@x.org/phone")
	if got := j.Bare().String(); got != "alice@x.org" {
		t.Errorf("Bare() = %q", got)
	}
	if (JID{}).IsZero() != true || j.IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]QueryKind{
		NSDiscoInfo:           QueryDiscoInfo,
		NSDiscoItems:          QueryDiscoItems,
		NSVersion:             QueryVersion,
		NSMUCOwner:            QueryMUCOwner,
		"jabber:iq:last":      QueryUnrecognized,
		"":                    QueryUnrecognized,
		NSDiscoInfo + "#more": QueryUnrecognized,
	}
	for ns, want := range tests {
		if got := KindOf(ns); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", ns, got, want)
		}
	}
}
