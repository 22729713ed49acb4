// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package xmpp

import (
	"errors"
	"strings"
)

// JID is an XMPP address: local@domain/resource.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

var ErrInvalidJID = errors.New("invalid JID")

// ParseJID splits an address into its parts. Only an empty domain is rejected;
// any further validation is left to the host server.
func ParseJID(s string) (JID, error) {
	var j JID
	rest := s
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		j.Resource = rest[idx+1:]
		rest = rest[:idx]
	}
	if idx := strings.IndexByte(rest, '@'); idx >= 0 {
		j.Local = rest[:idx]
		rest = rest[idx+1:]
	}
	j.Domain = rest
	if j.Domain == "" {
		return JID{}, ErrInvalidJID
	}
	return j, nil
}

// MustParseJID is ParseJID for constants and tests.
func MustParseJID(s string) JID {
	j, err := ParseJID(s)
	if err != nil {
		panic(err)
	}
	return j
}

// Bare drops the resource.
func (j JID) Bare() JID {
	return JID{Local: j.Local, Domain: j.Domain}
}

// IsZero reports whether the JID is unset.
func (j JID) IsZero() bool {
	return j == JID{}
}

func (j JID) String() string {
	var sb strings.Builder
	if j.Local != "" {
		sb.WriteString(j.Local)
		sb.WriteByte('@')
	}
	sb.WriteString(j.Domain)
	if j.Resource != "" {
		sb.WriteByte('/')
		sb.WriteString(j.Resource)
	}
	return sb.String()
}
