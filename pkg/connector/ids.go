// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/matrix-xmpp-bridge/pkg/xmpp"
)

// DefaultGhostPrefix is prepended to XMPP users to form their Matrix ghost.
const DefaultGhostPrefix = "@xmpp_"

// ToMatrixUserID maps an XMPP user to its Matrix ghost: prefix + local + ":" + domain.
func ToMatrixUserID(jid xmpp.JID, prefix string) id.UserID {
	return id.UserID(prefix + jid.Local + ":" + jid.Domain)
}

// ToJID maps a Matrix identifier onto the XMPP side. The part after the first
// ':' becomes the domain; without one, the whole string is the local part on
// bridgeDomain. A leading '#' or '!' is dropped from the local part, other
// sigils are kept.
func ToJID(matrixID, bridgeDomain string) xmpp.JID {
	local, domain, ok := strings.Cut(matrixID, ":")
	if !ok {
		domain = bridgeDomain
	}
	if strings.HasPrefix(local, "#") || strings.HasPrefix(local, "!") {
		local = local[1:]
	}
	return xmpp.JID{Local: local, Domain: domain}
}

// ParseGhostUserID reverses ToMatrixUserID for ghosts created with prefix.
// ok is false when userID does not carry the prefix.
func ParseGhostUserID(userID id.UserID, prefix, bridgeDomain string) (jid xmpp.JID, ok bool) {
	rest, ok := strings.CutPrefix(string(userID), prefix)
	if !ok {
		return xmpp.JID{}, false
	}
	return ToJID(rest, bridgeDomain), true
}

// MatrixUserJID is the address a Matrix user has on the bridge domain.
func MatrixUserJID(userID id.UserID, bridgeDomain string) xmpp.JID {
	localpart, _, err := userID.Parse()
	if err != nil {
		localpart = strings.TrimPrefix(string(userID), "@")
	}
	return ToJID(localpart, bridgeDomain)
}

// DirectAlias is the alias of the one-to-one room between sender and
// recipient. It lives on the recipient's domain.
func DirectAlias(sender, recipient xmpp.JID) id.RoomAlias {
	return id.RoomAlias("#" + sender.Local + "_bridge_" + recipient.Local + ":" + recipient.Domain)
}

// GroupAlias is the alias mirroring an XMPP group chat room.
func GroupAlias(room xmpp.JID) id.RoomAlias {
	return id.RoomAlias("#" + room.Local + ":" + room.Domain)
}

// aliasLocalpart strips the sigil and server name off an alias.
func aliasLocalpart(alias id.RoomAlias) string {
	local, _, _ := strings.Cut(strings.TrimPrefix(string(alias), "#"), ":")
	return local
}
