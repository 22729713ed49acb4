// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector bridges an XMPP server to a Matrix homeserver through the
// application service API.
//
// # Core Types
//
// [Connector] owns the configuration, the homeserver client and the caches.
// It implements [xmpp.Handler] for packets routed to the bridge domain and
// the appservice event and query hooks for the homeserver side.
//
// [RoomManager] converges rooms and memberships: it resolves or creates the
// room behind an alias, joins ghosts and invites recipients. Every step checks
// the caches first, and concurrent creations of the same alias collapse into
// one homeserver call.
//
// [Relay] turns an XMPP chat message into a Matrix message in the direct room
// between the two ghosts.
//
// [Synchronizer] mirrors XMPP group room lifecycle into the Matrix public room
// directory.
//
// # Identity Mapping
//
// An XMPP user local@domain is represented on Matrix by the ghost
// <ghost_prefix>local:domain. Matrix identifiers map back onto the bridge
// domain (<component_name>.<xmpp domain>) when they carry no server part.
//
// # Echo Prevention
//
// Matrix events sent by the bridge bot or by any ghost are never delivered
// back to XMPP.
//
// # Sub-packages
//
//   - plainfmt converts Matrix message content to plain text for XMPP.
package connector
