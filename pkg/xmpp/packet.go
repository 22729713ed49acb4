// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package xmpp

// Packet is one of *Message, *Presence or *IQ, already decoded by the host
// server.
type Packet interface {
	packet()
}

type MessageType string

const (
	MessageNormal    MessageType = "normal"
	MessageChat      MessageType = "chat"
	MessageGroupChat MessageType = "groupchat"
	MessageHeadline  MessageType = "headline"
	MessageError     MessageType = "error"
)

// Message is a message stanza addressed to the bridge component.
type Message struct {
	ID   string
	Type MessageType
	From JID
	To   JID
	Body string
}

type PresenceType string

const (
	PresenceAvailable   PresenceType = ""
	PresenceUnavailable PresenceType = "unavailable"
)

// Presence is a presence stanza. MUC is set when it carries the
// http://jabber.org/protocol/muc extension, Destroy when that extension
// announces the room's destruction.
type Presence struct {
	From    JID
	To      JID
	Type    PresenceType
	MUC     bool
	Destroy bool
}

type IQType string

const (
	IQGet    IQType = "get"
	IQSet    IQType = "set"
	IQResult IQType = "result"
	IQError  IQType = "error"
)

// IQ is an info/query stanza. Namespace is the namespace of the child query
// element, empty when there is none. Destroy is set when a muc#owner query
// contains a destroy element.
type IQ struct {
	ID        string
	Type      IQType
	From      JID
	To        JID
	Namespace string
	Destroy   bool
}

func (*Message) packet()  {}
func (*Presence) packet() {}
func (*IQ) packet()       {}

// Namespaces the component understands.
const (
	NSDiscoInfo  = "http://jabber.org/protocol/disco#info"
	NSDiscoItems = "http://jabber.org/protocol/disco#items"
	NSVersion    = "jabber:iq:version"
	NSMUC        = "http://jabber.org/protocol/muc"
	NSMUCOwner   = "http://jabber.org/protocol/muc#owner"
)

// QueryKind is the closed set of IQ queries the component handles.
type QueryKind int

const (
	QueryUnrecognized QueryKind = iota
	QueryDiscoInfo
	QueryDiscoItems
	QueryVersion
	QueryMUCOwner
)

// KindOf maps a query namespace onto its QueryKind.
func KindOf(namespace string) QueryKind {
	switch namespace {
	case NSDiscoInfo:
		return QueryDiscoInfo
	case NSDiscoItems:
		return QueryDiscoItems
	case NSVersion:
		return QueryVersion
	case NSMUCOwner:
		return QueryMUCOwner
	default:
		return QueryUnrecognized
	}
}

func (k QueryKind) String() string {
	switch k {
	case QueryDiscoInfo:
		return "disco#info"
	case QueryDiscoItems:
		return "disco#items"
	case QueryVersion:
		return "version"
	case QueryMUCOwner:
		return "muc#owner"
	default:
		return "unrecognized"
	}
}

type Identity struct {
	Category string
	Type     string
	Name     string
}

type DiscoInfo struct {
	Identities []Identity
	Features   []string
}

type DiscoItem struct {
	JID  JID
	Name string
}

type DiscoItems struct {
	Items []DiscoItem
}

type SoftwareVersion struct {
	Name    string
	Version string
	OS      string
}

// StanzaError is an IQ error. A zero Code means no legacy code attribute.
type StanzaError struct {
	Code      int
	Condition string
}

// Stanza error conditions used by the component.
const (
	ConditionBadRequest            = "bad-request"
	ConditionItemNotFound          = "item-not-found"
	ConditionFeatureNotImplemented = "feature-not-implemented"
	ConditionInternalServerError   = "internal-server-error"
)

// IQResponse is handed to the host for serialization. Exactly one of Payload
// and Error is set; Payload is a DiscoInfo, DiscoItems or SoftwareVersion.
type IQResponse struct {
	ID        string
	From      JID
	To        JID
	Namespace string
	Payload   any
	Error     *StanzaError
}
