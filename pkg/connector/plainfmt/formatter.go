// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package plainfmt reduces Matrix message content to the plain text body
// sent to XMPP.
package plainfmt

import (
	"context"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
)

func keepText(text string, _ format.Context) string {
	return text
}

// textParser drops inline markup instead of turning it into markdown.
var textParser = &format.HTMLParser{
	TabsToSpaces:           4,
	Newline:                "\n",
	HorizontalLine:         "\n---\n",
	PillConverter:          format.DefaultPillConverter,
	BoldConverter:          keepText,
	ItalicConverter:        keepText,
	StrikethroughConverter: keepText,
	MonospaceConverter:     keepText,
	MonospaceBlockConverter: func(code, _ string, _ format.Context) string {
		return strings.TrimRight(code, "\n")
	},
}

// Parse returns the plain text of a Matrix message. Emotes are prefixed with
// "/me ". Non-text message types fall back to their body.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	text := content.Body
	if content.Format == event.FormatHTML && content.FormattedBody != "" {
		html := event.TrimReplyFallbackHTML(content.FormattedBody)
		text = textParser.Parse(html, format.NewContext(context.Background()))
	}
	if content.MsgType == event.MsgEmote {
		return "/me " + text
	}
	return text
}
