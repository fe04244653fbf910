// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-tumblr/pkg/connector/tumblrfmt"
	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// tumblrfmtToMatrix converts Tumblr text content to Matrix HTML message content.
func tumblrfmtToMatrix(content *tumblr.TextContent) *tumblrfmt.ParsedMessage {
	return tumblrfmt.ToMatrix(content)
}

// matrixfmtParse converts Matrix message content to the plain text Tumblr accepts.
func matrixfmtParse(content *event.MessageEventContent) string {
	return tumblrfmt.Parse(content)
}
