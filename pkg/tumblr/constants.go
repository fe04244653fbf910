// Copyright 2024-2026 Aiku AI

package tumblr

import "time"

const (
	// BaseURL is the Tumblr API v2 root.
	BaseURL = "https://api.tumblr.com/v2"

	// TokenRefreshURL exchanges a refresh token for a new access token.
	TokenRefreshURL = "https://www.tumblr.com/api/v2/oauth2/token"

	// ChannelURLFormat is the telegraph websocket endpoint. The token comes
	// from a conversation messages response.
	ChannelURLFormat = "wss://telegraph.srvcs.tumblr.com/socket?token=%s"
)

// accessTokenMinTTL is subtracted from the server-reported token lifetime so
// a token is never used within its final seconds and expires mid-request.
const accessTokenMinTTL = 10 * time.Second

// Control message events on the conversation channel. The telegraph service
// speaks a pusher-style protocol.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventSubscribe             = "pusher:subscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventPing                  = "pusher:ping"
	eventNewMessage            = "message:new"
)

const (
	// defaultActivityTimeout is the keepalive cadence used until the server
	// reports its own activity_timeout in the connection_established message.
	defaultActivityTimeout = 30 * time.Second

	// DefaultPollInterval is the unread reconciliation cadence.
	DefaultPollInterval = 10 * time.Second
	// FocusedPollInterval is used while a thread is selected in the client.
	FocusedPollInterval = 5 * time.Second
)

const (
	// DefaultMaxTrackedThreads bounds the thread state table.
	DefaultMaxTrackedThreads = 512
	// DefaultMaxTrackedMessages bounds the per-thread id set.
	DefaultMaxTrackedMessages = 2000
)

// requestHeaders are included in every API request. The camelcase format
// parameter makes the server return camelCase JSON keys.
var requestHeaders = map[string]string{
	"Accept":       "application/json;format=camelcase",
	"Content-Type": "application/json",
	"User-Agent":   "mautrix-tumblr",
}
