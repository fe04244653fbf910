// Copyright 2024-2026 Aiku AI

// Package connector implements a Matrix-Tumblr messaging bridge using the
// mautrix bridgev2 framework.
//
// Tumblr has no push delivery for most account activity, so the bridge
// combines two inbound paths: a realtime websocket channel that delivers new
// messages for subscribed conversations, and an unread poller that
// reconciles counters for everything else. Both paths funnel through the
// library client in pkg/tumblr, which deduplicates against its thread state
// tracker before anything reaches this package.
//
// # Core Types
//
// [TumblrConnector] implements [bridgev2.NetworkConnector] and manages the
// bridge lifecycle and configuration.
//
// [TumblrClient] represents one authenticated Tumblr account. It translates
// library events into bridgev2 remote events, converts messages in both
// directions, and serves chat/user info from the blogs seen in
// conversations. Messages are always sent under the account's primary blog.
//
// # Identifiers
//
// Conversation ids map directly to portal ids. Blog UUIDs map to ghost user
// ids. Tumblr message ids are millisecond timestamps that are only unique
// within one conversation, so message ids take the form
// "<conversation>:<timestamp>".
//
// # Sub-packages
//
//   - tumblrfmt converts Tumblr's range-based text formatting to Matrix
//     HTML and flattens Matrix content to the plain text Tumblr accepts.
package connector
