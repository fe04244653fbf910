// Copyright 2024-2026 Aiku AI

// Package tumblr implements the Tumblr messaging API: OAuth token upkeep,
// conversation and message REST calls, the realtime push channel, and unread
// reconciliation.
//
// # Core Types
//
// [Client] is the per-login entry point. It owns a [CredentialStore] for the
// OAuth token pair, a [ThreadStore] tracking known message ids and read
// boundaries, at most one [ConversationChannel] for realtime pushes, and an
// [UnreadPoller] that reconciles server-side unread counts on a timer. None
// of this state is shared between clients; two logins never interfere.
//
// Changes flow to the owner through [Event] values delivered to the handler
// set with [Client.SetEventHandler]. Events emitted before a handler is
// attached are buffered and flushed in order on attach.
//
// # Message Ids
//
// Tumblr message ids are millisecond timestamps encoded as decimal strings.
// [MessageID] compares them numerically. Conversation read boundaries arrive
// in seconds; the tracker multiplies by 1000 before comparing against ids.
package tumblr
