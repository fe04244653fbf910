// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// channelEnvelope is the control message frame used in both directions.
type channelEnvelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

// InboundMessage is a new-message push delivered by the channel, already
// resolved to its conversation.
type InboundMessage struct {
	ConversationID ConversationID
	BlogName       string
	Message        Message
}

var conversationChannelRe = regexp.MustCompile(`private-messaging-(?P<conversationId>[0-9]+)-(?P<blogName>[0-9a-zA-Z.-]+)\.tumblr\.com`)

// parseConversationChannel extracts the conversation id and blog name back
// out of a composed channel name.
func parseConversationChannel(channel string) (ConversationID, string, bool) {
	match := conversationChannelRe.FindStringSubmatch(channel)
	if match == nil {
		return "", "", false
	}
	return ConversationID(match[1]), match[2], true
}

// conversationChannelName composes the per-thread channel name.
func conversationChannelName(id ConversationID, blogName string) string {
	return fmt.Sprintf("private-messaging-%s-%s.tumblr.com", id, blogName)
}

// ConversationChannel is one physical websocket connection multiplexing
// per-thread subscriptions. It answers keepalive pings at the cadence the
// server announces, delivers new-message pushes on Messages(), and never
// reconnects itself: on close or error the inbound channel is closed and the
// owner establishes a fresh connection on next demand.
type ConversationChannel struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu              sync.Mutex
	subscribed      map[string]struct{}
	activityTimeout time.Duration
	pingTimer       *time.Timer
	closed          bool

	incoming chan InboundMessage
	done     chan struct{}
}

// DialConversationChannel connects to the telegraph socket with the token
// from a messages response and starts the read loop.
func DialConversationChannel(token string, log zerolog.Logger) (*ConversationChannel, error) {
	return dialConversationChannel(fmt.Sprintf(ChannelURLFormat, token), log)
}

func dialConversationChannel(url string, log zerolog.Logger) (*ConversationChannel, error) {
	header := http.Header{}
	for key, value := range requestHeaders {
		if key != "Content-Type" {
			header.Set(key, value)
		}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial conversation channel: %w", err)
	}
	ch := &ConversationChannel{
		conn:            conn,
		log:             log.With().Str("component", "conversation_channel").Logger(),
		subscribed:      make(map[string]struct{}),
		activityTimeout: defaultActivityTimeout,
		incoming:        make(chan InboundMessage, 16),
		done:            make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

// Messages returns the inbound push stream. It is closed when the
// connection drops, which is the owner's signal to dispose and reconnect on
// next demand.
func (ch *ConversationChannel) Messages() <-chan InboundMessage {
	return ch.incoming
}

// Subscribe attaches the channel to a thread's push feed. Subscribing to an
// already-requested thread is a no-op and sends nothing.
func (ch *ConversationChannel) Subscribe(id ConversationID, blogName string) error {
	name := conversationChannelName(id, blogName)
	ch.mu.Lock()
	if _, ok := ch.subscribed[name]; ok {
		ch.mu.Unlock()
		return nil
	}
	ch.subscribed[name] = struct{}{}
	ch.mu.Unlock()

	data, err := json.Marshal(map[string]any{"auth": "", "channel": name})
	if err != nil {
		return err
	}
	return ch.send(channelEnvelope{Event: eventSubscribe, Data: data})
}

func (ch *ConversationChannel) send(env channelEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	return ch.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close tears down the connection and stops the keepalive timer. Safe to
// call more than once.
func (ch *ConversationChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	if ch.pingTimer != nil {
		ch.pingTimer.Stop()
	}
	close(ch.done)
	ch.mu.Unlock()
	_ = ch.conn.Close()
}

func (ch *ConversationChannel) readLoop() {
	defer close(ch.incoming)
	for {
		_, payload, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
			default:
				ch.log.Debug().Err(err).Msg("Conversation channel read failed")
			}
			return
		}
		ch.handleFrame(payload)
	}
}

// handleFrame dispatches one control message. Malformed payloads are logged
// and dropped; they must never take down the loop.
func (ch *ConversationChannel) handleFrame(payload []byte) {
	var env channelEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		ch.log.Warn().Err(err).Msg("Failed to parse channel frame")
		return
	}

	switch env.Event {
	case eventConnectionEstablished:
		ch.handleConnectionEstablished(env.Data)
	case eventSubscriptionSucceeded:
		ch.log.Debug().Str("channel", env.Channel).Msg("Subscription confirmed")
	case eventNewMessage:
		ch.handleNewMessage(env)
	default:
		ch.log.Trace().Str("event", env.Event).Msg("Unhandled channel event")
	}
}

func (ch *ConversationChannel) handleConnectionEstablished(data json.RawMessage) {
	// activity_timeout arrives in seconds, sometimes as a string.
	var established struct {
		ActivityTimeout json.Number `json:"activity_timeout"`
	}
	if err := json.Unmarshal(data, &established); err == nil {
		if secs, err := strconv.ParseInt(established.ActivityTimeout.String(), 10, 64); err == nil && secs > 0 {
			ch.mu.Lock()
			ch.activityTimeout = time.Duration(secs) * time.Second
			ch.mu.Unlock()
		}
	}
	ch.schedulePing()
}

// schedulePing arms the keepalive timer. The timer re-arms itself only
// after the previous ping has been sent, so a slow tick can never cause
// overlapping pings.
func (ch *ConversationChannel) schedulePing() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return
	}
	if ch.pingTimer != nil {
		ch.pingTimer.Stop()
	}
	ch.pingTimer = time.AfterFunc(ch.activityTimeout, func() {
		if err := ch.send(channelEnvelope{Event: eventPing, Data: json.RawMessage(`{}`)}); err != nil {
			ch.log.Debug().Err(err).Msg("Keepalive ping failed")
			return
		}
		ch.schedulePing()
	})
}

func (ch *ConversationChannel) handleNewMessage(env channelEnvelope) {
	conversationID, blogName, ok := parseConversationChannel(env.Channel)
	if !ok {
		ch.log.Warn().Str("channel", env.Channel).Msg("Could not parse conversation channel name")
		return
	}

	// The message payload is double-encoded: Data is a JSON string
	// containing the message object.
	var raw string
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		raw = string(env.Data)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		ch.log.Warn().Err(err).Str("conversation_id", string(conversationID)).Msg("Failed to parse pushed message")
		return
	}

	select {
	case ch.incoming <- InboundMessage{ConversationID: conversationID, BlogName: blogName, Message: msg}:
	case <-ch.done:
	}
}
