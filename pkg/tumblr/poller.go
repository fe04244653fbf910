// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UnreadPoller periodically reconciles server-side unread counts against the
// thread tracker, because the realtime channel only covers threads that have
// been opened. A pass failure is logged and swallowed; the next pass is
// always scheduled, so one bad poll never stops the loop.
type UnreadPoller struct {
	client *Client
	log    zerolog.Logger
	// sync runs one reconciliation pass. Replaceable in tests.
	sync func(ctx context.Context, focused ConversationID) error

	interval        time.Duration
	focusedInterval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	focused  ConversationID
	ctx      context.Context
	running  bool
	disposed bool
}

// NewUnreadPoller creates a poller bound to the client. It does not start
// until Start is called.
func NewUnreadPoller(client *Client, log zerolog.Logger) *UnreadPoller {
	p := &UnreadPoller{
		client:          client,
		log:             log.With().Str("component", "unread_poller").Logger(),
		interval:        DefaultPollInterval,
		focusedInterval: FocusedPollInterval,
	}
	p.sync = client.reconcileUnread
	return p
}

// Start schedules the first pass. Calling Start on a running or disposed
// poller is a no-op.
func (p *UnreadPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.disposed {
		return
	}
	p.running = true
	p.ctx = ctx
	p.scheduleLocked(p.intervalLocked())
}

// SetFocusedThread tightens the cadence while a thread is open in the UI.
// An empty id clears focus and restores the default interval.
func (p *UnreadPoller) SetFocusedThread(id ConversationID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.focused == id {
		return
	}
	p.focused = id
	if p.running && !p.disposed {
		p.scheduleLocked(p.intervalLocked())
	}
}

// Dispose stops the loop permanently.
func (p *UnreadPoller) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *UnreadPoller) intervalLocked() time.Duration {
	if p.focused != "" {
		return p.focusedInterval
	}
	return p.interval
}

// scheduleLocked arms the timer. Must be called with the lock held. The
// timer re-arms itself only after the pass completes, so passes never
// overlap.
func (p *UnreadPoller) scheduleLocked(after time.Duration) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(after, p.runPass)
}

func (p *UnreadPoller) runPass() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	ctx := p.ctx
	focused := p.focused
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		p.Dispose()
		return
	}
	if err := p.sync(ctx, focused); err != nil {
		p.log.Warn().Err(err).Msg("Unread reconciliation pass failed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	p.scheduleLocked(p.intervalLocked())
}

// reconcileUnread is one poller pass: fetch the first conversations page,
// fold it into the tracker, and emit deltas for anything the tracker did not
// already know. When the server reports more unread than the embedded page
// carried, a bounded messages fetch closes the gap.
func (c *Client) reconcileUnread(ctx context.Context, focused ConversationID) error {
	raw, err := c.request(ctx, http.MethodGet, c.baseURL+"/conversations", nil, "")
	if err != nil {
		return err
	}
	var body conversationsResponse
	if err = json.Unmarshal(raw, &body); err != nil {
		return fmt.Errorf("failed to parse conversations: %w", err)
	}

	user := c.User()
	for i := range body.Conversations {
		conv := &body.Conversations[i]
		own := c.ActiveBlog()
		if user != nil {
			if blog, ok := conv.OwnBlog(user); ok {
				own = blog
			}
		}

		unreadBefore := c.store.UnreadCount(conv.ID)
		lastReadBefore, _ := c.store.LastReadMessageID(conv.ID)
		added := trackConversation(c.store, conv, own.UUID)
		fresh := messagesByID(conv.Messages.Data, added)

		// The listing embeds only the newest few messages. If the server
		// still reports more unread than we track, pull the difference.
		if missing := conv.UnreadMessagesCount - c.store.UnreadCount(conv.ID); missing > 0 {
			more, err := c.fetchMissing(ctx, conv.ID, own.Name, missing+len(fresh))
			if err != nil {
				c.log.Warn().Err(err).
					Str("conversation_id", string(conv.ID)).
					Msg("Failed to fetch messages for unread reconciliation")
			} else {
				fresh = append(fresh, more...)
			}
		}

		if len(fresh) > 0 {
			c.events.emit(Event{
				Type:     EventStateSync,
				Object:   ObjectMessage,
				Mutation: MutationUpsert,
				ThreadID: conv.ID,
				Messages: fresh,
			})
		}
		// A pass can move the read boundary without changing the unread
		// count, e.g. when the server acknowledges reads of the active
		// blog's own messages. That still needs a thread update.
		lastReadAfter, _ := c.store.LastReadMessageID(conv.ID)
		if len(fresh) > 0 || c.store.UnreadCount(conv.ID) != unreadBefore || lastReadAfter != lastReadBefore {
			c.events.emit(Event{
				Type:     EventStateSync,
				Object:   ObjectThread,
				Mutation: MutationUpdate,
				ThreadID: conv.ID,
				Thread:   c.threadUpdate(conv.ID),
			})
		}
	}

	// The focused thread gets an explicit tail fetch every pass, so a
	// dropped realtime channel cannot hide new messages behind a stale
	// unread count.
	if focused != "" {
		if err := c.pollFocused(ctx, focused); err != nil {
			c.log.Warn().Err(err).
				Str("conversation_id", string(focused)).
				Msg("Failed to poll focused conversation")
		}
	}
	return nil
}

func (c *Client) pollFocused(ctx context.Context, id ConversationID) error {
	var after MessageID
	if ids := c.store.MessageIDs(id); len(ids) > 0 {
		after = ids[len(ids)-1]
	}
	known := make(map[MessageID]struct{})
	for _, msgID := range c.store.MessageIDs(id) {
		known[msgID] = struct{}{}
	}
	page, err := c.GetMessages(ctx, id, c.ActiveBlog().Name, MessagesPagination{After: after})
	if err != nil {
		return err
	}
	var fresh []Message
	for _, msg := range page.Messages.Data {
		if _, ok := known[msg.TS]; !ok {
			fresh = append(fresh, msg)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	c.events.emit(Event{
		Type:     EventStateSync,
		Object:   ObjectMessage,
		Mutation: MutationUpsert,
		ThreadID: id,
		Messages: fresh,
	}, Event{
		Type:     EventStateSync,
		Object:   ObjectThread,
		Mutation: MutationUpdate,
		ThreadID: id,
		Thread:   c.threadUpdate(id),
	})
	return nil
}

// fetchMissing pulls one bounded messages page and returns the entries the
// tracker had not seen before the pass.
func (c *Client) fetchMissing(ctx context.Context, id ConversationID, blogName string, limit int) ([]Message, error) {
	known := make(map[MessageID]struct{})
	for _, msgID := range c.store.MessageIDs(id) {
		known[msgID] = struct{}{}
	}
	page, err := c.GetMessages(ctx, id, blogName, MessagesPagination{Limit: limit})
	if err != nil {
		return nil, err
	}
	var fresh []Message
	for _, msg := range page.Messages.Data {
		if _, ok := known[msg.TS]; !ok {
			fresh = append(fresh, msg)
		}
	}
	return fresh, nil
}

// messagesByID filters the page down to the entries whose ids were newly
// added to the tracker.
func messagesByID(messages []Message, added []TrackedMessage) []Message {
	if len(added) == 0 {
		return nil
	}
	ids := make(map[MessageID]struct{}, len(added))
	for _, m := range added {
		ids[m.ID] = struct{}{}
	}
	var out []Message
	for _, msg := range messages {
		if _, ok := ids[msg.TS]; ok {
			out = append(out, msg)
		}
	}
	return out
}
