// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrRequestFailed wraps any non-2xx API response.
var ErrRequestFailed = errors.New("tumblr: request failed")

// connState tracks the realtime channel lifecycle.
type connState int

const (
	channelDisconnected connState = iota
	channelConnecting
	channelConnected
)

// Client is the Tumblr messaging client: REST operations, the thread state
// tracker, the realtime channel, and the unread poller, all behind one
// instance so separate logins never share state.
type Client struct {
	http  *http.Client
	creds *CredentialStore
	store *ThreadStore
	log   zerolog.Logger

	// baseURL and refreshURL are settable for tests.
	baseURL    string
	refreshURL string

	events eventQueue

	userMu     sync.RWMutex
	user       *UserInfo
	activeBlog Blog

	channelMu    sync.Mutex
	channel      *ConversationChannel
	channelState connState
	dialChannel  func(token string, log zerolog.Logger) (*ConversationChannel, error)

	poller *UnreadPoller
}

// NewClient creates a client. The poller is created but not started; call
// StartPolling once credentials are in place.
func NewClient(log zerolog.Logger) *Client {
	c := &Client{
		http:        &http.Client{},
		store:       NewThreadStore(),
		log:         log.With().Str("component", "tumblr_client").Logger(),
		baseURL:     BaseURL,
		refreshURL:  TokenRefreshURL,
		dialChannel: DialConversationChannel,
	}
	c.creds = NewCredentialStore(c.refreshToken, func(Credentials) {
		c.events.emit(Event{Type: EventSessionUpdated})
	})
	c.poller = NewUnreadPoller(c, c.log)
	return c
}

// Credentials exposes the credential store for session persistence.
func (c *Client) Credentials() *CredentialStore { return c.creds }

// SetBaseURLs overrides the API and token refresh endpoints. Intended for
// tests that run against a local fake server.
func (c *Client) SetBaseURLs(apiURL, refreshURL string) {
	c.baseURL = apiURL
	c.refreshURL = refreshURL
}

// Store exposes the thread state tracker.
func (c *Client) Store() *ThreadStore { return c.store }

// SetEventHandler attaches the host event sink. Events emitted before this
// call are flushed to the handler in emission order.
func (c *Client) SetEventHandler(handler EventHandler) {
	c.events.setHandler(handler)
}

// ActiveBlog returns the identity messages are sent under.
func (c *Client) ActiveBlog() Blog {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	return c.activeBlog
}

// User returns the cached user info from the last GetCurrentUser call.
func (c *Client) User() *UserInfo {
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	return c.user
}

// refreshToken exchanges the refresh token for a new access token. Called
// only through the credential store's single-flight group.
func (c *Client) refreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, value := range requestHeaders {
		req.Header.Set(key, value)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: token refresh returned HTTP %d", ErrRequestFailed, resp.StatusCode)
	}
	var tok TokenResponse
	if err = json.Unmarshal(payload, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &tok, nil
}

// request performs one authenticated API call. The token is refreshed
// proactively before the call, never reactively after a 401.
func (c *Client) request(ctx context.Context, method, requestURL string, body []byte, contentType string) (json.RawMessage, error) {
	token, err := c.creds.EnsureFresh(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range requestHeaders {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Error bodies are not always the API envelope (proxies return
		// HTML), so a parse failure just means no detail.
		var envelope responseEnvelope
		detail := ""
		if json.Unmarshal(payload, &envelope) == nil {
			detail = envelope.Meta.Msg
			if len(envelope.Errors) > 0 {
				detail = envelope.Errors[0].Detail
				if detail == "" {
					detail = envelope.Errors[0].Title
				}
			}
		}
		return nil, fmt.Errorf("%w: HTTP %d from %s %s: %s", ErrRequestFailed, resp.StatusCode, method, requestURL, detail)
	}
	var envelope responseEnvelope
	if err = json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response from %s: %w", requestURL, err)
	}
	return envelope.Response, nil
}

// GetCurrentUser fetches the account's blogs and caches the primary blog as
// the active identity.
func (c *Client) GetCurrentUser(ctx context.Context) (*UserInfo, error) {
	raw, err := c.request(ctx, http.MethodGet, c.baseURL+"/user/info", nil, "")
	if err != nil {
		return nil, err
	}
	var body struct {
		User UserInfo `json:"user"`
	}
	if err = json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse user info: %w", err)
	}
	primary, ok := body.User.PrimaryBlog()
	if !ok {
		return nil, fmt.Errorf("unable to detect the user's primary blog")
	}
	c.userMu.Lock()
	c.user = &body.User
	c.activeBlog = primary
	c.userMu.Unlock()
	return &body.User, nil
}

// stripAPIVersion removes the /v2 prefix pagination links carry, because the
// base URL already includes it.
func stripAPIVersion(path string) string {
	return strings.TrimPrefix(path, "/v2")
}

// GetConversations lists conversations for the active blog. cursor is the
// link returned by a previous page, empty for the first page. The tracker is
// seeded for every returned conversation before the call returns, so unread
// math has a correct baseline immediately.
func (c *Client) GetConversations(ctx context.Context, cursor string) ([]Conversation, string, error) {
	requestURL := c.baseURL + "/conversations"
	if cursor != "" {
		requestURL = c.baseURL + stripAPIVersion(cursor)
	}
	raw, err := c.request(ctx, http.MethodGet, requestURL, nil, "")
	if err != nil {
		return nil, "", err
	}
	var body conversationsResponse
	if err = json.Unmarshal(raw, &body); err != nil {
		return nil, "", fmt.Errorf("failed to parse conversations: %w", err)
	}

	user := c.User()
	for i := range body.Conversations {
		conv := &body.Conversations[i]
		ownUUID := c.ActiveBlog().UUID
		if user != nil {
			if own, ok := conv.OwnBlog(user); ok {
				ownUUID = own.UUID
			}
		}
		trackConversation(c.store, conv, ownUUID)
	}

	next := ""
	if body.Links != nil {
		if body.Links.Next != nil {
			next = body.Links.Next.Href
		} else if body.Links.Prev != nil {
			next = body.Links.Prev.Href
		}
	}
	return body.Conversations, next, nil
}

// MessagesPagination selects a message page. Before/After are exclusive
// cursors; Limit bounds the page size (0 = server default).
type MessagesPagination struct {
	Before MessageID
	After  MessageID
	Limit  int
}

// GetMessages fetches one page of a conversation, lazily attaches the
// realtime channel using the token embedded in the response, updates the
// tracker, and returns messages sorted oldest to newest.
func (c *Client) GetMessages(ctx context.Context, conversationID ConversationID, blogName string, pagination MessagesPagination) (*ConversationResponse, error) {
	query := url.Values{}
	query.Set("participant", blogName+".tumblr.com")
	query.Set("conversation_id", string(conversationID))
	if pagination.Before != "" {
		query.Set("before", string(pagination.Before))
	}
	if pagination.After != "" {
		query.Set("after", string(pagination.After))
	}
	if pagination.Limit > 0 {
		query.Set("limit", strconv.Itoa(pagination.Limit))
	}

	raw, err := c.request(ctx, http.MethodGet, c.baseURL+"/conversations/messages?"+query.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var body ConversationResponse
	if err = json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse messages: %w", err)
	}

	sort.Slice(body.Messages.Data, func(i, j int) bool {
		return body.Messages.Data[i].TS.Less(body.Messages.Data[j].TS)
	})

	if body.Token != "" {
		c.openChannel(body.Token)
		c.subscribeThread(conversationID, blogName)
	}
	trackConversation(c.store, &body.Conversation, c.ActiveBlog().UUID)

	return &body, nil
}

// SendMessage sends one outgoing message into an existing conversation and
// folds the response page into the tracker.
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) (*ConversationResponse, error) {
	body, contentType, err := encodeOutgoing(msg, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.request(ctx, http.MethodPost, c.baseURL+"/conversations/messages", body, contentType)
	if err != nil {
		return nil, err
	}
	var resp ConversationResponse
	if err = json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse send response: %w", err)
	}
	trackConversation(c.store, &resp.Conversation, c.ActiveBlog().UUID)
	return &resp, nil
}

// CreateConversation starts a new conversation with the given participant
// blog UUIDs, seeded with one message, and announces the new thread to the
// host.
func (c *Client) CreateConversation(ctx context.Context, participants []string, msg OutgoingMessage) (*ConversationResponse, error) {
	body, contentType, err := encodeOutgoing(msg, participants)
	if err != nil {
		return nil, err
	}
	raw, err := c.request(ctx, http.MethodPost, c.baseURL+"/conversations", body, contentType)
	if err != nil {
		return nil, err
	}
	var resp ConversationResponse
	if err = json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}
	trackConversation(c.store, &resp.Conversation, c.ActiveBlog().UUID)
	c.events.emit(Event{
		Type:     EventStateSync,
		Object:   ObjectThread,
		Mutation: MutationUpsert,
		ThreadID: resp.ID,
		Thread:   c.threadUpdate(resp.ID),
	})
	return &resp, nil
}

// DeleteConversation removes a conversation for the active blog and emits a
// thread delete event so the host drops it without a refetch.
func (c *Client) DeleteConversation(ctx context.Context, id ConversationID) error {
	query := url.Values{}
	query.Set("conversation_id", string(id))
	query.Set("participant", c.ActiveBlog().UUID)
	_, err := c.request(ctx, http.MethodDelete, c.baseURL+"/conversations?"+query.Encode(), nil, "")
	if err != nil {
		return err
	}
	c.store.Forget(id)
	c.events.emit(Event{
		Type:     EventStateSync,
		Object:   ObjectThread,
		Mutation: MutationDelete,
		ThreadID: id,
	})
	return nil
}

// FlagConversation reports a conversation as spam.
func (c *Client) FlagConversation(ctx context.Context, id ConversationID) error {
	payload, err := json.Marshal(map[string]string{
		"conversation_id": string(id),
		"participant":     c.ActiveBlog().UUID,
		"type":            "spam",
	})
	if err != nil {
		return err
	}
	_, err = c.request(ctx, http.MethodPost, c.baseURL+"/conversations/flag", payload, "application/json")
	return err
}

// ReportConversation flags a conversation as spam and then deletes it.
// Nothing is deleted if flagging fails.
func (c *Client) ReportConversation(ctx context.Context, id ConversationID) error {
	if err := c.FlagConversation(ctx, id); err != nil {
		return err
	}
	return c.DeleteConversation(ctx, id)
}

// MarkRead moves the server-side read boundary for the conversation to the
// given time in seconds and mirrors it in the tracker.
func (c *Client) MarkRead(ctx context.Context, id ConversationID, seconds int64) error {
	payload, err := json.Marshal(map[string]any{
		"conversation_id": string(id),
		"participant":     c.ActiveBlog().UUID,
		"ts":              seconds,
	})
	if err != nil {
		return err
	}
	if _, err = c.request(ctx, http.MethodPost, c.baseURL+"/conversations/mark_as_read", payload, "application/json"); err != nil {
		return err
	}
	c.store.UpdateLastRead(id, seconds)
	return nil
}

// GetBlogInfo fetches public info for a blog by name.
func (c *Client) GetBlogInfo(ctx context.Context, blogName string) (*Blog, error) {
	raw, err := c.request(ctx, http.MethodGet, c.baseURL+"/blog/"+blogName+".tumblr.com/info", nil, "")
	if err != nil {
		return nil, err
	}
	var body BlogInfo
	if err = json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to parse blog info: %w", err)
	}
	return &body.Blog, nil
}

// GetURLInfo describes a Tumblr URL for link previews.
func (c *Client) GetURLInfo(ctx context.Context, target string) (*URLInfo, error) {
	query := url.Values{}
	query.Set("url", target)
	raw, err := c.request(ctx, http.MethodGet, c.baseURL+"/url_info?"+query.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	var info URLInfo
	if err = json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse url info: %w", err)
	}
	return &info, nil
}

// Matches the blog name and post id out of the various post URL shapes:
// blog-as-subdomain, blog-as-path, with or without www and trailing slugs.
var postURLRe = regexp.MustCompile(`(?:http|https)?://(?:www\.)?(?:(?P<blogNameAsSubdomain>[0-9a-zA-Z_-]+)\.)?tumblr\.com/(?:(?P<blogNameAsPath>[0-9a-zA-Z_-]+)/)?(?P<postId>\d+).*`)

// ParsePostURL extracts the blog name and post id from a Tumblr post URL.
func ParsePostURL(link string) (blogName, postID string, ok bool) {
	match := postURLRe.FindStringSubmatch(link)
	if match == nil {
		return "", "", false
	}
	blogName = match[1]
	if blogName == "" {
		blogName = match[2]
	}
	postID = match[3]
	return blogName, postID, blogName != "" && postID != ""
}

// ResolvePostRef turns a Tumblr post link into a sendable post reference.
// It needs two dependent lookups (URL metadata, then the target blog's
// identity); if either fails, nothing has been posted and the error is
// returned as-is.
func (c *Client) ResolvePostRef(ctx context.Context, conversationID ConversationID, link string) (*PostRefMessage, error) {
	blogName, postID, ok := ParsePostURL(link)
	if !ok {
		return nil, fmt.Errorf("not a tumblr post url: %s", link)
	}
	urlInfo, err := c.GetURLInfo(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve url info: %w", err)
	}
	blog, err := c.GetBlogInfo(ctx, blogName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blog info: %w", err)
	}

	previewContext := "post-chrome"
	if len(urlInfo.Poster) > 0 && urlInfo.Poster[0].Type == "image/gif" {
		previewContext = "messaging-gif"
	}
	return &PostRefMessage{
		ConversationID: conversationID,
		Participant:    c.ActiveBlog().UUID,
		PostID:         postID,
		BlogUUID:       blog.UUID,
		Context:        previewContext,
	}, nil
}

// openChannel establishes the realtime channel if there is none. A failure
// leaves the state disconnected so the next operation retries.
func (c *Client) openChannel(token string) {
	c.channelMu.Lock()
	if c.channelState != channelDisconnected {
		c.channelMu.Unlock()
		return
	}
	c.channelState = channelConnecting
	c.channelMu.Unlock()

	channel, err := c.dialChannel(token, c.log)

	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	if err != nil {
		c.channelState = channelDisconnected
		c.log.Warn().Err(err).Msg("Failed to establish conversation channel")
		return
	}
	c.channel = channel
	c.channelState = channelConnected
	go c.consumeChannel(channel)
}

func (c *Client) subscribeThread(id ConversationID, blogName string) {
	c.channelMu.Lock()
	channel := c.channel
	c.channelMu.Unlock()
	if channel == nil {
		return
	}
	if err := channel.Subscribe(id, blogName); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", string(id)).Msg("Failed to subscribe to conversation")
	}
}

// consumeChannel is the single coordinator for the channel's inbound
// stream. When the stream closes the channel is disposed and a fresh one is
// established on next demand.
func (c *Client) consumeChannel(channel *ConversationChannel) {
	for inbound := range channel.Messages() {
		c.handleInbound(inbound)
	}
	c.channelMu.Lock()
	if c.channel == channel {
		c.channel = nil
		c.channelState = channelDisconnected
	}
	c.channelMu.Unlock()
	channel.Close()
}

// handleInbound folds one pushed message into the tracker and forwards it
// to the host. Already-known messages produce no event.
func (c *Client) handleInbound(inbound InboundMessage) {
	fromSelf := inbound.Message.Participant == c.ActiveBlog().UUID
	added := c.store.AddMessages(inbound.ConversationID, []TrackedMessage{{
		ID:       inbound.Message.TS,
		FromSelf: fromSelf,
	}})
	if len(added) == 0 {
		return
	}
	c.events.emit(Event{
		Type:     EventStateSync,
		Object:   ObjectMessage,
		Mutation: MutationUpsert,
		ThreadID: inbound.ConversationID,
		Messages: []Message{inbound.Message},
	}, Event{
		Type:     EventStateSync,
		Object:   ObjectThread,
		Mutation: MutationUpdate,
		ThreadID: inbound.ConversationID,
		Thread:   c.threadUpdate(inbound.ConversationID),
	})
}

func (c *Client) threadUpdate(id ConversationID) *ThreadUpdate {
	update := &ThreadUpdate{
		ID:          id,
		UnreadCount: c.store.UnreadCount(id),
	}
	if lastRead, ok := c.store.LastReadMessageID(id); ok {
		update.LastReadMessageID = lastRead
	}
	return update
}

// SetPollIntervals overrides the reconciliation cadences. Zero keeps the
// default. Must be called before StartPolling.
func (c *Client) SetPollIntervals(normal, focused time.Duration) {
	if normal > 0 {
		c.poller.interval = normal
	}
	if focused > 0 {
		c.poller.focusedInterval = focused
	}
}

// StartPolling begins the unread reconciliation loop.
func (c *Client) StartPolling(ctx context.Context) {
	c.poller.Start(ctx)
}

// SetFocusedThread tightens the poll interval while a thread is open in the
// host UI. Pass an empty id to clear focus.
func (c *Client) SetFocusedThread(id ConversationID) {
	c.poller.SetFocusedThread(id)
}

// Dispose tears down the realtime channel and the poller. The client may be
// reused after another login.
func (c *Client) Dispose() {
	c.poller.Dispose()
	c.channelMu.Lock()
	channel := c.channel
	c.channel = nil
	c.channelState = channelDisconnected
	c.channelMu.Unlock()
	if channel != nil {
		channel.Close()
	}
}
