// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/bridgev2/status"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// remoteEventSender is an interface for queuing remote events. This allows
// tests to inject a mock instead of requiring a full bridgev2.Bridge.
type remoteEventSender interface {
	QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent)
}

// bridgeEventSender is the production implementation that delegates to the bridge.
type bridgeEventSender struct {
	bridge *bridgev2.Bridge
}

func (b *bridgeEventSender) QueueRemoteEvent(login *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	b.bridge.QueueRemoteEvent(login, evt)
}

// TumblrClient represents a single authenticated Tumblr account connection.
type TumblrClient struct {
	connector   *TumblrConnector
	userLogin   *bridgev2.UserLogin
	eventSender remoteEventSender

	client         *tumblr.Client
	userUUID       string
	activeBlogUUID string
	activeBlogName string

	// blogs caches participant blogs by UUID, because the API only looks
	// blogs up by name and ghost ids carry the UUID.
	blogMu sync.RWMutex
	blogs  map[string]tumblr.Blog

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var (
	_ bridgev2.NetworkAPI                    = (*TumblrClient)(nil)
	_ bridgev2.ReadReceiptHandlingNetworkAPI = (*TumblrClient)(nil)
	_ bridgev2.BackfillingNetworkAPI         = (*TumblrClient)(nil)
)

// NewTumblrClient creates a new client from an existing user login.
func NewTumblrClient(login *bridgev2.UserLogin, connector *TumblrConnector) *TumblrClient {
	log := login.Log.With().Str("component", "tumblr_client").Logger()
	tb := &TumblrClient{
		connector:   connector,
		userLogin:   login,
		eventSender: &bridgeEventSender{bridge: connector.Bridge},
		blogs:       make(map[string]tumblr.Blog),
		stopChan:    make(chan struct{}),
		log:         log,
	}
	meta := getLoginMeta(login)
	tb.userUUID = meta.UserUUID
	tb.activeBlogUUID = meta.ActiveBlogUUID
	tb.activeBlogName = meta.ActiveBlogName

	client := tumblr.NewClient(log)
	if meta.Credentials.AccessToken != "" {
		client.Credentials().Set(meta.Credentials)
	}
	tb.adoptClient(client)
	return tb
}

// adoptClient wires an already-constructed library client into this bridge
// client, attaching the event handler. Used on login to reuse the client
// that performed validation.
func (tb *TumblrClient) adoptClient(client *tumblr.Client) {
	tb.client = client
	client.SetEventHandler(tb.handleTumblrEvents)
}

// Connect implements bridgev2.NetworkAPI. It does not return an error;
// connection errors are reported via BridgeState.
func (tb *TumblrClient) Connect(ctx context.Context) {
	if _, ok := tb.client.Credentials().Get(); !ok {
		tb.log.Warn().Msg("No credentials stored, login first")
		tb.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "tumblr-not-logged-in",
			Message:    "Not logged in to Tumblr",
		})
		return
	}

	tb.log.Info().Str("blog", tb.activeBlogName).Msg("Connecting to Tumblr")

	user, err := tb.client.GetCurrentUser(ctx)
	if err != nil {
		tb.log.Error().Err(err).Msg("Failed to verify Tumblr session")
		tb.userLogin.BridgeState.Send(status.BridgeState{
			StateEvent: status.StateBadCredentials,
			Error:      "tumblr-token-invalid",
			Message:    "Tumblr authentication token is invalid",
		})
		return
	}
	blog := tb.client.ActiveBlog()
	tb.userUUID = user.UserUUID
	tb.activeBlogUUID = blog.UUID
	tb.activeBlogName = blog.Name
	tb.cacheBlogs(user.Blogs)
	tb.log.Info().Str("blog", blog.Name).Msg("Authenticated")

	cfg := tb.connector.Config
	tb.client.SetPollIntervals(
		time.Duration(cfg.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.FocusedPollIntervalSeconds)*time.Second,
	)
	tb.client.StartPolling(ctx)

	tb.userLogin.BridgeState.Send(status.BridgeState{
		StateEvent: status.StateConnected,
	})

	// Sync existing conversations to create portal rooms in Matrix.
	go tb.syncConversations(ctx)
}

// syncConversations pages through the conversation listing and queues
// ChatResync events so the bridge creates portal rooms.
func (tb *TumblrClient) syncConversations(ctx context.Context) {
	cursor := ""
	total := 0
	for {
		conversations, next, err := tb.client.GetConversations(ctx, cursor)
		if err != nil {
			tb.log.Error().Err(err).Msg("Failed to fetch conversations for sync")
			return
		}

		for i := range conversations {
			conv := &conversations[i]
			tb.cacheBlogs(conv.Participants)
			tb.queueConversationResync(conv)
			total++
		}

		if next == "" || len(conversations) == 0 {
			break
		}
		cursor = next
	}
	tb.log.Info().Int("count", total).Msg("Conversation sync complete")
}

func (tb *TumblrClient) queueConversationResync(conv *tumblr.Conversation) {
	chatInfo := tb.conversationToChatInfo(conv)

	var checkBackfill func(ctx context.Context, latestMessage *database.Message) (bool, error)
	var latestMessageTS time.Time
	if tb.connector.Config.BackfillEnabled && !conv.LastModifiedTS.IsZero() {
		lastModified := conv.LastModifiedTS.Time
		latestMessageTS = lastModified
		checkBackfill = func(_ context.Context, latestMessage *database.Message) (bool, error) {
			if latestMessage == nil {
				return true, nil
			}
			return latestMessage.Timestamp.Before(lastModified), nil
		}
	}

	conversationID := conv.ID
	tb.eventSender.QueueRemoteEvent(tb.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: makePortalKey(conversationID),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("conversation_id", string(conversationID))
			},
			CreatePortal: true,
		},
		ChatInfo:               chatInfo,
		LatestMessageTS:        latestMessageTS,
		CheckNeedsBackfillFunc: checkBackfill,
	})
}

// cacheBlogs remembers blogs by UUID for ghost info lookups.
func (tb *TumblrClient) cacheBlogs(blogs []tumblr.Blog) {
	tb.blogMu.Lock()
	defer tb.blogMu.Unlock()
	for _, blog := range blogs {
		if blog.UUID != "" {
			tb.blogs[blog.UUID] = blog
		}
	}
}

func (tb *TumblrClient) lookupBlog(uuid string) (tumblr.Blog, bool) {
	tb.blogMu.RLock()
	defer tb.blogMu.RUnlock()
	blog, ok := tb.blogs[uuid]
	return blog, ok
}

// Disconnect tears down the realtime channel and the unread poller.
func (tb *TumblrClient) Disconnect() {
	tb.stopOnce.Do(func() {
		close(tb.stopChan)
	})
	tb.client.Dispose()
}

// IsLoggedIn reports whether the client holds stored credentials.
func (tb *TumblrClient) IsLoggedIn() bool {
	_, ok := tb.client.Credentials().Get()
	return ok
}

// LogoutRemote disconnects. Tumblr has no token revocation endpoint, so the
// stored tokens are simply dropped with the login row.
func (tb *TumblrClient) LogoutRemote(_ context.Context) {
	tb.Disconnect()
}

// IsThisUser reports whether the given network user ID is one of this
// account's blogs.
func (tb *TumblrClient) IsThisUser(_ context.Context, userID networkid.UserID) bool {
	uuid := ParseUserID(userID)
	if uuid == tb.activeBlogUUID {
		return true
	}
	if user := tb.client.User(); user != nil {
		for _, blog := range user.Blogs {
			if blog.UUID == uuid {
				return true
			}
		}
	}
	return false
}

func (tb *TumblrClient) GetChatInfo(ctx context.Context, portal *bridgev2.Portal) (*bridgev2.ChatInfo, error) {
	conversationID := ParsePortalID(portal.ID)
	resp, err := tb.client.GetMessages(ctx, conversationID, tb.activeBlogName, tumblr.MessagesPagination{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation info: %w", err)
	}
	tb.cacheBlogs(resp.Participants)
	return tb.conversationToChatInfo(&resp.Conversation), nil
}

func (tb *TumblrClient) GetUserInfo(_ context.Context, ghost *bridgev2.Ghost) (*bridgev2.UserInfo, error) {
	uuid := ParseUserID(ghost.ID)
	blog, ok := tb.lookupBlog(uuid)
	if !ok {
		return nil, fmt.Errorf("blog %s not seen in any conversation yet", uuid)
	}
	return tb.blogToUserInfo(blog), nil
}

func (tb *TumblrClient) GetCapabilities(_ context.Context, _ *bridgev2.Portal) *event.RoomFeatures {
	return &event.RoomFeatures{
		Formatting: event.FormattingFeatureMap{
			event.FmtBold:          event.CapLevelFullySupported,
			event.FmtItalic:        event.CapLevelFullySupported,
			event.FmtStrikethrough: event.CapLevelFullySupported,
			event.FmtInlineLink:    event.CapLevelFullySupported,
			event.FmtUserLink:      event.CapLevelPartialSupport,
		},
		File: event.FileFeatureMap{
			event.MsgImage: {
				MimeTypes: map[string]event.CapabilitySupportLevel{
					"image/*": event.CapLevelFullySupported,
				},
				MaxSize: 10 * 1024 * 1024,
			},
		},
		MaxTextLength: 4096,
		Reply:         event.CapLevelDropped,
		Edit:          event.CapLevelRejected,
		Delete:        event.CapLevelRejected,
		Reaction:      event.CapLevelRejected,
		ReadReceipts:  true,
	}
}
