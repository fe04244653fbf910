// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// mockEventSender captures queued remote events for test assertions.
type mockEventSender struct {
	mu     sync.Mutex
	events []bridgev2.RemoteEvent
}

func (m *mockEventSender) QueueRemoteEvent(_ *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEventSender) Events() []bridgev2.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]bridgev2.RemoteEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockEventSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeTumblr wraps an httptest.Server simulating the Tumblr API with its
// response envelope. It records calls and serves canned responses.
type fakeTumblr struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// User is served by /user/info.
	User tumblr.UserInfo
	// Conversations and Links are served by /conversations.
	Conversations []tumblr.Conversation
	Links         *tumblr.APILinks
	// Messages maps conversation id to the /conversations/messages response.
	Messages map[string]*tumblr.ConversationResponse
	// SendResponse is served by message sends and conversation creation.
	SendResponse *tumblr.ConversationResponse
	// Blogs maps blog name to the /blog/{name}/info response.
	Blogs map[string]tumblr.Blog
	// URLInfoResponse is served by /url_info.
	URLInfoResponse *tumblr.URLInfo
	// FailPaths causes matching path substrings to return 500.
	FailPaths map[string]bool
}

func newFakeTumblr() *fakeTumblr {
	f := &fakeTumblr{
		User: tumblr.UserInfo{
			UserUUID: "user-uuid",
			Name:     "myblog",
			Blogs:    []tumblr.Blog{testBlog("myblog", "uuid-self", true)},
		},
		Messages:  make(map[string]*tumblr.ConversationResponse),
		Blogs:     make(map[string]tumblr.Blog),
		FailPaths: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeTumblr) Close() {
	f.Server.Close()
}

func (f *fakeTumblr) record(r *http.Request, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Body:   body,
	})
}

func (f *fakeTumblr) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeTumblr) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

func writeEnvelope(w http.ResponseWriter, status int, response any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"meta":     map[string]any{"status": status, "msg": http.StatusText(status)},
		"response": response,
	})
}

func (f *fakeTumblr) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, string(body))
	path := r.URL.Path

	// Token refresh is the only endpoint outside the envelope scheme.
	if r.Method == "POST" && path == "/oauth2/token" {
		_ = json.NewEncoder(w).Encode(&tumblr.TokenResponse{
			AccessToken:  "refreshed-token",
			RefreshToken: "refreshed-refresh",
			ExpiresIn:    3600,
		})
		return
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeEnvelope(w, http.StatusUnauthorized, map[string]any{})
		return
	}

	for prefix := range f.FailPaths {
		if strings.Contains(path, prefix) {
			writeEnvelope(w, http.StatusInternalServerError, map[string]any{})
			return
		}
	}

	switch {
	case r.Method == "GET" && path == "/user/info":
		writeEnvelope(w, http.StatusOK, map[string]any{"user": f.User})

	case r.Method == "GET" && path == "/conversations":
		writeEnvelope(w, http.StatusOK, map[string]any{
			"conversations": f.Conversations,
			"links":         f.Links,
		})

	case r.Method == "GET" && path == "/conversations/messages":
		convID := r.URL.Query().Get("conversation_id")
		if resp, ok := f.Messages[convID]; ok {
			writeEnvelope(w, http.StatusOK, resp)
			return
		}
		writeEnvelope(w, http.StatusNotFound, map[string]any{})

	case r.Method == "POST" && (path == "/conversations/messages" || path == "/conversations"):
		if f.SendResponse != nil {
			writeEnvelope(w, http.StatusOK, f.SendResponse)
			return
		}
		writeEnvelope(w, http.StatusInternalServerError, map[string]any{})

	case r.Method == "DELETE" && path == "/conversations":
		writeEnvelope(w, http.StatusOK, map[string]any{})

	case r.Method == "POST" && path == "/conversations/mark_as_read":
		writeEnvelope(w, http.StatusOK, map[string]any{})

	case r.Method == "POST" && path == "/conversations/flag":
		writeEnvelope(w, http.StatusOK, map[string]any{})

	case r.Method == "GET" && strings.HasPrefix(path, "/blog/") && strings.HasSuffix(path, "/info"):
		name := strings.TrimSuffix(strings.TrimPrefix(path, "/blog/"), "/info")
		name = strings.TrimSuffix(name, ".tumblr.com")
		if blog, ok := f.Blogs[name]; ok {
			writeEnvelope(w, http.StatusOK, map[string]any{"blog": blog})
			return
		}
		writeEnvelope(w, http.StatusNotFound, map[string]any{})

	case r.Method == "GET" && path == "/url_info":
		if f.URLInfoResponse != nil {
			writeEnvelope(w, http.StatusOK, f.URLInfoResponse)
			return
		}
		writeEnvelope(w, http.StatusNotFound, map[string]any{})

	default:
		writeEnvelope(w, http.StatusNotFound, map[string]any{})
	}
}

func testBlog(name, uuid string, primary bool) tumblr.Blog {
	return tumblr.Blog{Name: name, UUID: uuid, Primary: primary, Title: name}
}

func testMessage(ts tumblr.MessageID, participant, text string) tumblr.Message {
	return tumblr.Message{
		Type:        tumblr.MessageTypeText,
		Participant: participant,
		TS:          ts,
		Content:     &tumblr.TextContent{Text: text},
	}
}

func testConversation(id string, lastModified time.Time, participants ...tumblr.Blog) tumblr.Conversation {
	return tumblr.Conversation{
		ObjectType:     "conversation",
		ID:             tumblr.ConversationID(id),
		Status:         "ACTIVE",
		LastModifiedTS: jsontime.UnixMilli{Time: lastModified},
		CanSend:        true,
		Participants:   participants,
	}
}

// newFullTestClient creates a TumblrClient backed by the fake server, with
// credentials in place and the active blog resolved. The returned client has
// a mock event sender.
func newFullTestClient(t *testing.T, f *fakeTumblr) *TumblrClient {
	t.Helper()
	log := zerolog.Nop()
	tc := &TumblrConnector{
		Bridge: &bridgev2.Bridge{},
		Config: Config{
			DisplaynameTemplate: "{{if .Title}}{{.Title}}{{else}}{{.Name}}{{end}} (Tumblr)",
			BackfillEnabled:     true,
			BackfillMaxCount:    100,
		},
	}
	tc.Bridge.Log = log
	if err := tc.Config.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}

	client := tumblr.NewClient(log)
	client.SetBaseURLs(f.Server.URL, f.Server.URL+"/oauth2/token")
	client.Credentials().Set(tumblr.Credentials{
		AccessToken:  "test-token",
		RefreshToken: "test-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if _, err := client.GetCurrentUser(context.Background()); err != nil {
		t.Fatalf("GetCurrentUser: %v", err)
	}

	tb := &TumblrClient{
		connector:      tc,
		eventSender:    &mockEventSender{},
		client:         client,
		userUUID:       "user-uuid",
		activeBlogUUID: "uuid-self",
		activeBlogName: "myblog",
		blogs:          make(map[string]tumblr.Blog),
		stopChan:       make(chan struct{}),
		log:            log,
	}
	return tb
}

// newNotLoggedInClient creates a TumblrClient without stored credentials.
func newNotLoggedInClient() *TumblrClient {
	log := zerolog.Nop()
	tc := &TumblrConnector{Bridge: &bridgev2.Bridge{}, Config: Config{}}
	tc.Bridge.Log = log
	return &TumblrClient{
		connector:      tc,
		eventSender:    &mockEventSender{},
		client:         tumblr.NewClient(log),
		activeBlogUUID: "uuid-self",
		activeBlogName: "myblog",
		blogs:          make(map[string]tumblr.Blog),
		stopChan:       make(chan struct{}),
		log:            log,
	}
}

// testMock returns the mockEventSender from a test client.
func testMock(tb *TumblrClient) *mockEventSender {
	return tb.eventSender.(*mockEventSender)
}

// makeTestPortal creates a minimal bridgev2.Portal for testing.
func makeTestPortal(conversationID string) *bridgev2.Portal {
	return &bridgev2.Portal{
		Portal: &database.Portal{
			PortalKey: networkid.PortalKey{
				ID: MakePortalID(tumblr.ConversationID(conversationID)),
			},
		},
	}
}
