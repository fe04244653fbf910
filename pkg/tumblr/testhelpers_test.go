// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeTumblr wraps an httptest.Server simulating the Tumblr API. It records
// calls and serves canned responses in the {meta, response} envelope.
type fakeTumblr struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// User is returned by the user info endpoint.
	User UserInfo
	// Conversations is the first listing page.
	Conversations []Conversation
	// Links is attached to the listing response.
	Links *APILinks
	// Messages maps conversation id to the messages page served for it.
	Messages map[ConversationID]*ConversationResponse
	// SendResponse is returned for message sends and conversation creates.
	SendResponse *ConversationResponse
	// Blogs maps blog name to info responses.
	Blogs map[string]Blog
	// URLInfoResponse is returned by the url info endpoint.
	URLInfoResponse *URLInfo
	// RefreshResponse is returned by the token endpoint; nil means 401.
	RefreshResponse *TokenResponse
	// FailPaths causes matching path substrings to return 500.
	FailPaths map[string]bool
}

func newFakeTumblr() *fakeTumblr {
	f := &fakeTumblr{
		Messages:  make(map[ConversationID]*ConversationResponse),
		Blogs:     make(map[string]Blog),
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

func (f *fakeTumblr) CallCount(path string) int {
	count := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			count++
		}
	}
	return count
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

	for prefix := range f.FailPaths {
		if strings.Contains(path, prefix) {
			writeEnvelope(w, http.StatusInternalServerError, nil)
			return
		}
	}

	// The token endpoint is the only unauthenticated one.
	if r.Method == "POST" && path == "/oauth2/token" {
		if f.RefreshResponse == nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(f.RefreshResponse)
		return
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeEnvelope(w, http.StatusUnauthorized, nil)
		return
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
		id := ConversationID(r.URL.Query().Get("conversation_id"))
		if resp, ok := f.Messages[id]; ok {
			writeEnvelope(w, http.StatusOK, resp)
			return
		}
		writeEnvelope(w, http.StatusNotFound, nil)

	case r.Method == "POST" && path == "/conversations/messages":
		writeEnvelope(w, http.StatusOK, f.SendResponse)

	case r.Method == "POST" && path == "/conversations":
		writeEnvelope(w, http.StatusOK, f.SendResponse)

	case r.Method == "DELETE" && path == "/conversations":
		writeEnvelope(w, http.StatusOK, map[string]any{})

	case r.Method == "POST" && path == "/conversations/flag":
		writeEnvelope(w, http.StatusOK, map[string]any{})

	case r.Method == "POST" && path == "/conversations/mark_as_read":
		writeEnvelope(w, http.StatusOK, map[string]any{})

	case r.Method == "GET" && strings.HasPrefix(path, "/blog/") && strings.HasSuffix(path, "/info"):
		name := strings.TrimSuffix(strings.TrimPrefix(path, "/blog/"), "/info")
		name = strings.TrimSuffix(name, ".tumblr.com")
		if blog, ok := f.Blogs[name]; ok {
			writeEnvelope(w, http.StatusOK, BlogInfo{Blog: blog})
			return
		}
		writeEnvelope(w, http.StatusNotFound, nil)

	case r.Method == "GET" && path == "/url_info":
		if f.URLInfoResponse != nil {
			writeEnvelope(w, http.StatusOK, f.URLInfoResponse)
			return
		}
		writeEnvelope(w, http.StatusNotFound, nil)

	default:
		writeEnvelope(w, http.StatusNotFound, nil)
	}
}

// newTestClient creates a logged-in client pointed at the fake server, with
// the realtime channel dialer stubbed out.
func newTestClient(f *fakeTumblr) *Client {
	c := NewClient(zerolog.Nop())
	c.baseURL = f.Server.URL
	c.refreshURL = f.Server.URL + "/oauth2/token"
	c.dialChannel = func(string, zerolog.Logger) (*ConversationChannel, error) {
		return nil, errTestNoChannel
	}
	c.creds.Set(Credentials{
		AccessToken:  "test-access-token",
		RefreshToken: "test-refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	c.user = &UserInfo{Blogs: []Blog{testBlog("myblog", "uuid-self", true)}}
	c.activeBlog = c.user.Blogs[0]
	return c
}

var errTestNoChannel = errors.New("no channel in tests")

func testBlog(name, uuid string, primary bool) Blog {
	return Blog{Name: name, UUID: uuid, Primary: primary, Title: name}
}

func testMessage(ts MessageID, participant, text string) Message {
	return Message{
		Type:        MessageTypeText,
		Participant: participant,
		TS:          ts,
		Content:     &TextContent{Text: text},
	}
}
