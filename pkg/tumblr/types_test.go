// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"encoding/json"
	"testing"
)

func TestMessageIDLessIsNumeric(t *testing.T) {
	t.Parallel()
	// Lexically "9..." > "10..." but numerically it is smaller.
	if !MessageID("9999999999999").Less("10000000000000") {
		t.Error("numeric comparison failed for ids of different length")
	}
	if MessageID("1700000002000").Less("1700000001000") {
		t.Error("ordering inverted")
	}
}

func TestMessageIDMillis(t *testing.T) {
	t.Parallel()
	ms, ok := MessageID("1700000000000").Millis()
	if !ok || ms != 1700000000000 {
		t.Errorf("Millis: got (%d, %v)", ms, ok)
	}
	if _, ok := MessageID("not-a-number").Millis(); ok {
		t.Error("Millis parsed a non-numeric id")
	}
}

func TestConversationIDUnmarshal(t *testing.T) {
	t.Parallel()
	var fromNumber struct {
		ID ConversationID `json:"id"`
	}
	if err := json.Unmarshal([]byte(`{"id": 12345}`), &fromNumber); err != nil {
		t.Fatalf("number form: %v", err)
	}
	if fromNumber.ID != "12345" {
		t.Errorf("number form: got %q", fromNumber.ID)
	}

	var fromString struct {
		ID ConversationID `json:"id"`
	}
	if err := json.Unmarshal([]byte(`{"id": "67890"}`), &fromString); err != nil {
		t.Fatalf("string form: %v", err)
	}
	if fromString.ID != "67890" {
		t.Errorf("string form: got %q", fromString.ID)
	}
}

func TestPrimaryBlog(t *testing.T) {
	t.Parallel()
	user := &UserInfo{Blogs: []Blog{
		testBlog("side", "uuid-1", false),
		testBlog("main", "uuid-2", true),
	}}
	blog, ok := user.PrimaryBlog()
	if !ok || blog.Name != "main" {
		t.Errorf("PrimaryBlog: got (%+v, %v)", blog, ok)
	}

	none := &UserInfo{Blogs: []Blog{testBlog("side", "uuid-1", false)}}
	if _, ok := none.PrimaryBlog(); ok {
		t.Error("PrimaryBlog found one where none is primary")
	}
}

func TestOwnBlog(t *testing.T) {
	t.Parallel()
	user := &UserInfo{Blogs: []Blog{testBlog("mine", "uuid-mine", true)}}
	conv := &Conversation{Participants: []Blog{
		testBlog("other", "uuid-other", false),
		testBlog("mine", "uuid-mine", false),
	}}
	blog, ok := conv.OwnBlog(user)
	if !ok || blog.UUID != "uuid-mine" {
		t.Errorf("OwnBlog: got (%+v, %v)", blog, ok)
	}
}
