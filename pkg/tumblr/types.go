// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"encoding/json"
	"fmt"
	"strconv"

	"go.mau.fi/util/jsontime"
)

// MessageID is a Tumblr message identifier: a millisecond timestamp encoded
// as a decimal string. Ordering by parsed value is chronological ordering.
type MessageID string

// Millis parses the id into a millisecond timestamp. Returns false for
// non-numeric ids.
func (id MessageID) Millis() (int64, bool) {
	ms, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}

// Less orders ids by their numeric value. Ids are variable-length decimal
// strings, so lexical comparison would mis-sort them; it is only used as a
// fallback when an id does not parse.
func (id MessageID) Less(other MessageID) bool {
	a, aok := id.Millis()
	b, bok := other.Millis()
	if aok && bok {
		return a < b
	}
	return id < other
}

// ConversationID is the server-assigned conversation identifier. The server
// serializes it sometimes as a number and sometimes as a string.
type ConversationID string

func (c *ConversationID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ConversationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("conversation id is neither string nor number: %w", err)
	}
	*c = ConversationID(n.String())
	return nil
}

// ConversationStatus is ACTIVE or INACTIVE.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "ACTIVE"
	ConversationInactive ConversationStatus = "INACTIVE"
)

// responseEnvelope is the outer shape of every Tumblr API response.
type responseEnvelope struct {
	Meta struct {
		Status int    `json:"status"`
		Msg    string `json:"msg"`
	} `json:"meta"`
	Response json.RawMessage `json:"response"`
	Errors   []struct {
		Title  string `json:"title"`
		Code   int    `json:"code"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// UserInfo is the authenticated user with their blogs.
type UserInfo struct {
	UserUUID        string `json:"userUuid"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	IsEmailVerified bool   `json:"isEmailVerified"`
	Blogs           []Blog `json:"blogs"`
}

// PrimaryBlog returns the user's primary blog, the identity under which
// messages are sent by default.
func (u *UserInfo) PrimaryBlog() (Blog, bool) {
	for _, blog := range u.Blogs {
		if blog.Primary {
			return blog, true
		}
	}
	return Blog{}, false
}

// Blog is a user-controlled identity. Conversations happen between blogs,
// not accounts.
type Blog struct {
	UUID           string   `json:"uuid"`
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	URL            string   `json:"url"`
	Primary        bool     `json:"primary"`
	Avatar         []Avatar `json:"avatar"`
	Description    string   `json:"description"`
	Followers      int      `json:"followers"`
	ShareFollowing bool     `json:"shareFollowing"`
}

// AvatarURL returns the first (largest) avatar variant, if any.
func (b Blog) AvatarURL() string {
	if len(b.Avatar) == 0 {
		return ""
	}
	return b.Avatar[0].URL
}

type Avatar struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// Conversation is one thread between the active blog and other participants.
// LastModifiedTS is milliseconds, LastReadTS is seconds; the distinct
// jsontime types keep the two units from being mixed up.
type Conversation struct {
	ObjectType          string             `json:"objectType"`
	ID                  ConversationID     `json:"id"`
	Status              ConversationStatus `json:"status"`
	LastModifiedTS      jsontime.UnixMilli `json:"lastModifiedTs"`
	LastReadTS          jsontime.Unix      `json:"lastReadTs"`
	UnreadMessagesCount int                `json:"unreadMessagesCount"`
	CanSend             bool               `json:"canSend"`
	IsPossibleSpam      bool               `json:"isPossibleSpam"`
	Participants        []Blog             `json:"participants"`
	Messages            MessagesPage       `json:"messages"`
}

// OwnBlog returns the participant blog owned by the given user, i.e. the
// identity this conversation is held under.
func (c *Conversation) OwnBlog(user *UserInfo) (Blog, bool) {
	for _, userBlog := range user.Blogs {
		for _, participant := range c.Participants {
			if userBlog.UUID == participant.UUID {
				return userBlog, true
			}
		}
	}
	return Blog{}, false
}

// MessagesPage is one page of messages plus pagination links.
type MessagesPage struct {
	Data  []Message `json:"data"`
	Links *APILinks `json:"links,omitempty"`
}

type APILink struct {
	Href string `json:"href"`
}

type APILinks struct {
	Destination *APILink `json:"destination,omitempty"`
	Next        *APILink `json:"next,omitempty"`
	Prev        *APILink `json:"prev,omitempty"`
}

// MessageType discriminates the message payload variants.
type MessageType string

const (
	MessageTypeText    MessageType = "TEXT"
	MessageTypeImage   MessageType = "IMAGE"
	MessageTypeSticker MessageType = "STICKER"
	MessageTypePostRef MessageType = "POSTREF"
)

// Message is a single message within a conversation. TS doubles as the
// message id.
type Message struct {
	Type        MessageType    `json:"type"`
	Participant string         `json:"participant"` // Blog.UUID of the sender
	TS          MessageID      `json:"ts"`
	Unread      *bool          `json:"unread,omitempty"`
	Content     *TextContent   `json:"content,omitempty"`
	Post        *Post          `json:"post,omitempty"`
	Images      []MessageImage `json:"images,omitempty"`
	StickerID   string         `json:"stickerId,omitempty"`

	CanRetry     bool `json:"canRetry,omitempty"`
	IsPending    bool `json:"isPending,omitempty"`
	IsRetrying   bool `json:"isRetrying,omitempty"`
	CouldNotSend bool `json:"couldNotSend,omitempty"`
}

type TextContent struct {
	Text       string            `json:"text"`
	Formatting []FormattingRange `json:"formatting,omitempty"`
}

// FormattingRange marks a formatted span inside TextContent.Text.
type FormattingRange struct {
	Type     string `json:"type"` // bold, italic, strikethrough, link, mention, color, small
	Start    int    `json:"start"`
	End      int    `json:"end"`
	URL      string `json:"url,omitempty"`
	BlogUUID string `json:"blog,omitempty"`
}

type Post struct {
	BlogName string  `json:"blogName"`
	PostURL  string  `json:"postUrl"`
	Type     string  `json:"type"`
	Summary  string  `json:"summary,omitempty"`
	ShortURL string  `json:"shortUrl,omitempty"`
	Content  []Block `json:"content"`
}

// Block is one content block of a post. Only text and image blocks carry
// information the bridge renders.
type Block struct {
	Type    string  `json:"type"`
	Text    string  `json:"text,omitempty"`
	Caption string  `json:"caption,omitempty"`
	Media   []Media `json:"media,omitempty"`
}

type Media struct {
	MediaKey string `json:"mediaKey,omitempty"`
	Type     string `json:"type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	URL      string `json:"url"`
	Poster   *Media `json:"poster,omitempty"`
}

type MessageImage struct {
	AltSizes     []Image `json:"altSizes,omitempty"`
	OriginalSize *Image  `json:"originalSize,omitempty"`
}

type Image struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
}

// ConversationResponse is the body of a messages fetch or message send. It is
// a conversation plus the realtime channel token.
type ConversationResponse struct {
	Conversation
	Token string `json:"token"`
}

// conversationsResponse is the body of the conversations listing.
type conversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Links         *APILinks      `json:"links,omitempty"`
}

// BlogInfo is the response shape of the blog info endpoint.
type BlogInfo struct {
	Blog Blog `json:"blog"`
}

// URLInfo describes a Tumblr post URL, used to build link previews.
type URLInfo struct {
	Title    string  `json:"title,omitempty"`
	URL      string  `json:"url"`
	Poster   []Image `json:"poster,omitempty"`
	BlogUUID string  `json:"blog,omitempty"`
}
