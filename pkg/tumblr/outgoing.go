// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
)

// OutgoingMessage is the tagged union of message payloads the client can
// send. Exactly three variants exist: text, image upload, and post reference.
type OutgoingMessage interface {
	// conversationID returns the target conversation, empty when the
	// payload is used to create a new conversation.
	conversationID() ConversationID
}

// TextMessage sends plain text.
type TextMessage struct {
	ConversationID ConversationID
	Participant    string // sending blog UUID
	Body           string
}

func (m TextMessage) conversationID() ConversationID { return m.ConversationID }

// ImageMessage uploads an image as multipart form data.
type ImageMessage struct {
	ConversationID ConversationID
	Participant    string
	Filename       string
	Data           []byte
}

func (m ImageMessage) conversationID() ConversationID { return m.ConversationID }

// PostRefMessage shares an existing post, rendered with a link preview.
type PostRefMessage struct {
	ConversationID ConversationID
	Participant    string
	PostID         string
	BlogUUID       string
	Context        string // "post-chrome" or "messaging-gif"
}

func (m PostRefMessage) conversationID() ConversationID { return m.ConversationID }

// encodeOutgoing maps an outgoing message variant to a request body and
// content type. participants, when non-empty, switches the payload to the
// conversation-creating form.
func encodeOutgoing(msg OutgoingMessage, participants []string) (body []byte, contentType string, err error) {
	switch m := msg.(type) {
	case TextMessage:
		payload := map[string]any{
			"type":        "TEXT",
			"participant": m.Participant,
			"message":     m.Body,
		}
		addConversationTarget(payload, m.ConversationID, participants)
		body, err = json.Marshal(payload)
		return body, "application/json", err
	case PostRefMessage:
		payload := map[string]any{
			"type":        "POSTREF",
			"participant": m.Participant,
			"message":     "",
			"context":     m.Context,
			"post": map[string]any{
				"id":   m.PostID,
				"blog": m.BlogUUID,
				"type": "post",
			},
		}
		addConversationTarget(payload, m.ConversationID, participants)
		body, err = json.Marshal(payload)
		return body, "application/json", err
	case ImageMessage:
		return encodeImageForm(m, participants)
	default:
		return nil, "", fmt.Errorf("unsupported outgoing message type %T", msg)
	}
}

func addConversationTarget(payload map[string]any, id ConversationID, participants []string) {
	if len(participants) > 0 {
		payload["participants"] = participants
		return
	}
	payload["conversation_id"] = string(id)
}

func encodeImageForm(m ImageMessage, participants []string) ([]byte, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("type", "IMAGE"); err != nil {
		return nil, "", err
	}
	if err := form.WriteField("participant", m.Participant); err != nil {
		return nil, "", err
	}
	if len(participants) > 0 {
		for _, p := range participants {
			if err := form.WriteField("participants[]", p); err != nil {
				return nil, "", err
			}
		}
	} else if err := form.WriteField("conversation_id", string(m.ConversationID)); err != nil {
		return nil, "", err
	}
	part, err := form.CreateFormFile("data", m.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(m.Data); err != nil {
		return nil, "", err
	}
	if err = form.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), form.FormDataContentType(), nil
}
