// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/simplevent"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// handleTumblrEvents receives event batches from the library client and
// translates them into bridgev2 remote events.
func (tb *TumblrClient) handleTumblrEvents(events []tumblr.Event) {
	for _, evt := range events {
		switch evt.Type {
		case tumblr.EventSessionUpdated:
			tb.persistSession()
		case tumblr.EventStateSync:
			tb.handleStateSync(evt)
		default:
			tb.log.Trace().Str("event_type", string(evt.Type)).Msg("Unhandled event type")
		}
	}
}

func (tb *TumblrClient) handleStateSync(evt tumblr.Event) {
	switch {
	case evt.Object == tumblr.ObjectMessage && evt.Mutation == tumblr.MutationUpsert:
		for _, msg := range evt.Messages {
			tb.queueMessage(evt.ThreadID, msg)
		}
	case evt.Object == tumblr.ObjectThread && evt.Mutation == tumblr.MutationUpsert:
		tb.queueThreadCreate(evt.ThreadID)
	case evt.Object == tumblr.ObjectThread && evt.Mutation == tumblr.MutationUpdate:
		tb.queueReadReceipt(evt.ThreadID, evt.Thread)
	case evt.Object == tumblr.ObjectThread && evt.Mutation == tumblr.MutationDelete:
		tb.queueThreadDelete(evt.ThreadID)
	default:
		tb.log.Trace().
			Str("object", string(evt.Object)).
			Str("mutation", string(evt.Mutation)).
			Msg("Unhandled state sync shape")
	}
}

// persistSession writes refreshed credentials back into the login row so
// they survive restarts.
func (tb *TumblrClient) persistSession() {
	creds, ok := tb.client.Credentials().Get()
	if !ok {
		return
	}
	meta := getLoginMeta(tb.userLogin)
	meta.Credentials = creds
	if err := tb.userLogin.Save(context.Background()); err != nil {
		tb.log.Error().Err(err).Msg("Failed to persist refreshed credentials")
	}
}

func (tb *TumblrClient) queueMessage(conversationID tumblr.ConversationID, msg tumblr.Message) {
	ms, _ := msg.TS.Millis()
	ts := time.UnixMilli(ms)

	tb.log.Debug().
		Str("conversation_id", string(conversationID)).
		Str("message_id", string(msg.TS)).
		Msg("Received new message")

	tb.eventSender.QueueRemoteEvent(tb.userLogin, &simplevent.Message[tumblr.Message]{
		EventMeta: simplevent.EventMeta{
			Type: bridgev2.RemoteEventMessage,
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("message_id", string(msg.TS)).Str("conversation_id", string(conversationID))
			},
			PortalKey: makePortalKey(conversationID),
			Sender: bridgev2.EventSender{
				IsFromMe: msg.Participant == tb.activeBlogUUID,
				Sender:   MakeUserID(msg.Participant),
			},
			Timestamp:    ts,
			CreatePortal: true,
		},
		ID:   MakeMessageID(conversationID, msg.TS),
		Data: msg,
		ConvertMessageFunc: func(ctx context.Context, portal *bridgev2.Portal, intent bridgev2.MatrixAPI, data tumblr.Message) (*bridgev2.ConvertedMessage, error) {
			return tb.convertMessageToMatrix(ctx, portal, intent, data)
		},
	})
}

func (tb *TumblrClient) queueThreadCreate(conversationID tumblr.ConversationID) {
	// ChatInfo is left nil so the framework fetches it through GetChatInfo.
	tb.eventSender.QueueRemoteEvent(tb.userLogin, &simplevent.ChatResync{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatResync,
			PortalKey: makePortalKey(conversationID),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("conversation_id", string(conversationID))
			},
			CreatePortal: true,
		},
	})
}

func (tb *TumblrClient) queueReadReceipt(conversationID tumblr.ConversationID, update *tumblr.ThreadUpdate) {
	if update == nil || update.LastReadMessageID == "" {
		return
	}
	tb.eventSender.QueueRemoteEvent(tb.userLogin, &simplevent.Receipt{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventReadReceipt,
			PortalKey: makePortalKey(conversationID),
			Sender: bridgev2.EventSender{
				IsFromMe: true,
				Sender:   MakeUserID(tb.activeBlogUUID),
			},
		},
		LastTarget: MakeMessageID(conversationID, update.LastReadMessageID),
	})
}

func (tb *TumblrClient) queueThreadDelete(conversationID tumblr.ConversationID) {
	tb.eventSender.QueueRemoteEvent(tb.userLogin, &simplevent.ChatDelete{
		EventMeta: simplevent.EventMeta{
			Type:      bridgev2.RemoteEventChatDelete,
			PortalKey: makePortalKey(conversationID),
			LogContext: func(c zerolog.Context) zerolog.Context {
				return c.Str("conversation_id", string(conversationID))
			},
		},
		OnlyForMe: true,
	})
}

// convertMessageToMatrix converts a Tumblr message to a bridgev2.ConvertedMessage.
func (tb *TumblrClient) convertMessageToMatrix(ctx context.Context, portal *bridgev2.Portal, intent bridgev2.MatrixAPI, msg tumblr.Message) (*bridgev2.ConvertedMessage, error) {
	switch msg.Type {
	case tumblr.MessageTypeText:
		return tb.convertTextMessage(msg), nil
	case tumblr.MessageTypeImage, tumblr.MessageTypeSticker:
		return tb.convertImageMessage(ctx, portal, intent, msg)
	case tumblr.MessageTypePostRef:
		return tb.convertPostRefMessage(msg), nil
	default:
		return nil, fmt.Errorf("unsupported message type %s", msg.Type)
	}
}

func (tb *TumblrClient) convertTextMessage(msg tumblr.Message) *bridgev2.ConvertedMessage {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
	}
	if msg.Content != nil {
		parsed := tumblrfmtToMatrix(msg.Content)
		content.Body = parsed.Body
		content.Format = parsed.Format
		content.FormattedBody = parsed.FormattedBody
	}
	return &bridgev2.ConvertedMessage{
		Parts: []*bridgev2.ConvertedMessagePart{{
			Type:    event.EventMessage,
			Content: content,
		}},
	}
}

func (tb *TumblrClient) convertImageMessage(ctx context.Context, portal *bridgev2.Portal, intent bridgev2.MatrixAPI, msg tumblr.Message) (*bridgev2.ConvertedMessage, error) {
	image := bestImage(msg)
	if image == nil {
		return nil, fmt.Errorf("image message has no image data")
	}

	data, mimeType, err := downloadMedia(ctx, image.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	fileName := "image"
	if msg.Type == tumblr.MessageTypeSticker {
		fileName = "sticker"
	}
	mxc, file, err := intent.UploadMedia(ctx, portal.MXID, data, fileName, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to reupload image: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType: event.MsgImage,
		Body:    fileName,
		URL:     mxc,
		File:    file,
		Info: &event.FileInfo{
			MimeType: mimeType,
			Width:    image.Width,
			Height:   image.Height,
			Size:     len(data),
		},
	}
	return &bridgev2.ConvertedMessage{
		Parts: []*bridgev2.ConvertedMessagePart{{
			Type:    event.EventMessage,
			Content: content,
		}},
	}, nil
}

// convertPostRefMessage renders a shared post as a link with its summary.
func (tb *TumblrClient) convertPostRefMessage(msg tumblr.Message) *bridgev2.ConvertedMessage {
	body := "Shared a post"
	formatted := "Shared a post"
	if msg.Post != nil {
		link := msg.Post.PostURL
		if link == "" {
			link = msg.Post.ShortURL
		}
		summary := msg.Post.Summary
		if summary == "" {
			summary = fmt.Sprintf("a post by %s", msg.Post.BlogName)
		}
		body = fmt.Sprintf("%s\n%s", summary, link)
		formatted = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(link), html.EscapeString(summary))
	}
	return &bridgev2.ConvertedMessage{
		Parts: []*bridgev2.ConvertedMessagePart{{
			Type: event.EventMessage,
			Content: &event.MessageEventContent{
				MsgType:       event.MsgText,
				Body:          body,
				Format:        event.FormatHTML,
				FormattedBody: formatted,
			},
		}},
	}
}

// bestImage picks the largest available variant of an image message.
func bestImage(msg tumblr.Message) *tumblr.Image {
	for _, img := range msg.Images {
		if img.OriginalSize != nil {
			return img.OriginalSize
		}
		if len(img.AltSizes) > 0 {
			best := img.AltSizes[0]
			for _, alt := range img.AltSizes[1:] {
				if alt.Width > best.Width {
					best = alt
				}
			}
			return &best
		}
	}
	return nil
}

var mediaHTTP = &http.Client{Timeout: 60 * time.Second}

// downloadMedia fetches a CDN asset and returns its bytes and content type.
func downloadMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := mediaHTTP.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media download returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
