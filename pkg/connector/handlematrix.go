// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// HandleMatrixMessage handles a message sent from Matrix to Tumblr.
func (tb *TumblrClient) HandleMatrixMessage(ctx context.Context, msg *bridgev2.MatrixMessage) (*bridgev2.MatrixMessageResponse, error) {
	if !tb.IsLoggedIn() {
		return nil, bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	content := msg.Content

	var outgoing tumblr.OutgoingMessage
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		text := matrixfmtParse(content)
		if ref := tb.resolvePostLink(ctx, conversationID, text); ref != nil {
			// A message that is just a post link is sent as a post
			// reference so the recipient gets the preview card.
			outgoing = *ref
		} else {
			outgoing = tumblr.TextMessage{
				ConversationID: conversationID,
				Participant:    tb.activeBlogUUID,
				Body:           text,
			}
		}

	case event.MsgImage:
		data, err := msg.Portal.Bridge.Bot.DownloadMedia(ctx, content.URL, content.File)
		if err != nil {
			return nil, fmt.Errorf("failed to download Matrix media: %w", err)
		}
		filename := content.GetFileName()
		if filename == "" {
			filename = "upload"
		}
		outgoing = tumblr.ImageMessage{
			ConversationID: conversationID,
			Participant:    tb.activeBlogUUID,
			Filename:       filename,
			Data:           data,
		}

	default:
		return nil, fmt.Errorf("unsupported message type: %s", content.MsgType)
	}

	resp, err := tb.client.SendMessage(ctx, outgoing)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	sentID := tb.newestOwnMessageID(resp)
	if sentID == "" {
		return nil, fmt.Errorf("send response did not contain the sent message")
	}

	return &bridgev2.MatrixMessageResponse{
		DB: &database.Message{
			ID:       MakeMessageID(conversationID, sentID),
			SenderID: MakeUserID(tb.activeBlogUUID),
		},
	}, nil
}

// resolvePostLink returns a post reference when the message text is exactly
// one Tumblr post URL. Resolution failures fall back to sending the link as
// plain text.
func (tb *TumblrClient) resolvePostLink(ctx context.Context, conversationID tumblr.ConversationID, text string) *tumblr.PostRefMessage {
	link := strings.TrimSpace(text)
	if strings.ContainsAny(link, " \n\t") {
		return nil
	}
	if _, _, ok := tumblr.ParsePostURL(link); !ok {
		return nil
	}
	ref, err := tb.client.ResolvePostRef(ctx, conversationID, link)
	if err != nil {
		tb.log.Debug().Err(err).Str("link", link).Msg("Failed to resolve post link, sending as text")
		return nil
	}
	return ref
}

// newestOwnMessageID finds the most recent message sent by the active blog
// in a send response. The response page includes the message that was just
// sent.
func (tb *TumblrClient) newestOwnMessageID(resp *tumblr.ConversationResponse) tumblr.MessageID {
	var newest tumblr.MessageID
	for _, m := range resp.Messages.Data {
		if m.Participant != tb.activeBlogUUID {
			continue
		}
		if newest == "" || newest.Less(m.TS) {
			newest = m.TS
		}
	}
	return newest
}

// HandleMatrixReadReceipt moves the Tumblr read boundary and marks the
// conversation as focused so the unread poller checks it more often.
func (tb *TumblrClient) HandleMatrixReadReceipt(ctx context.Context, msg *bridgev2.MatrixReadReceipt) error {
	if !tb.IsLoggedIn() {
		return bridgev2.ErrNotLoggedIn
	}

	conversationID := ParsePortalID(msg.Portal.ID)
	readUpTo := msg.ReadUpTo
	if readUpTo.IsZero() {
		readUpTo = time.Now()
	}

	if err := tb.client.MarkRead(ctx, conversationID, readUpTo.Unix()); err != nil {
		return fmt.Errorf("failed to mark conversation as read: %w", err)
	}
	tb.client.SetFocusedThread(conversationID)
	return nil
}
