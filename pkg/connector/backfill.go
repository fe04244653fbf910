// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// FetchMessages implements bridgev2.BackfillingNetworkAPI by paging through
// conversation history with the before/after message id cursors.
func (tb *TumblrClient) FetchMessages(ctx context.Context, params bridgev2.FetchMessagesParams) (*bridgev2.FetchMessagesResponse, error) {
	conversationID := ParsePortalID(params.Portal.ID)

	maxCount := tb.connector.Config.BackfillMaxCount
	if maxCount <= 0 {
		maxCount = 100
	}
	if params.Count > 0 && params.Count < maxCount {
		maxCount = params.Count
	}

	pagination := tumblr.MessagesPagination{Limit: maxCount}
	if !params.Forward && params.Cursor != "" {
		pagination.Before = tumblr.MessageID(params.Cursor)
	} else if params.AnchorMessage != nil {
		_, anchorID := ParseMessageID(params.AnchorMessage.ID)
		if params.Forward {
			pagination.After = anchorID
		} else {
			pagination.Before = anchorID
		}
	}

	resp, err := tb.client.GetMessages(ctx, conversationID, tb.activeBlogName, pagination)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages for backfill: %w", err)
	}
	tb.cacheBlogs(resp.Participants)

	// Messages arrive sorted oldest to newest.
	data := resp.Messages.Data
	var messages []*bridgev2.BackfillMessage
	for _, msg := range data {
		converted, err := tb.convertMessageToMatrix(ctx, params.Portal, tb.connector.Bridge.Bot, msg)
		if err != nil {
			tb.log.Warn().Err(err).
				Str("message_id", string(msg.TS)).
				Msg("Failed to convert message during backfill, skipping")
			continue
		}

		ms, _ := msg.TS.Millis()
		messages = append(messages, &bridgev2.BackfillMessage{
			ConvertedMessage: converted,
			Sender: bridgev2.EventSender{
				IsFromMe: msg.Participant == tb.activeBlogUUID,
				Sender:   MakeUserID(msg.Participant),
			},
			ID:        MakeMessageID(conversationID, msg.TS),
			Timestamp: time.UnixMilli(ms),
		})
	}

	result := &bridgev2.FetchMessagesResponse{
		Messages: messages,
		HasMore:  len(data) >= maxCount,
		Forward:  params.Forward,
	}
	// The oldest message id is the cursor for the next backward page.
	if !params.Forward && len(data) > 0 {
		result.Cursor = networkid.PaginationCursor(data[0].TS)
	}
	return result, nil
}
