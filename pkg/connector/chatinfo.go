// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// conversationToChatInfo converts a Tumblr conversation to a bridgev2.ChatInfo.
// Tumblr conversations are always 1:1 between two blogs.
func (tb *TumblrClient) conversationToChatInfo(conv *tumblr.Conversation) *bridgev2.ChatInfo {
	memberMap := make(map[networkid.UserID]bridgev2.ChatMember, len(conv.Participants))
	var otherUserID networkid.UserID
	for _, blog := range conv.Participants {
		userID := MakeUserID(blog.UUID)
		memberMap[userID] = bridgev2.ChatMember{
			EventSender: bridgev2.EventSender{
				IsFromMe: blog.UUID == tb.activeBlogUUID,
				Sender:   userID,
			},
			Membership: event.MembershipJoin,
		}
		if blog.UUID != tb.activeBlogUUID {
			otherUserID = userID
		}
	}

	dmType := database.RoomTypeDM
	return &bridgev2.ChatInfo{
		Type: &dmType,
		Members: &bridgev2.ChatMemberList{
			IsFull:           true,
			TotalMemberCount: len(conv.Participants),
			OtherUserID:      otherUserID,
			MemberMap:        memberMap,
		},
	}
}

// blogToUserInfo converts a Tumblr blog to a bridgev2.UserInfo for its ghost.
func (tb *TumblrClient) blogToUserInfo(blog tumblr.Blog) *bridgev2.UserInfo {
	name := tb.connector.Config.FormatDisplayname(DisplaynameParams{
		Name:  blog.Name,
		Title: blog.Title,
	})

	info := &bridgev2.UserInfo{
		Identifiers: []string{
			fmt.Sprintf("tumblr:%s", blog.Name),
		},
		Name: &name,
	}

	if avatarURL := blog.AvatarURL(); avatarURL != "" {
		info.Avatar = &bridgev2.Avatar{
			ID: networkid.AvatarID(avatarURL),
			Get: func(ctx context.Context) ([]byte, error) {
				data, _, err := downloadMedia(ctx, avatarURL)
				return data, err
			},
		}
	}

	return info
}
