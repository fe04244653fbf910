// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// MakePortalID creates a networkid.PortalID from a Tumblr conversation ID.
func MakePortalID(conversationID tumblr.ConversationID) networkid.PortalID {
	return networkid.PortalID(conversationID)
}

// ParsePortalID extracts the Tumblr conversation ID from a PortalID.
func ParsePortalID(portalID networkid.PortalID) tumblr.ConversationID {
	return tumblr.ConversationID(portalID)
}

// MakeUserID creates a networkid.UserID from a blog UUID.
func MakeUserID(blogUUID string) networkid.UserID {
	return networkid.UserID(blogUUID)
}

// ParseUserID extracts the blog UUID from a networkid.UserID.
func ParseUserID(userID networkid.UserID) string {
	return string(userID)
}

// MakeMessageID creates a networkid.MessageID. Tumblr message ids are
// millisecond timestamps that are only unique within a conversation, so the
// conversation id is included.
func MakeMessageID(conversationID tumblr.ConversationID, messageID tumblr.MessageID) networkid.MessageID {
	return networkid.MessageID(string(conversationID) + ":" + string(messageID))
}

// ParseMessageID splits a MessageID back into conversation and message ids.
func ParseMessageID(messageID networkid.MessageID) (tumblr.ConversationID, tumblr.MessageID) {
	conv, msg, found := strings.Cut(string(messageID), ":")
	if !found {
		return "", tumblr.MessageID(conv)
	}
	return tumblr.ConversationID(conv), tumblr.MessageID(msg)
}

// MakeUserLoginID creates a UserLoginID from a Tumblr user UUID.
func MakeUserLoginID(userUUID string) networkid.UserLoginID {
	return networkid.UserLoginID(userUUID)
}

// ParseUserLoginID extracts the Tumblr user UUID from a UserLoginID.
func ParseUserLoginID(loginID networkid.UserLoginID) string {
	return string(loginID)
}

// makePortalKey creates a networkid.PortalKey from a conversation ID.
func makePortalKey(conversationID tumblr.ConversationID) networkid.PortalKey {
	return networkid.PortalKey{
		ID: MakePortalID(conversationID),
	}
}
