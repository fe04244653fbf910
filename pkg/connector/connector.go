// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// TumblrConnector implements bridgev2.NetworkConnector for Tumblr messaging.
type TumblrConnector struct {
	Bridge *bridgev2.Bridge
	Config Config
}

var _ bridgev2.NetworkConnector = (*TumblrConnector)(nil)

func (tc *TumblrConnector) Init(bridge *bridgev2.Bridge) {
	tc.Bridge = bridge
}

func (tc *TumblrConnector) Start(_ context.Context) error {
	if err := tc.Config.PostProcess(); err != nil {
		return fmt.Errorf("failed to post-process config: %w", err)
	}
	return nil
}

func (tc *TumblrConnector) LoadUserLogin(_ context.Context, login *bridgev2.UserLogin) error {
	login.Client = NewTumblrClient(login, tc)
	return nil
}

func (tc *TumblrConnector) GetName() bridgev2.BridgeName {
	return bridgev2.BridgeName{
		DisplayName:      "Tumblr",
		NetworkURL:       "https://tumblr.com",
		NetworkIcon:      "mxc://maunium.net/tumblr",
		NetworkID:        "tumblr",
		BeeperBridgeType: "tumblr",
		DefaultPort:      29327,
	}
}

func (tc *TumblrConnector) GetDBMetaTypes() database.MetaTypes {
	return database.MetaTypes{
		UserLogin: func() any {
			return &UserLoginMetadata{}
		},
	}
}

func (tc *TumblrConnector) GetCapabilities() *bridgev2.NetworkGeneralCapabilities {
	return &bridgev2.NetworkGeneralCapabilities{
		DisappearingMessages: false,
		AggressiveUpdateInfo: false,
	}
}

func (tc *TumblrConnector) GetBridgeInfoVersion() (info, capabilities int) {
	return 1, 1
}

// UserLoginMetadata stores Tumblr-specific login data. Credentials carries
// the full OAuth token pair so the session survives bridge restarts without
// a new login.
type UserLoginMetadata struct {
	Credentials tumblr.Credentials `json:"credentials"`
	UserUUID    string             `json:"user_uuid"`
	// ActiveBlogUUID and ActiveBlogName identify the blog messages are
	// sent under, normally the account's primary blog.
	ActiveBlogUUID string `json:"active_blog_uuid"`
	ActiveBlogName string `json:"active_blog_name"`
}
