// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"

	"github.com/aiku/mautrix-tumblr/pkg/tumblr"
)

// GetLoginFlows returns the available login methods for the bridge.
func (tc *TumblrConnector) GetLoginFlows() []bridgev2.LoginFlow {
	return []bridgev2.LoginFlow{
		{
			Name:        "OAuth tokens",
			Description: "Log in by pasting the OAuth token response from the Tumblr web client",
			ID:          "token",
		},
	}
}

// CreateLogin starts a new login process for the given flow.
func (tc *TumblrConnector) CreateLogin(_ context.Context, user *bridgev2.User, flowID string) (bridgev2.LoginProcess, error) {
	if flowID != "token" {
		return nil, fmt.Errorf("unknown login flow: %s", flowID)
	}
	return &TokenLoginProcess{
		connector: tc,
		user:      user,
	}, nil
}

// TokenLoginProcess implements login from a pasted OAuth token response.
type TokenLoginProcess struct {
	connector *TumblrConnector
	user      *bridgev2.User
}

var _ bridgev2.LoginProcessUserInput = (*TokenLoginProcess)(nil)

func (t *TokenLoginProcess) Start(_ context.Context) (*bridgev2.LoginStep, error) {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       "fi.mau.tumblr.login.token",
		Instructions: "Paste the OAuth token response JSON (containing access_token and refresh_token)",
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: []bridgev2.LoginInputDataField{
				{
					Type: bridgev2.LoginInputFieldTypePassword,
					ID:   "token_response",
					Name: "Token response",
				},
			},
		},
	}, nil
}

func (t *TokenLoginProcess) SubmitUserInput(ctx context.Context, input map[string]string) (*bridgev2.LoginStep, error) {
	tok, err := parseTokenInput(input["token_response"])
	if err != nil {
		return nil, err
	}
	return t.finishLogin(ctx, tok)
}

func (t *TokenLoginProcess) Cancel() {}

// parseTokenInput accepts either a full OAuth token response JSON or the two
// tokens separated by whitespace.
func parseTokenInput(raw string) (*tumblr.TokenResponse, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("no token data provided")
	}
	if strings.HasPrefix(raw, "{") {
		var tok tumblr.TokenResponse
		if err := json.Unmarshal([]byte(raw), &tok); err != nil {
			return nil, fmt.Errorf("invalid token response JSON: %w", err)
		}
		if tok.AccessToken == "" || tok.RefreshToken == "" {
			return nil, fmt.Errorf("token response is missing access_token or refresh_token")
		}
		return &tok, nil
	}
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return nil, fmt.Errorf("expected token response JSON or \"<access_token> <refresh_token>\"")
	}
	return &tumblr.TokenResponse{
		AccessToken:  fields[0],
		RefreshToken: fields[1],
		ExpiresIn:    0,
	}, nil
}

func (t *TokenLoginProcess) finishLogin(ctx context.Context, tok *tumblr.TokenResponse) (*bridgev2.LoginStep, error) {
	client := tumblr.NewClient(t.connector.Bridge.Log)
	creds := client.Credentials().SetFromToken(tok)

	user, err := client.GetCurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	blog := client.ActiveBlog()

	loginID := MakeUserLoginID(user.UserUUID)
	ul, err := t.user.NewLogin(ctx, &database.UserLogin{
		ID:         loginID,
		RemoteName: blog.Name,
	}, &bridgev2.NewLoginParams{
		LoadUserLogin: t.connector.LoadUserLogin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create login: %w", err)
	}

	meta := ul.Metadata.(*UserLoginMetadata)
	meta.Credentials = creds
	meta.UserUUID = user.UserUUID
	meta.ActiveBlogUUID = blog.UUID
	meta.ActiveBlogName = blog.Name
	if err := ul.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save login: %w", err)
	}

	// Reuse the already-authenticated client instead of validating twice.
	tbClient := ul.Client.(*TumblrClient)
	tbClient.adoptClient(client)
	tbClient.Connect(ctx)

	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeComplete,
		StepID:       "fi.mau.tumblr.login.complete",
		Instructions: fmt.Sprintf("Logged in as %s", blog.Name),
		CompleteParams: &bridgev2.LoginCompleteParams{
			UserLoginID: loginID,
			UserLogin:   ul,
		},
	}, nil
}

// getLoginMeta is a helper to extract metadata from a UserLogin.
func getLoginMeta(login *bridgev2.UserLogin) *UserLoginMetadata {
	return login.Metadata.(*UserLoginMetadata)
}
