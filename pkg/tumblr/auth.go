// Copyright 2024-2026 Aiku AI

package tumblr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotLoggedIn is returned when an operation requires credentials and none
// have been set.
var ErrNotLoggedIn = errors.New("tumblr: not logged in")

// Credentials is the normalized OAuth token pair. ExpiresAt already includes
// the safety margin; a token is refreshed as soon as ExpiresAt passes.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenResponse is the duration-bearing form returned by the OAuth endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refreshFunc performs the actual token refresh HTTP call.
type refreshFunc func(ctx context.Context, refreshToken string) (*TokenResponse, error)

// CredentialStore owns the token pair. All reads go through EnsureFresh so
// an expired token is replaced before it is used; concurrent refreshes are
// collapsed into a single in-flight request. The mutex is never held across
// the refresh network call.
type CredentialStore struct {
	mu    sync.RWMutex
	creds *Credentials

	group    singleflight.Group
	refresh  refreshFunc
	onUpdate func(Credentials)
}

// NewCredentialStore creates a store. onUpdate is invoked after every
// successful refresh so the owner can persist the new session; it may be nil.
func NewCredentialStore(refresh refreshFunc, onUpdate func(Credentials)) *CredentialStore {
	return &CredentialStore{
		refresh:  refresh,
		onUpdate: onUpdate,
	}
}

// SetFromToken normalizes the duration-bearing OAuth response into absolute
// expiry, keeping the safety margin.
func (cs *CredentialStore) SetFromToken(tok *TokenResponse) Credentials {
	creds := Credentials{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		Scope:        tok.Scope,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - accessTokenMinTTL),
	}
	cs.Set(creds)
	return creds
}

// Set stores already-normalized credentials, e.g. from a restored session.
func (cs *CredentialStore) Set(creds Credentials) {
	cs.mu.Lock()
	c := creds
	cs.creds = &c
	cs.mu.Unlock()
}

// Get returns a copy of the current credentials.
func (cs *CredentialStore) Get() (Credentials, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.creds == nil {
		return Credentials{}, false
	}
	return *cs.creds, true
}

// EnsureFresh returns a usable access token, refreshing first if the stored
// one has expired. The unexpired path takes no locks beyond the read and
// makes no network calls. When a refresh is needed, exactly one HTTP request
// is in flight regardless of caller count; every waiter gets the same
// result, and a failure is surfaced to all of them without being retried.
func (cs *CredentialStore) EnsureFresh(ctx context.Context) (string, error) {
	cs.mu.RLock()
	if cs.creds == nil {
		cs.mu.RUnlock()
		return "", ErrNotLoggedIn
	}
	if cs.creds.ExpiresAt.After(time.Now()) {
		token := cs.creds.AccessToken
		cs.mu.RUnlock()
		return token, nil
	}
	refreshToken := cs.creds.RefreshToken
	cs.mu.RUnlock()

	// singleflight clears the in-flight marker on every exit path, so a
	// failed refresh cannot wedge later attempts.
	result, err, _ := cs.group.Do("refresh", func() (any, error) {
		tok, err := cs.refresh(ctx, refreshToken)
		if err != nil {
			return nil, fmt.Errorf("failed to renew access token: %w", err)
		}
		creds := cs.SetFromToken(tok)
		if cs.onUpdate != nil {
			cs.onUpdate(creds)
		}
		return creds.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
