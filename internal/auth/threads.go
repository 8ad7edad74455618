package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hyperyapper/internal/api"
	"hyperyapper/internal/events"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/store"
)

// threadsRefreshThreshold is the remaining token lifetime below which a
// background refresh is kicked off. An already expired token is not
// refreshed, the refresh endpoint rejects it anyway.
const threadsRefreshThreshold = 24 * time.Hour

// ThreadsAuth manages the Threads login lifecycle.
type ThreadsAuth struct {
	client   *api.ThreadsClient
	sessions *store.SessionStore
	changes  *events.Broadcaster
	baseURL  string

	now func() time.Time
}

// NewThreadsAuth creates a lifecycle manager.
func NewThreadsAuth(client *api.ThreadsClient, sessions *store.SessionStore, changes *events.Broadcaster, baseURL string) *ThreadsAuth {
	return &ThreadsAuth{client: client, sessions: sessions, changes: changes, baseURL: baseURL, now: time.Now}
}

// Configured reports whether Meta app credentials are present.
func (ta *ThreadsAuth) Configured() bool {
	return ta.client.Configured()
}

// RedirectURI returns the callback URL registered with the Meta app.
func (ta *ThreadsAuth) RedirectURI() string {
	return ta.baseURL + "/auth/threads/callback"
}

// StartLogin returns the authorization URL and the CSRF state the callback
// must echo back.
func (ta *ThreadsAuth) StartLogin() (authURL, state string, err error) {
	if !ta.Configured() {
		return "", "", fmt.Errorf("threads login is not configured")
	}
	state = uuid.NewString()
	return ta.client.AuthURL(ta.RedirectURI(), state), state, nil
}

// CompleteLogin exchanges the code for a short-lived token, upgrades it to a
// long-lived one, fetches the profile, and stores the session.
func (ta *ThreadsAuth) CompleteLogin(ctx context.Context, code string) (*models.ThreadsSession, error) {
	short, err := ta.client.ExchangeCode(ctx, code, ta.RedirectURI())
	if err != nil {
		return nil, err
	}
	long, err := ta.client.ExchangeLongLived(ctx, short.AccessToken)
	if err != nil {
		return nil, err
	}
	info, err := ta.client.GetUserInfo(ctx, long.AccessToken)
	if err != nil {
		return nil, err
	}

	session := &models.ThreadsSession{
		AccessToken: long.AccessToken,
		TokenType:   long.TokenType,
		ExpiresIn:   long.ExpiresIn,
		UserInfo:    *info,
		CreatedAt:   ta.now(),
	}
	if err := ta.sessions.SetThreads(session); err != nil {
		return nil, err
	}
	ta.changes.Publish()
	logging.Info("Threads login completed for @%s", info.Username)
	return session, nil
}

// EnsureFresh triggers a background token refresh when the stored token is
// close to expiry. It returns immediately; a failed refresh is logged and
// the old token stays in place until it ages out.
func (ta *ThreadsAuth) EnsureFresh(ctx context.Context) {
	session, err := ta.sessions.GetThreads()
	if err != nil || session == nil {
		return
	}
	remaining := session.RemainingTTL(ta.now())
	if remaining <= 0 || remaining >= threadsRefreshThreshold {
		return
	}

	// The refresh outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)
	go func() {
		refreshed, err := ta.client.RefreshToken(ctx, session.AccessToken)
		if err != nil {
			logging.Warn("Threads token refresh failed, keeping current token: %v", err)
			return
		}
		session.AccessToken = refreshed.AccessToken
		session.TokenType = refreshed.TokenType
		session.ExpiresIn = refreshed.ExpiresIn
		session.CreatedAt = ta.now()
		if err := ta.sessions.SetThreads(session); err != nil {
			logging.Error("Failed to store refreshed Threads token: %v", err)
			return
		}
		ta.changes.Publish()
		logging.Info("Threads token refreshed, valid for %s", session.RemainingTTL(ta.now()))
	}()
}

// Logout removes the stored session. Threads has no token revocation
// endpoint, the token simply ages out on Meta's side.
func (ta *ThreadsAuth) Logout() error {
	if err := ta.sessions.Remove(platforms.Threads); err != nil {
		return err
	}
	ta.changes.Publish()
	return nil
}
