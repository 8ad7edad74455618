// Package auth holds the per-platform session lifecycle managers. They are
// the only writers of the session store and publish a session-changed event
// after every successful mutation. A failed login or refresh never touches
// the stored state.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hyperyapper/internal/api"
	"hyperyapper/internal/events"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/store"
)

// mastodonSessionTTL bounds how long a stored Mastodon session is trusted
// before the user has to log in again.
const mastodonSessionTTL = 365 * 24 * time.Hour

// MastodonApp is the per-instance app registration obtained during login.
// It has to survive the OAuth redirect, so the web layer stashes it in the
// browser cookie session between StartLogin and CompleteLogin.
type MastodonApp struct {
	Instance     string
	ClientID     string
	ClientSecret string
	State        string
}

// MastodonAuth manages the Mastodon login lifecycle.
type MastodonAuth struct {
	client   *api.MastodonClient
	sessions *store.SessionStore
	changes  *events.Broadcaster
	baseURL  string
}

// NewMastodonAuth creates a lifecycle manager.
func NewMastodonAuth(client *api.MastodonClient, sessions *store.SessionStore, changes *events.Broadcaster, baseURL string) *MastodonAuth {
	return &MastodonAuth{client: client, sessions: sessions, changes: changes, baseURL: baseURL}
}

// RedirectURI returns the callback URL registered with instances.
func (ma *MastodonAuth) RedirectURI() string {
	return ma.baseURL + "/auth/mastodon/callback"
}

// StartLogin registers the app on the target instance and returns the
// authorization URL plus the registration the callback needs to finish the
// exchange.
func (ma *MastodonAuth) StartLogin(ctx context.Context, instance string) (authURL string, app *MastodonApp, err error) {
	instance = api.NormalizeInstanceURL(instance)
	reg, err := ma.client.RegisterApp(ctx, instance, ma.RedirectURI(), ma.baseURL)
	if err != nil {
		return "", nil, err
	}
	app = &MastodonApp{
		Instance:     instance,
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		State:        uuid.NewString(),
	}
	conf := ma.client.OAuthConfig(instance, app.ClientID, app.ClientSecret, ma.RedirectURI())
	return conf.AuthCodeURL(app.State), app, nil
}

// CompleteLogin exchanges the authorization code, snapshots the account's
// profile, and stores the session. The stored session is given a fixed
// expiry so stale tokens age out of the store on their own.
func (ma *MastodonAuth) CompleteLogin(ctx context.Context, app *MastodonApp, code string) (*models.MastodonSession, error) {
	conf := ma.client.OAuthConfig(app.Instance, app.ClientID, app.ClientSecret, ma.RedirectURI())
	token, err := ma.client.ExchangeCode(ctx, conf, code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.MastodonSession{
		Instance:    app.Instance,
		AccessToken: token.AccessToken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(mastodonSessionTTL),
	}
	account, err := ma.client.VerifyCredentials(ctx, session)
	if err != nil {
		return nil, err
	}
	session.UserID = string(account.ID)
	session.Username = account.Username
	session.DisplayName = account.DisplayName
	session.Avatar = account.Avatar

	if err := ma.sessions.SetMastodon(session); err != nil {
		return nil, err
	}
	ma.changes.Publish()
	logging.Info("Mastodon login completed for @%s on %s", session.Username, session.Instance)
	return session, nil
}

// Logout revokes the token best-effort and removes the stored session. A
// failed revocation does not keep the session around.
func (ma *MastodonAuth) Logout(ctx context.Context) error {
	session, err := ma.sessions.GetMastodon()
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	if err := ma.client.RevokeToken(ctx, session); err != nil {
		logging.Warn("Mastodon token revocation failed, removing session anyway: %v", err)
	}
	if err := ma.sessions.Remove(platforms.Mastodon); err != nil {
		return err
	}
	ma.changes.Publish()
	return nil
}
