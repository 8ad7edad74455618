package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"

	"github.com/mattn/go-mastodon"
	"golang.org/x/oauth2"
)

const (
	// MastodonScopes are requested at app registration and authorization.
	MastodonScopes = "read write:statuses write:media"

	// Media processing poll: the instance answers "still processing" by
	// returning an attachment without a URL. We poll its status until a
	// playable URL appears or the attempt budget runs out.
	mediaPollInterval    = time.Second
	mediaPollMaxAttempts = 30
)

// MastodonClient talks to arbitrary Mastodon instances. The instance base
// URL travels with the session, so the client itself is stateless and safe
// to share.
type MastodonClient struct {
	httpClient *http.Client

	pollInterval time.Duration
	pollAttempts int
}

// NewMastodonClient creates a new Mastodon API client.
func NewMastodonClient() *MastodonClient {
	return &MastodonClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: mediaPollInterval,
		pollAttempts: mediaPollMaxAttempts,
	}
}

// NormalizeInstanceURL turns user input like "mastodon.social/" into a
// proper base URL.
func NormalizeInstanceURL(instance string) string {
	u := strings.TrimSpace(instance)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return strings.TrimRight(u, "/")
}

// client builds a go-mastodon client bound to one session.
func (msc *MastodonClient) client(session *models.MastodonSession) *mastodon.Client {
	c := mastodon.NewClient(&mastodon.Config{
		Server:      session.Instance,
		AccessToken: session.AccessToken,
	})
	c.Client = *msc.httpClient
	return c
}

// RegisterApp registers this application against the target instance and
// returns the obtained client id/secret.
func (msc *MastodonClient) RegisterApp(ctx context.Context, instance, redirectURI, website string) (*mastodon.Application, error) {
	instanceURL := NormalizeInstanceURL(instance)
	logging.Info("Registering Mastodon app on %s", instanceURL)
	app, err := mastodon.RegisterApp(ctx, &mastodon.AppConfig{
		Server:       instanceURL,
		ClientName:   "HyperYapper",
		Scopes:       MastodonScopes,
		Website:      website,
		RedirectURIs: redirectURI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register app on %s: %w", instanceURL, err)
	}
	return app, nil
}

// OAuthConfig builds the oauth2 config for one instance and app
// registration.
func (msc *MastodonClient) OAuthConfig(instance, clientID, clientSecret, redirectURI string) *oauth2.Config {
	instanceURL := NormalizeInstanceURL(instance)
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       strings.Split(MastodonScopes, " "),
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("%s/oauth/authorize", instanceURL),
			TokenURL: fmt.Sprintf("%s/oauth/token", instanceURL),
		},
		RedirectURL: redirectURI,
	}
}

// ExchangeCode trades the authorization code for an access token.
func (msc *MastodonClient) ExchangeCode(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
	token, err := conf.Exchange(ctx, code)
	if err != nil {
		logging.Error("Mastodon OAuth token exchange failed: %v", err)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}
	return token, nil
}

// VerifyCredentials fetches the account behind the session's token.
func (msc *MastodonClient) VerifyCredentials(ctx context.Context, session *models.MastodonSession) (*mastodon.Account, error) {
	return msc.client(session).GetAccountCurrentUser(ctx)
}

// VerifyConnection performs a lightweight authenticated probe.
func (msc *MastodonClient) VerifyConnection(ctx context.Context, session *models.MastodonSession) bool {
	_, err := msc.VerifyCredentials(ctx, session)
	if err != nil {
		logging.Warn("Mastodon connection verification failed: %v", err)
		return false
	}
	return true
}

// UploadMedia uploads one image and waits until the instance reports a
// playable URL for it. An attachment without a URL means the media is still
// processing; its status is polled at a fixed interval up to a bounded
// attempt count.
func (msc *MastodonClient) UploadMedia(ctx context.Context, session *models.MastodonSession, image models.ImageUpload) (mastodon.ID, error) {
	logging.Info("Uploading media to Mastodon, size: %d, filename: %s", len(image.Data), image.Filename)

	attachment, err := msc.client(session).UploadMediaFromBytes(ctx, image.Data)
	if err != nil {
		return "", fmt.Errorf("failed to upload media to Mastodon: %w", err)
	}

	if attachment.URL != "" {
		logging.Info("Media uploaded to Mastodon: ID %s", attachment.ID)
		return attachment.ID, nil
	}

	logging.Info("Mastodon media %s still processing, polling status", attachment.ID)
	for attempt := 0; attempt < msc.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(msc.pollInterval):
		}

		ready, err := msc.mediaReady(ctx, session, string(attachment.ID))
		if err != nil {
			return "", err
		}
		if ready {
			logging.Info("Mastodon media %s finished processing after %d polls", attachment.ID, attempt+1)
			return attachment.ID, nil
		}
	}

	return "", fmt.Errorf("media %s not processed after %d attempts", attachment.ID, msc.pollAttempts)
}

// mediaReady checks the media status endpoint for a playable URL.
func (msc *MastodonClient) mediaReady(ctx context.Context, session *models.MastodonSession, mediaID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/api/v1/media/%s", session.Instance, url.PathEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create media status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)

	resp, err := msc.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to query media status: %w", err)
	}
	defer resp.Body.Close()

	// 206 means the media is still being processed.
	if resp.StatusCode == http.StatusPartialContent || resp.StatusCode == http.StatusAccepted {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("media status check failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode media status: %w", err)
	}
	return status.URL != "", nil
}

// PostStatus creates a public status, optionally with media attachments.
func (msc *MastodonClient) PostStatus(ctx context.Context, session *models.MastodonSession, text string, mediaIDs []mastodon.ID) (*mastodon.Status, error) {
	toot := &mastodon.Toot{
		Status:     text,
		Visibility: mastodon.VisibilityPublic,
	}
	if len(mediaIDs) > 0 {
		toot.MediaIDs = mediaIDs
	}

	status, err := msc.client(session).PostStatus(ctx, toot)
	if err != nil {
		logging.Error("Failed to post status to Mastodon: %v", err)
		return nil, fmt.Errorf("failed to post status to Mastodon: %w", err)
	}
	logging.Info("Posted status to Mastodon: ID %s, URL: %s", status.ID, status.URL)
	return status, nil
}

// GetStatusContext fetches the reply tree around one status.
func (msc *MastodonClient) GetStatusContext(ctx context.Context, session *models.MastodonSession, statusID string) (*mastodon.Context, error) {
	return msc.client(session).GetStatusContext(ctx, mastodon.ID(statusID))
}

// RevokeToken revokes the session's access token server-side. Best effort:
// callers swallow failures, a revoked-but-undetected token simply fails on
// next use.
func (msc *MastodonClient) RevokeToken(ctx context.Context, session *models.MastodonSession) error {
	endpoint := fmt.Sprintf("%s/oauth/revoke", session.Instance)
	body := strings.NewReader(url.Values{"token": {session.AccessToken}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := msc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token revocation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
