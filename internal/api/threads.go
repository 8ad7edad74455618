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
)

const (
	threadsGraphBaseURL = "https://graph.threads.net"
	threadsAuthBaseURL  = "https://threads.net"
	metaGraphBaseURL    = "https://graph.facebook.com/v23.0"

	// Threads long-lived tokens default to 60 days when the API omits
	// expires_in.
	threadsDefaultTTL = 60 * 24 * 60 * 60
)

// ThreadsToken is the token payload returned by the exchange and refresh
// endpoints.
type ThreadsToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// ThreadsClient talks to the Threads graph API. There is no Go SDK for it,
// so this is plain HTTP with the platform's error envelope decoded where
// parseable.
type ThreadsClient struct {
	httpClient *http.Client

	// Base URLs are fields so tests can point them at a local server.
	graphBaseURL string
	authBaseURL  string
	metaBaseURL  string

	appID     string
	appSecret string
}

// ThreadsClientOption adjusts a ThreadsClient at construction.
type ThreadsClientOption func(*ThreadsClient)

// WithThreadsBaseURLs points the client at alternate graph, authorization
// and Meta graph endpoints. Tests outside this package use it to run
// against a local server.
func WithThreadsBaseURLs(graph, auth, meta string) ThreadsClientOption {
	return func(tc *ThreadsClient) {
		tc.graphBaseURL = graph
		tc.authBaseURL = auth
		tc.metaBaseURL = meta
	}
}

// NewThreadsClient creates a Threads API client with the given Meta app
// credentials.
func NewThreadsClient(appID, appSecret string, opts ...ThreadsClientOption) *ThreadsClient {
	tc := &ThreadsClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		graphBaseURL: threadsGraphBaseURL,
		authBaseURL:  threadsAuthBaseURL,
		metaBaseURL:  metaGraphBaseURL,
		appID:        appID,
		appSecret:    appSecret,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Configured reports whether Meta app credentials are present.
func (tc *ThreadsClient) Configured() bool {
	return tc.appID != "" && tc.appSecret != ""
}

// AuthURL builds the authorization redirect for the given CSRF state.
func (tc *ThreadsClient) AuthURL(redirectURI, state string) string {
	q := url.Values{}
	q.Set("client_id", tc.appID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", "threads_basic,threads_content_publish")
	q.Set("response_type", "code")
	q.Set("state", state)
	return fmt.Sprintf("%s/oauth/authorize?%s", tc.authBaseURL, q.Encode())
}

// ExchangeCode trades the authorization code for a short-lived token.
func (tc *ThreadsClient) ExchangeCode(ctx context.Context, code, redirectURI string) (*ThreadsToken, error) {
	q := url.Values{}
	q.Set("client_id", tc.appID)
	q.Set("client_secret", tc.appSecret)
	q.Set("redirect_uri", redirectURI)
	q.Set("code", code)
	endpoint := fmt.Sprintf("%s/oauth/access_token?%s", tc.metaBaseURL, q.Encode())

	var token ThreadsToken
	if err := tc.getJSON(ctx, endpoint, &token); err != nil {
		return nil, fmt.Errorf("threads code exchange failed: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("threads code exchange returned no access token")
	}
	return &token, nil
}

// ExchangeLongLived trades a short-lived token for a long-lived one.
func (tc *ThreadsClient) ExchangeLongLived(ctx context.Context, shortLivedToken string) (*ThreadsToken, error) {
	q := url.Values{}
	q.Set("grant_type", "th_exchange_token")
	q.Set("client_secret", tc.appSecret)
	q.Set("access_token", shortLivedToken)
	endpoint := fmt.Sprintf("%s/access_token?%s", tc.graphBaseURL, q.Encode())

	var token ThreadsToken
	if err := tc.getJSON(ctx, endpoint, &token); err != nil {
		return nil, fmt.Errorf("threads long-lived exchange failed: %w", err)
	}
	tc.applyTokenDefaults(&token)
	return &token, nil
}

// RefreshToken refreshes a long-lived token before it expires.
func (tc *ThreadsClient) RefreshToken(ctx context.Context, accessToken string) (*ThreadsToken, error) {
	q := url.Values{}
	q.Set("grant_type", "th_refresh_token")
	q.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/refresh_access_token?%s", tc.graphBaseURL, q.Encode())

	var token ThreadsToken
	if err := tc.getJSON(ctx, endpoint, &token); err != nil {
		return nil, fmt.Errorf("threads token refresh failed: %w", err)
	}
	tc.applyTokenDefaults(&token)
	return &token, nil
}

func (tc *ThreadsClient) applyTokenDefaults(token *ThreadsToken) {
	if token.ExpiresIn == 0 {
		token.ExpiresIn = threadsDefaultTTL
	}
	if token.TokenType == "" {
		token.TokenType = "bearer"
	}
}

// GetUserInfo fetches the profile snapshot stored with the session.
func (tc *ThreadsClient) GetUserInfo(ctx context.Context, accessToken string) (*models.ThreadsUserInfo, error) {
	q := url.Values{}
	q.Set("fields", "id,username,name,threads_profile_picture_url,threads_biography")
	q.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/me?%s", tc.graphBaseURL, q.Encode())

	var raw struct {
		ID                string `json:"id"`
		Username          string `json:"username"`
		Name              string `json:"name"`
		ProfilePictureURL string `json:"threads_profile_picture_url"`
		Biography         string `json:"threads_biography"`
	}
	if err := tc.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("failed to get Threads user info: %w", err)
	}

	username := raw.Username
	if username == "" {
		username = raw.Name
	}
	return &models.ThreadsUserInfo{
		ID:                raw.ID,
		Username:          username,
		Name:              raw.Name,
		ProfilePictureURL: raw.ProfilePictureURL,
		Biography:         raw.Biography,
	}, nil
}

// CreateContainer creates a server-side staging container for the post.
// When imageURL is empty a TEXT container is created; otherwise an IMAGE
// container referencing the hosted URL. The Threads API only accepts hosted
// URLs, never raw bytes.
func (tc *ThreadsClient) CreateContainer(ctx context.Context, userID, accessToken, text, imageURL string) (string, error) {
	form := url.Values{}
	form.Set("access_token", accessToken)
	form.Set("text", text)
	if imageURL != "" {
		form.Set("media_type", "IMAGE")
		form.Set("image_url", imageURL)
	} else {
		form.Set("media_type", "TEXT")
	}

	endpoint := fmt.Sprintf("%s/%s/threads", tc.graphBaseURL, url.PathEscape(userID))
	var container struct {
		ID string `json:"id"`
	}
	if err := tc.postForm(ctx, endpoint, form, &container); err != nil {
		return "", fmt.Errorf("failed to create media container: %w", err)
	}
	if container.ID == "" {
		return "", fmt.Errorf("failed to create media container: empty id")
	}
	logging.Info("Created Threads container %s for user %s", container.ID, userID)
	return container.ID, nil
}

// PublishContainer publishes a previously created container and returns the
// native post id. Callers must wait out the publish delay first; publishing
// immediately after container creation fails intermittently on the Threads
// side.
func (tc *ThreadsClient) PublishContainer(ctx context.Context, userID, accessToken, containerID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", accessToken)

	endpoint := fmt.Sprintf("%s/%s/threads_publish", tc.graphBaseURL, url.PathEscape(userID))
	var published struct {
		ID string `json:"id"`
	}
	if err := tc.postForm(ctx, endpoint, form, &published); err != nil {
		return "", fmt.Errorf("failed to publish container: %w", err)
	}
	logging.Info("Published Threads container %s as post %s", containerID, published.ID)
	return published.ID, nil
}

// GetReplies fetches the direct replies to one post and returns their count.
func (tc *ThreadsClient) GetReplies(ctx context.Context, postID, accessToken string) (int, error) {
	q := url.Values{}
	q.Set("fields", "id,username,timestamp")
	q.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/%s/replies?%s", tc.graphBaseURL, url.PathEscape(postID), q.Encode())

	var raw struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := tc.getJSON(ctx, endpoint, &raw); err != nil {
		return 0, fmt.Errorf("failed to fetch Threads replies: %w", err)
	}
	return len(raw.Data), nil
}

// VerifyToken performs a lightweight authenticated probe.
func (tc *ThreadsClient) VerifyToken(ctx context.Context, accessToken string) bool {
	q := url.Values{}
	q.Set("fields", "id")
	q.Set("access_token", accessToken)
	endpoint := fmt.Sprintf("%s/me?%s", tc.graphBaseURL, q.Encode())

	var raw struct {
		ID string `json:"id"`
	}
	if err := tc.getJSON(ctx, endpoint, &raw); err != nil {
		logging.Warn("Threads token verification failed: %v", err)
		return false
	}
	return true
}

// getJSON performs a GET and decodes the response, translating the
// platform's error envelope.
func (tc *ThreadsClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req, out)
}

// postForm performs a form POST and decodes the response.
func (tc *ThreadsClient) postForm(ctx context.Context, endpoint string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return tc.do(req, out)
}

func (tc *ThreadsClient) do(req *http.Request, out interface{}) error {
	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s", threadsErrorMessage(resp, body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// threadsErrorMessage extracts a message from the Threads error envelope
// when parseable, else falls back to a generic HTTP description.
func threadsErrorMessage(resp *http.Response, body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.ErrorMessage != "" {
			return envelope.ErrorMessage
		}
	}
	return fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
