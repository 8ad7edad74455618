package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperyapper/internal/api"
	"hyperyapper/internal/auth"
	"hyperyapper/internal/config"
	"hyperyapper/internal/events"
	"hyperyapper/internal/models"
	"hyperyapper/internal/orchestrator"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/poster"
	"hyperyapper/internal/replies"
	"hyperyapper/internal/store"
)

type memBackend struct {
	data map[string][]byte
}

func (m *memBackend) LoadStore(name string) ([]byte, error) {
	return m.data[name], nil
}

func (m *memBackend) SaveStore(name string, data []byte) error {
	m.data[name] = data
	return nil
}

type stubPoster struct {
	platform platforms.Platform
	fail     bool
}

func (s *stubPoster) Platform() platforms.Platform { return s.platform }

func (s *stubPoster) Post(ctx context.Context, sessions *models.SessionSet, text string, images []models.ImageUpload) models.PostAttemptResult {
	if s.fail {
		return models.PostAttemptResult{Platform: s.platform, Status: models.StatusFailed, Error: "stub failure"}
	}
	return models.PostAttemptResult{
		Platform: s.platform,
		Status:   models.StatusCompleted,
		Success:  true,
		PostID:   "post-1",
		PostURL:  "https://example.com/post-1",
	}
}

func (s *stubPoster) VerifyConnection(ctx context.Context, sessions *models.SessionSet) bool {
	return !s.fail
}

type fixture struct {
	mux           *http.ServeMux
	sessions      *store.SessionStore
	notifications *store.Notifications
}

func newFixture(t *testing.T, posters ...poster.Poster) *fixture {
	t.Helper()
	backend := &memBackend{data: map[string][]byte{}}
	cfg := &config.Config{
		BaseURL:             "http://localhost:8080",
		CookieSecret:        "test-secret-test-secret-test-sec",
		ThreadsPublishDelay: time.Millisecond,
	}

	sessions := store.NewSessionStore(backend)
	replyCache := store.NewReplyCache(backend)
	emojis := store.NewEmojiHistory(backend)
	notifications := store.NewNotifications(backend)
	changes := events.NewBroadcaster()

	mastodonClient := api.NewMastodonClient()
	threadsClient := api.NewThreadsClient("", "")
	blueskyClient := api.NewBlueskyClient("https://bsky.social", backend)

	handler := NewHandler(cfg, HandlerDeps{
		Sessions:      sessions,
		Emojis:        emojis,
		Notifications: notifications,
		ReplyCache:    replyCache,
		Orchestrator:  orchestrator.New(sessions, posters...),
		MastodonAuth:  auth.NewMastodonAuth(mastodonClient, sessions, changes, cfg.BaseURL),
		ThreadsAuth:   auth.NewThreadsAuth(threadsClient, sessions, changes, cfg.BaseURL),
		BlueskyAuth:   auth.NewBlueskyAuth(blueskyClient, sessions, changes),
		Replies:       replies.NewFetcher(mastodonClient, threadsClient, blueskyClient, sessions, replyCache),
		Posters:       posters,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &fixture{mux: mux, sessions: sessions, notifications: notifications}
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestLimitsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.mux, http.MethodGet, "/api/limits?platforms=mastodon,bluesky", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		CharLimit int `json:"charLimit"`
		ImageCap  int `json:"imageCap"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 300, resp.CharLimit)
	assert.Equal(t, 4, resp.ImageCap)
}

func TestLimitsEndpointUnknownPlatform(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.mux, http.MethodGet, "/api/limits?platforms=myspace", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionsEndpointRedactsTokens(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sessions.SetMastodon(&models.MastodonSession{
		Instance:    "https://mastodon.social",
		AccessToken: "super-secret-token",
		Username:    "yapper",
	}))

	rec := doJSON(t, f.mux, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "yapper")
	assert.NotContains(t, body, "super-secret-token")

	var resp struct {
		Connected []platforms.Platform `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []platforms.Platform{platforms.Mastodon}, resp.Connected)
}

func TestPostEndpointValidation(t *testing.T) {
	f := newFixture(t, &stubPoster{platform: platforms.Mastodon})

	rec := doJSON(t, f.mux, http.MethodPost, "/api/post", map[string]any{
		"text": "hi", "platforms": []string{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.mux, http.MethodPost, "/api/post", map[string]any{
		"text": "hi", "platforms": []string{"myspace"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.mux, http.MethodPost, "/api/post", map[string]any{
		"text": "", "platforms": []string{"mastodon"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.mux, http.MethodPost, "/api/post", map[string]any{
		"text": strings.Repeat("x", 301), "platforms": []string{"bluesky"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEndpointStreamsProgress(t *testing.T) {
	f := newFixture(t,
		&stubPoster{platform: platforms.Mastodon},
		&stubPoster{platform: platforms.Bluesky, fail: true},
	)
	require.NoError(t, f.sessions.SetMastodon(&models.MastodonSession{Username: "m"}))
	require.NoError(t, f.sessions.SetBluesky(&models.BlueskySession{DID: "d", Handle: "h", Active: true}))

	rec := doJSON(t, f.mux, http.MethodPost, "/api/post", map[string]any{
		"text":      "hello world",
		"platforms": []string{"mastodon", "bluesky"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	type event struct {
		Type    string                    `json:"type"`
		Result  *models.PostAttemptResult `json:"result"`
		Outcome *models.PostOutcome       `json:"outcome"`
		Message string                    `json:"message"`
	}
	var lines []event
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var e event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines = append(lines, e)
	}
	require.NoError(t, scanner.Err())
	require.GreaterOrEqual(t, len(lines), 3)

	last := lines[len(lines)-1]
	assert.Equal(t, "outcome", last.Type)
	require.NotNil(t, last.Outcome)
	require.Len(t, last.Outcome.Results, 2)
	assert.Equal(t, platforms.Mastodon, last.Outcome.Results[0].Platform)
	assert.Equal(t, platforms.Bluesky, last.Outcome.Results[1].Platform)
	assert.True(t, last.Outcome.Results[0].Success)
	assert.False(t, last.Outcome.Results[1].Success)
	require.Len(t, last.Outcome.Errors, 1)
	assert.Equal(t, "bluesky: stub failure", last.Outcome.Errors[0])
	assert.Equal(t, "Posted to 1 of 2 platforms", last.Message)

	for _, e := range lines[:len(lines)-1] {
		assert.Equal(t, "progress", e.Type)
		require.NotNil(t, e.Result)
	}

	// A successful attempt leaves a notification behind for reply polling.
	list := f.notifications.List()
	require.Len(t, list, 1)
	assert.Equal(t, "hello world", list[0].Message)
	require.Len(t, list[0].PostRefs, 1)
	assert.Equal(t, platforms.Mastodon, list[0].PostRefs[0].Platform)
}

func TestEmojiEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.mux, http.MethodPost, "/api/emojis", map[string]string{"emoji": "🔥"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, f.mux, http.MethodGet, "/api/emojis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Emojis []string `json:"emojis"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"🔥"}, resp.Emojis)

	rec = doJSON(t, f.mux, http.MethodPost, "/api/emojis", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.mux, http.MethodDelete, "/api/emojis", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, f.mux, http.MethodGet, "/api/emojis", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Emojis)
}

func TestNotificationDelete(t *testing.T) {
	f := newFixture(t)
	f.notifications.Add(models.Notification{ID: "n1", Message: "hi"})

	rec := doJSON(t, f.mux, http.MethodDelete, "/api/notifications/n1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.notifications.List())
}

func TestRepliesMarkRead(t *testing.T) {
	f := newFixture(t)

	rec := doJSON(t, f.mux, http.MethodPost, "/api/replies/read", map[string]string{
		"platform": "mastodon", "postId": "123",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, f.mux, http.MethodPost, "/api/replies/read", map[string]string{
		"platform": "myspace", "postId": "123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpoint(t *testing.T) {
	f := newFixture(t, &stubPoster{platform: platforms.Mastodon})
	require.NoError(t, f.sessions.SetMastodon(&models.MastodonSession{Username: "m"}))

	rec := doJSON(t, f.mux, http.MethodGet, "/api/verify?platform=mastodon", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Connected bool `json:"connected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Connected)

	rec = doJSON(t, f.mux, http.MethodGet, "/api/verify?platform=threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Connected)
}

func TestBlueskyLoginValidation(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/bluesky/login", strings.NewReader("identifier=&appPassword="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutUnknownPlatform(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.mux, http.MethodPost, "/auth/myspace/logout", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThreadsLoginUnconfigured(t *testing.T) {
	f := newFixture(t)
	rec := doJSON(t, f.mux, http.MethodPost, "/auth/threads/login", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
