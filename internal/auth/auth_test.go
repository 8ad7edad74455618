package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperyapper/internal/api"
	"hyperyapper/internal/events"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/store"
)

type memBackend struct {
	data map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{data: map[string][]byte{}}
}

func (m *memBackend) LoadStore(name string) ([]byte, error) {
	return m.data[name], nil
}

func (m *memBackend) SaveStore(name string, data []byte) error {
	m.data[name] = data
	return nil
}

func TestMastodonRedirectURI(t *testing.T) {
	ma := NewMastodonAuth(api.NewMastodonClient(), store.NewSessionStore(newMemBackend()), events.NewBroadcaster(), "https://yap.example.com")
	assert.Equal(t, "https://yap.example.com/auth/mastodon/callback", ma.RedirectURI())
}

func TestMastodonLogoutWithoutSessionDoesNotPublish(t *testing.T) {
	changes := events.NewBroadcaster()
	published := 0
	changes.Subscribe(func() { published++ })

	ma := NewMastodonAuth(api.NewMastodonClient(), store.NewSessionStore(newMemBackend()), changes, "http://localhost:8080")
	require.NoError(t, ma.Logout(context.Background()))
	assert.Equal(t, 0, published)
}

func TestThreadsStartLoginUnconfigured(t *testing.T) {
	ta := NewThreadsAuth(api.NewThreadsClient("", ""), store.NewSessionStore(newMemBackend()), events.NewBroadcaster(), "http://localhost:8080")
	_, _, err := ta.StartLogin()
	assert.Error(t, err)
}

func TestThreadsStartLoginBuildsURLWithState(t *testing.T) {
	ta := NewThreadsAuth(api.NewThreadsClient("app-id", "secret"), store.NewSessionStore(newMemBackend()), events.NewBroadcaster(), "http://localhost:8080")

	authURL, state, err := ta.StartLogin()
	require.NoError(t, err)
	assert.NotEmpty(t, state)
	assert.Contains(t, authURL, "state="+state)
	assert.Contains(t, authURL, "threads_content_publish")
}

func TestThreadsEnsureFreshSkipsHealthyToken(t *testing.T) {
	backend := newMemBackend()
	sessions := store.NewSessionStore(backend)
	ta := NewThreadsAuth(api.NewThreadsClient("id", "secret"), sessions, events.NewBroadcaster(), "http://localhost:8080")

	now := time.Now()
	ta.now = func() time.Time { return now }
	require.NoError(t, sessions.SetThreads(&models.ThreadsSession{
		AccessToken: "healthy",
		ExpiresIn:   int64((48 * time.Hour).Seconds()),
		CreatedAt:   now,
	}))

	ta.EnsureFresh(context.Background())

	got, err := sessions.GetThreads()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "healthy", got.AccessToken, "a token with more than a day left is not refreshed")
}

func TestThreadsEnsureFreshSkipsExpiredToken(t *testing.T) {
	backend := newMemBackend()
	sessions := store.NewSessionStore(backend)
	ta := NewThreadsAuth(api.NewThreadsClient("id", "secret"), sessions, events.NewBroadcaster(), "http://localhost:8080")

	// A token past its expiry is pruned on load; EnsureFresh must treat the
	// missing session as nothing to do rather than attempting a refresh.
	now := time.Now()
	ta.now = func() time.Time { return now }
	require.NoError(t, sessions.SetThreads(&models.ThreadsSession{
		AccessToken: "dead",
		ExpiresIn:   60,
		CreatedAt:   now.Add(-time.Hour),
	}))

	assert.NotPanics(t, func() { ta.EnsureFresh(context.Background()) })
}

func TestThreadsEnsureFreshRefreshesExpiringToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/refresh_access_token", r.URL.Path)
		assert.Equal(t, "th_refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "stale", r.URL.Query().Get("access_token"))
		w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","expires_in":5184000}`))
	}))
	defer server.Close()

	sessions := store.NewSessionStore(newMemBackend())
	changes := events.NewBroadcaster()
	var published atomic.Int32
	changes.Subscribe(func() { published.Add(1) })

	client := api.NewThreadsClient("id", "secret", api.WithThreadsBaseURLs(server.URL, server.URL, server.URL))
	ta := NewThreadsAuth(client, sessions, changes, "http://localhost:8080")

	// Two hours left is inside the refresh window.
	now := time.Now()
	ta.now = func() time.Time { return now }
	require.NoError(t, sessions.SetThreads(&models.ThreadsSession{
		AccessToken: "stale",
		ExpiresIn:   int64((2 * time.Hour).Seconds()),
		CreatedAt:   now,
	}))

	ta.EnsureFresh(context.Background())

	require.Eventually(t, func() bool {
		got, err := sessions.GetThreads()
		return err == nil && got != nil && got.AccessToken == "fresh"
	}, 5*time.Second, 10*time.Millisecond, "background refresh should store the new token")

	got, err := sessions.GetThreads()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(5184000), got.ExpiresIn)
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)
	assert.GreaterOrEqual(t, published.Load(), int32(1), "a stored refresh broadcasts a session change")
}

func TestThreadsEnsureFreshKeepsTokenWhenRefreshFails(t *testing.T) {
	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"token not refreshable"}}`))
	}))
	defer server.Close()

	sessions := store.NewSessionStore(newMemBackend())
	changes := events.NewBroadcaster()
	var published atomic.Int32
	changes.Subscribe(func() { published.Add(1) })

	client := api.NewThreadsClient("id", "secret", api.WithThreadsBaseURLs(server.URL, server.URL, server.URL))
	ta := NewThreadsAuth(client, sessions, changes, "http://localhost:8080")

	now := time.Now()
	ta.now = func() time.Time { return now }
	require.NoError(t, sessions.SetThreads(&models.ThreadsSession{
		AccessToken: "stale",
		ExpiresIn:   int64((2 * time.Hour).Seconds()),
		CreatedAt:   now,
	}))

	ta.EnsureFresh(context.Background())

	require.Eventually(t, func() bool {
		return refreshes.Load() == 1
	}, 5*time.Second, 10*time.Millisecond, "the refresh attempt should reach the server")

	// The failure path never writes, so the stale token stays usable.
	got, err := sessions.GetThreads()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "stale", got.AccessToken)
	assert.Equal(t, int32(0), published.Load())
}

func TestThreadsLogoutPublishes(t *testing.T) {
	changes := events.NewBroadcaster()
	published := 0
	changes.Subscribe(func() { published++ })

	sessions := store.NewSessionStore(newMemBackend())
	require.NoError(t, sessions.SetThreads(&models.ThreadsSession{
		AccessToken: "tok", ExpiresIn: 5184000, CreatedAt: time.Now(),
	}))

	ta := NewThreadsAuth(api.NewThreadsClient("id", "secret"), sessions, changes, "http://localhost:8080")
	require.NoError(t, ta.Logout())

	assert.Equal(t, 1, published)
	got, err := sessions.GetThreads()
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBlueskyLogoutRemovesDescriptorAndVault(t *testing.T) {
	backend := newMemBackend()
	sessions := store.NewSessionStore(backend)
	changes := events.NewBroadcaster()
	published := 0
	changes.Subscribe(func() { published++ })

	client := api.NewBlueskyClient("https://bsky.social", backend)
	ba := NewBlueskyAuth(client, sessions, changes)

	require.NoError(t, sessions.SetBluesky(&models.BlueskySession{
		DID: "did:plc:abc", Handle: "h.bsky.social", Active: true,
	}))

	require.NoError(t, ba.Logout(context.Background()))

	assert.Equal(t, 1, published)
	got, err := sessions.GetBluesky()
	require.NoError(t, err)
	assert.Nil(t, got)

	connected, err := sessions.ConnectedPlatforms()
	require.NoError(t, err)
	assert.NotContains(t, connected, platforms.Bluesky)
}

func TestBlueskyLogoutWithoutSessionIsNoop(t *testing.T) {
	backend := newMemBackend()
	ba := NewBlueskyAuth(api.NewBlueskyClient("https://bsky.social", backend), store.NewSessionStore(backend), events.NewBroadcaster())
	require.NoError(t, ba.Logout(context.Background()))
}
