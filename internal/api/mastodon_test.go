package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattn/go-mastodon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperyapper/internal/models"
)

func TestNormalizeInstanceURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mastodon.social", "https://mastodon.social"},
		{"mastodon.social/", "https://mastodon.social"},
		{"https://mastodon.social", "https://mastodon.social"},
		{"http://localhost:3000/", "http://localhost:3000"},
		{"  hachyderm.io  ", "https://hachyderm.io"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeInstanceURL(tt.in), tt.in)
	}
}

func TestMediaReady(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusPartialContent)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/media/42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		code := int(status.Load())
		w.WriteHeader(code)
		if code == http.StatusOK {
			w.Write([]byte(`{"url":"https://files.example.com/42.jpg"}`))
		}
	}))
	defer server.Close()

	msc := NewMastodonClient()
	msc.httpClient = server.Client()
	session := &models.MastodonSession{Instance: server.URL, AccessToken: "tok"}
	ctx := context.Background()

	// 206: still processing.
	ready, err := msc.mediaReady(ctx, session, "42")
	require.NoError(t, err)
	assert.False(t, ready)

	// 202: still processing.
	status.Store(http.StatusAccepted)
	ready, err = msc.mediaReady(ctx, session, "42")
	require.NoError(t, err)
	assert.False(t, ready)

	// 200 with url: done.
	status.Store(http.StatusOK)
	ready, err = msc.mediaReady(ctx, session, "42")
	require.NoError(t, err)
	assert.True(t, ready)

	// Hard error.
	status.Store(http.StatusUnprocessableEntity)
	_, err = msc.mediaReady(ctx, session, "42")
	assert.Error(t, err)
}

func TestMediaReadyEmptyURLNotReady(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"url":""}`))
	}))
	defer server.Close()

	msc := NewMastodonClient()
	msc.httpClient = server.Client()
	session := &models.MastodonSession{Instance: server.URL, AccessToken: "tok"}

	ready, err := msc.mediaReady(context.Background(), session, "42")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestRevokeToken(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth/revoke", r.URL.Path)
		require.NoError(t, r.ParseForm())
		gotToken = r.PostForm.Get("token")
	}))
	defer server.Close()

	msc := NewMastodonClient()
	msc.httpClient = server.Client()
	session := &models.MastodonSession{Instance: server.URL, AccessToken: "tok"}

	require.NoError(t, msc.RevokeToken(context.Background(), session))
	assert.Equal(t, "tok", gotToken)
}

func TestOAuthConfigEndpoints(t *testing.T) {
	msc := NewMastodonClient()
	conf := msc.OAuthConfig("mastodon.social", "cid", "csecret", "https://example.com/cb")

	assert.Equal(t, "https://mastodon.social/oauth/authorize", conf.Endpoint.AuthURL)
	assert.Equal(t, "https://mastodon.social/oauth/token", conf.Endpoint.TokenURL)
	assert.Equal(t, []string{"read", "write:statuses", "write:media"}, conf.Scopes)
	assert.Equal(t, "https://example.com/cb", conf.RedirectURL)
}

func TestUploadMediaPollsUntilReady(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media"):
			// Accepted but still processing: attachment comes back without
			// a URL, which sends the client into the status poll loop.
			w.Write([]byte(`{"id":"9","type":"image","url":""}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/media/9":
			if polls.Add(1) < 3 {
				w.WriteHeader(http.StatusPartialContent)
				return
			}
			w.Write([]byte(`{"url":"https://files.example.com/9.jpg"}`))
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	msc := NewMastodonClient()
	msc.httpClient = server.Client()
	msc.pollInterval = time.Millisecond
	session := &models.MastodonSession{Instance: server.URL, AccessToken: "tok"}

	id, err := msc.UploadMedia(context.Background(), session, models.ImageUpload{Filename: "a.jpg", Data: []byte("jpeg")})
	require.NoError(t, err)
	assert.Equal(t, mastodon.ID("9"), id)
	assert.Equal(t, int32(3), polls.Load())
}

func TestUploadMediaGivesUpWhenProcessingNeverFinishes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/media") {
			w.Write([]byte(`{"id":"9","type":"image","url":""}`))
			return
		}
		w.WriteHeader(http.StatusPartialContent)
	}))
	defer server.Close()

	msc := NewMastodonClient()
	msc.httpClient = server.Client()
	msc.pollInterval = time.Millisecond
	msc.pollAttempts = 3
	session := &models.MastodonSession{Instance: server.URL, AccessToken: "tok"}

	_, err := msc.UploadMedia(context.Background(), session, models.ImageUpload{Filename: "a.jpg", Data: []byte("jpeg")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not processed after 3 attempts")
}

func TestMediaPollBudget(t *testing.T) {
	// The poll budget bounds the total wait: interval * attempts.
	msc := NewMastodonClient()
	assert.Equal(t, time.Second, msc.pollInterval)
	assert.Equal(t, 30, msc.pollAttempts)
}
