// Package replies fetches per-platform reply counts for published posts and
// caches them so the composer can poll cheaply.
package replies

import (
	"context"
	"fmt"
	"time"

	"hyperyapper/internal/api"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/store"
)

// cacheTTL is how long a fetched count is served from cache before the
// platform is asked again.
const cacheTTL = time.Minute

// snippetLength bounds the latest-reply preview.
const snippetLength = 120

// Summary is a reply count plus an optional preview of the newest reply.
type Summary struct {
	models.ReplyCount
	Latest string `json:"latest,omitempty"`
}

// Fetcher resolves reply counts against the platform APIs with a
// write-through cache.
type Fetcher struct {
	mastodon *api.MastodonClient
	threads  *api.ThreadsClient
	bluesky  *api.BlueskyClient
	sessions *store.SessionStore
	cache    *store.ReplyCache

	now func() time.Time
}

// NewFetcher creates a fetcher over the given clients and cache.
func NewFetcher(mastodon *api.MastodonClient, threads *api.ThreadsClient, bluesky *api.BlueskyClient, sessions *store.SessionStore, cache *store.ReplyCache) *Fetcher {
	return &Fetcher{
		mastodon: mastodon,
		threads:  threads,
		bluesky:  bluesky,
		sessions: sessions,
		cache:    cache,
		now:      time.Now,
	}
}

// Count returns the reply count for one published post, from cache when the
// cached value is fresh enough. A fetched count higher than the previously
// cached one flags the post as having unread replies.
func (f *Fetcher) Count(ctx context.Context, p platforms.Platform, postID string) (*Summary, error) {
	cached := f.cache.Get(p, postID)
	now := f.now()
	if cached != nil && now.Sub(cached.LastFetched) < cacheTTL {
		return &Summary{ReplyCount: *cached}, nil
	}

	count, latest, err := f.fetch(ctx, p, postID)
	if err != nil {
		if cached != nil {
			logging.Warn("Reply fetch for %s %s failed, serving stale count: %v", p, postID, err)
			return &Summary{ReplyCount: *cached}, nil
		}
		return nil, err
	}

	rc := models.ReplyCount{
		Platform:    p,
		PostID:      postID,
		Count:       count,
		LastFetched: now,
		HasUnread:   cached != nil && count > cached.Count,
	}
	f.cache.Set(p, postID, rc)
	return &Summary{ReplyCount: rc, Latest: latest}, nil
}

// MarkRead clears the unread flag without refetching.
func (f *Fetcher) MarkRead(p platforms.Platform, postID string) {
	cached := f.cache.Get(p, postID)
	if cached == nil || !cached.HasUnread {
		return
	}
	cached.HasUnread = false
	f.cache.Set(p, postID, *cached)
}

func (f *Fetcher) fetch(ctx context.Context, p platforms.Platform, postID string) (count int, latest string, err error) {
	switch p {
	case platforms.Mastodon:
		return f.fetchMastodon(ctx, postID)
	case platforms.Threads:
		return f.fetchThreads(ctx, postID)
	case platforms.Bluesky:
		return f.fetchBluesky(ctx, postID)
	default:
		return 0, "", fmt.Errorf("replies are not supported for %s", p)
	}
}

func (f *Fetcher) fetchMastodon(ctx context.Context, postID string) (int, string, error) {
	session, err := f.sessions.GetMastodon()
	if err != nil {
		return 0, "", err
	}
	if session == nil {
		return 0, "", fmt.Errorf("mastodon account not connected")
	}
	sctx, err := f.mastodon.GetStatusContext(ctx, session, postID)
	if err != nil {
		return 0, "", err
	}
	latest := ""
	if n := len(sctx.Descendants); n > 0 {
		latest = snippet(plainText(sctx.Descendants[n-1].Content), snippetLength)
	}
	return len(sctx.Descendants), latest, nil
}

func (f *Fetcher) fetchThreads(ctx context.Context, postID string) (int, string, error) {
	session, err := f.sessions.GetThreads()
	if err != nil {
		return 0, "", err
	}
	if session == nil {
		return 0, "", fmt.Errorf("threads account not connected")
	}
	count, err := f.threads.GetReplies(ctx, postID, session.AccessToken)
	if err != nil {
		return 0, "", err
	}
	return count, "", nil
}

func (f *Fetcher) fetchBluesky(ctx context.Context, postID string) (int, string, error) {
	session, err := f.sessions.GetBluesky()
	if err != nil {
		return 0, "", err
	}
	if session == nil {
		return 0, "", fmt.Errorf("bluesky account not connected")
	}
	client, err := f.bluesky.Restore(ctx, session.DID)
	if err != nil {
		return 0, "", err
	}
	if client == nil {
		return 0, "", fmt.Errorf("no stored bluesky credentials")
	}
	count, err := f.bluesky.GetPostThread(ctx, client, postID)
	if err != nil {
		return 0, "", err
	}
	return count, "", nil
}
