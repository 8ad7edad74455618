package models

import (
	"time"

	"hyperyapper/internal/platforms"
)

// MastodonSession is the stored auth state for a linked Mastodon account.
// Mastodon access tokens do not expire in practice; sessions are created
// with a far-future expiry so the store's pruning rule stays uniform.
type MastodonSession struct {
	Instance    string    `json:"instance"` // normalized base URL, e.g. "https://mastodon.social"
	AccessToken string    `json:"accessToken"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"` // zero means no expiry
}

// ThreadsUserInfo is the profile snapshot captured at login time.
type ThreadsUserInfo struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	ProfilePictureURL string `json:"profilePictureUrl,omitempty"`
	Biography         string `json:"biography,omitempty"`
}

// ThreadsSession is the stored auth state for a linked Threads account.
// The long-lived token carries a TTL in seconds from CreatedAt.
type ThreadsSession struct {
	AccessToken string          `json:"accessToken"`
	TokenType   string          `json:"tokenType"`
	ExpiresIn   int64           `json:"expiresIn"` // seconds
	UserInfo    ThreadsUserInfo `json:"userInfo"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ExpiresAt computes the absolute expiry of the stored token.
func (s *ThreadsSession) ExpiresAt() time.Time {
	return s.CreatedAt.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// RemainingTTL reports how long the token stays valid from now.
// Negative values mean the token already expired.
func (s *ThreadsSession) RemainingTTL(now time.Time) time.Duration {
	return s.ExpiresAt().Sub(now)
}

// BlueskySession is a thin descriptor of a linked Bluesky account, used for
// display and lookup only. The JWTs live in the DID-keyed session vault; this
// record never holds cryptographic material.
type BlueskySession struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
	Active bool   `json:"active"`
}

// SessionSet is the persisted collection of platform sessions: at most one
// per platform, serialized as a single JSON document.
type SessionSet struct {
	Mastodon *MastodonSession `json:"mastodon,omitempty"`
	Threads  *ThreadsSession  `json:"threads,omitempty"`
	Bluesky  *BlueskySession  `json:"bluesky,omitempty"`
}

// ImageUpload is a raw image attached to a composition.
type ImageUpload struct {
	Data        []byte `json:"-"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

// PostContent is one user-authored composition targeting a set of platforms.
type PostContent struct {
	Text      string               `json:"text"`
	Platforms []platforms.Platform `json:"platforms"`
	Images    []ImageUpload        `json:"images,omitempty"`
}

// PostStatus tracks the lifecycle of one platform's posting attempt.
type PostStatus string

const (
	StatusPending   PostStatus = "pending"
	StatusPosting   PostStatus = "posting"
	StatusCompleted PostStatus = "completed"
	StatusFailed    PostStatus = "failed"
)

// PostAttemptResult is the per-platform outcome of one posting attempt.
type PostAttemptResult struct {
	Platform platforms.Platform `json:"platform"`
	Status   PostStatus         `json:"status"`
	Success  bool               `json:"success"`
	PostID   string             `json:"postId,omitempty"`
	PostURL  string             `json:"postUrl,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// PostOutcome aggregates the per-platform results of one composition,
// ordered by the input platform list.
type PostOutcome struct {
	Results []PostAttemptResult `json:"results"`
	Errors  []string            `json:"errors"`
}

// OutcomeClass is the derived success classification, used only to pick a
// summary message. It is never stored.
type OutcomeClass int

const (
	AllSucceeded OutcomeClass = iota
	Partial
	AllFailed
)

// Classify derives the outcome class from the per-platform results.
func (o *PostOutcome) Classify() OutcomeClass {
	succeeded := 0
	for _, r := range o.Results {
		if r.Success {
			succeeded++
		}
	}
	switch {
	case succeeded == len(o.Results) && len(o.Results) > 0:
		return AllSucceeded
	case succeeded == 0:
		return AllFailed
	default:
		return Partial
	}
}

// SucceededCount returns how many platform attempts succeeded.
func (o *PostOutcome) SucceededCount() int {
	n := 0
	for _, r := range o.Results {
		if r.Success {
			n++
		}
	}
	return n
}

// ReplyCount is a cached reply counter for one published post.
type ReplyCount struct {
	Platform    platforms.Platform `json:"platform"`
	PostID      string             `json:"postId"`
	Count       int                `json:"count"`
	LastFetched time.Time          `json:"lastFetched"`
	HasUnread   bool               `json:"hasUnread"`
}

// PostRef points at one published post on one platform.
type PostRef struct {
	Platform platforms.Platform `json:"platform"`
	PostID   string             `json:"postId"`
	PostURL  string             `json:"postUrl,omitempty"`
}

// Notification records one published composition so the reply poller knows
// which posts to watch.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	PostRefs  []PostRef `json:"postRefs"`
	CreatedAt time.Time `json:"createdAt"`
}
