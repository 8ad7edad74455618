package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

const sessionsStoreName = "sessions"

// SessionStore holds at most one auth session per platform, persisted as a
// single JSON document. It is mutated only by the lifecycle managers; the
// orchestrator and posters read it.
//
// Contract for mutators: the store does not manage subscriptions. Every call
// site of Set*/Remove must broadcast a session-changed event afterwards (see
// events.Broadcaster). Keeping the store free of UI dependencies is the
// point of this split.
//
// The mutex serializes the load-mutate-persist cycle. The background
// Threads token refresh writes while request handlers and the reply
// poller read, and pruning on load can itself write back.
type SessionStore struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time
}

// NewSessionStore creates a session store over the given backend.
func NewSessionStore(backend Backend) *SessionStore {
	return &SessionStore{backend: backend, now: time.Now}
}

// SetClock overrides the store's clock. Tests only.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.now = now
}

// load reads the persisted session set and lazily prunes expired entries.
// A pruned set is written back immediately, so an expired session is gone
// for good after the first load that sees it.
func (s *SessionStore) load() (*models.SessionSet, error) {
	data, err := s.backend.LoadStore(sessionsStoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	set := &models.SessionSet{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, set); err != nil {
			logging.Error("Corrupt session store, resetting: %v", err)
			set = &models.SessionSet{}
		}
	}

	if s.pruneExpired(set) {
		if err := s.persist(set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// pruneExpired drops sessions whose computed expiry is in the past and
// reports whether anything changed.
func (s *SessionStore) pruneExpired(set *models.SessionSet) bool {
	now := s.now()
	changed := false
	if m := set.Mastodon; m != nil && !m.ExpiresAt.IsZero() && m.ExpiresAt.Before(now) {
		logging.Info("Pruning expired Mastodon session for %s", m.Username)
		set.Mastodon = nil
		changed = true
	}
	if t := set.Threads; t != nil && t.ExpiresAt().Before(now) {
		logging.Info("Pruning expired Threads session for %s", t.UserInfo.Username)
		set.Threads = nil
		changed = true
	}
	if b := set.Bluesky; b != nil && !b.Active {
		logging.Info("Pruning inactive Bluesky session for %s", b.Handle)
		set.Bluesky = nil
		changed = true
	}
	return changed
}

func (s *SessionStore) persist(set *models.SessionSet) error {
	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}
	if err := s.backend.SaveStore(sessionsStoreName, data); err != nil {
		return fmt.Errorf("failed to persist sessions: %w", err)
	}
	return nil
}

// GetMastodon returns the stored Mastodon session, or nil.
func (s *SessionStore) GetMastodon() (*models.MastodonSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return nil, err
	}
	return set.Mastodon, nil
}

// GetThreads returns the stored Threads session, or nil.
func (s *SessionStore) GetThreads() (*models.ThreadsSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return nil, err
	}
	return set.Threads, nil
}

// GetBluesky returns the stored Bluesky session descriptor, or nil.
func (s *SessionStore) GetBluesky() (*models.BlueskySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return nil, err
	}
	return set.Bluesky, nil
}

// All returns the full pruned session set.
func (s *SessionStore) All() (*models.SessionSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// SetMastodon overwrites the Mastodon session and persists immediately.
func (s *SessionStore) SetMastodon(session *models.MastodonSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return err
	}
	set.Mastodon = session
	if err := s.persist(set); err != nil {
		return err
	}
	logging.Info("Saved Mastodon session for %s", session.Username)
	return nil
}

// SetThreads overwrites the Threads session and persists immediately.
func (s *SessionStore) SetThreads(session *models.ThreadsSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return err
	}
	set.Threads = session
	if err := s.persist(set); err != nil {
		return err
	}
	logging.Info("Saved Threads session for %s", session.UserInfo.Username)
	return nil
}

// SetBluesky overwrites the Bluesky session descriptor and persists
// immediately.
func (s *SessionStore) SetBluesky(session *models.BlueskySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return err
	}
	set.Bluesky = session
	if err := s.persist(set); err != nil {
		return err
	}
	logging.Info("Saved Bluesky session for %s", session.Handle)
	return nil
}

// Remove deletes the session for one platform and persists immediately.
func (s *SessionStore) Remove(p platforms.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return err
	}
	switch p {
	case platforms.Mastodon:
		set.Mastodon = nil
	case platforms.Threads:
		set.Threads = nil
	case platforms.Bluesky:
		set.Bluesky = nil
	default:
		return fmt.Errorf("no session storage for platform %s", p)
	}
	if err := s.persist(set); err != nil {
		return err
	}
	logging.Info("Removed %s session", p)
	return nil
}

// ConnectedPlatforms lists the platforms with a stored session, in the fixed
// enumeration order of platforms.All.
func (s *SessionStore) ConnectedPlatforms() ([]platforms.Platform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return nil, err
	}
	var connected []platforms.Platform
	for _, p := range platforms.All {
		switch p {
		case platforms.Mastodon:
			if set.Mastodon != nil {
				connected = append(connected, p)
			}
		case platforms.Threads:
			if set.Threads != nil {
				connected = append(connected, p)
			}
		case platforms.Bluesky:
			if set.Bluesky != nil {
				connected = append(connected, p)
			}
		}
	}
	return connected, nil
}

// IsValid reports whether the stored session for the platform is usable:
// Mastodon/Threads need a missing or future expiry, Bluesky needs its
// active flag.
func (s *SessionStore) IsValid(p platforms.Platform) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, err := s.load()
	if err != nil {
		return false, err
	}
	now := s.now()
	switch p {
	case platforms.Mastodon:
		m := set.Mastodon
		return m != nil && (m.ExpiresAt.IsZero() || m.ExpiresAt.After(now)), nil
	case platforms.Threads:
		t := set.Threads
		return t != nil && t.ExpiresAt().After(now), nil
	case platforms.Bluesky:
		b := set.Bluesky
		return b != nil && b.Active, nil
	}
	return false, nil
}
