package auth

import (
	"context"
	"strings"

	"hyperyapper/internal/api"
	"hyperyapper/internal/events"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/store"
)

// BlueskyAuth manages the Bluesky login lifecycle. Bluesky uses app
// passwords instead of an OAuth redirect: login is a direct credential
// exchange, and the resulting JWT pair lives in the credential vault keyed
// by DID while the session store only holds the account descriptor.
type BlueskyAuth struct {
	client   *api.BlueskyClient
	sessions *store.SessionStore
	changes  *events.Broadcaster
}

// NewBlueskyAuth creates a lifecycle manager.
func NewBlueskyAuth(client *api.BlueskyClient, sessions *store.SessionStore, changes *events.Broadcaster) *BlueskyAuth {
	return &BlueskyAuth{client: client, sessions: sessions, changes: changes}
}

// Login exchanges a handle and app password for a session. The identifier
// may be a bare handle, a DID, or a handle with a leading @.
func (ba *BlueskyAuth) Login(ctx context.Context, identifier, appPassword string) (*models.BlueskySession, error) {
	identifier = strings.TrimPrefix(identifier, "@")
	// Resolving first rejects a mistyped handle before the password is
	// sent anywhere.
	if !strings.HasPrefix(identifier, "did:") {
		if _, err := ba.client.ResolveHandle(ctx, identifier); err != nil {
			return nil, err
		}
	}
	did, handle, err := ba.client.CreateSession(ctx, identifier, appPassword)
	if err != nil {
		return nil, err
	}
	session := &models.BlueskySession{DID: did, Handle: handle, Active: true}
	if err := ba.sessions.SetBluesky(session); err != nil {
		return nil, err
	}
	ba.changes.Publish()
	logging.Info("Bluesky login completed for @%s (%s)", handle, did)
	return session, nil
}

// Logout drops the vaulted credentials and the stored descriptor.
func (ba *BlueskyAuth) Logout(ctx context.Context) error {
	session, err := ba.sessions.GetBluesky()
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	if err := ba.client.DeleteSession(session.DID); err != nil {
		logging.Warn("Failed to drop Bluesky credentials for %s: %v", session.DID, err)
	}
	if err := ba.sessions.Remove(platforms.Bluesky); err != nil {
		return err
	}
	ba.changes.Publish()
	return nil
}
