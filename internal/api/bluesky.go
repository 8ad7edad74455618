package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	appbsky "github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/store"
)

// refreshLeeway triggers a token refresh when the access JWT is this close
// to its expiry.
const refreshLeeway = time.Minute

// vaultStoreName is the namespaced blob store holding the cryptographic
// session material, separate from the display-only session descriptors.
const vaultStoreName = "bluesky_vault"

// vaultEntry is the cryptographic session record for one DID.
type vaultEntry struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// BlueskyClient wraps the indigo XRPC client. The JWTs live in a DID-keyed
// vault owned by this client; the session records elsewhere in the system
// are thin descriptors that never hold tokens. Restoring by DID transparently
// refreshes a near-expiry access token.
type BlueskyClient struct {
	host    string
	backend store.Backend
}

// NewBlueskyClient creates a Bluesky client instance backed by the given
// PDS host and vault backend.
func NewBlueskyClient(host string, backend store.Backend) *BlueskyClient {
	logging.Info("Initializing Bluesky client for PDS %s", host)
	return &BlueskyClient{host: host, backend: backend}
}

func (bsc *BlueskyClient) newClient(auth *xrpc.AuthInfo) *xrpc.Client {
	return &xrpc.Client{
		Host: bsc.host,
		Auth: auth,
	}
}

// ---- Vault ----

func (bsc *BlueskyClient) loadVault() (map[string]vaultEntry, error) {
	data, err := bsc.backend.LoadStore(vaultStoreName)
	if err != nil {
		return nil, fmt.Errorf("failed to load bluesky vault: %w", err)
	}
	vault := map[string]vaultEntry{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &vault); err != nil {
			logging.Error("Corrupt bluesky vault, resetting: %v", err)
			return map[string]vaultEntry{}, nil
		}
	}
	return vault, nil
}

func (bsc *BlueskyClient) saveVault(vault map[string]vaultEntry) error {
	data, err := json.Marshal(vault)
	if err != nil {
		return fmt.Errorf("failed to marshal bluesky vault: %w", err)
	}
	if err := bsc.backend.SaveStore(vaultStoreName, data); err != nil {
		return fmt.Errorf("failed to persist bluesky vault: %w", err)
	}
	return nil
}

// ResolveHandle resolves a handle to its DID.
func (bsc *BlueskyClient) ResolveHandle(ctx context.Context, handle string) (string, error) {
	resp, err := comatproto.IdentityResolveHandle(ctx, bsc.newClient(nil), handle)
	if err != nil {
		return "", fmt.Errorf("failed to resolve handle %s: %w", handle, err)
	}
	return resp.Did, nil
}

// CreateSession authenticates against the PDS and stores the resulting
// session material in the vault, keyed by DID. Returns the DID and the
// canonical handle.
func (bsc *BlueskyClient) CreateSession(ctx context.Context, identifier, appPassword string) (did, handle string, err error) {
	logging.Info("Creating Bluesky session for %s", identifier)
	sess, err := comatproto.ServerCreateSession(ctx, bsc.newClient(nil), &comatproto.ServerCreateSession_Input{
		Identifier: identifier,
		Password:   appPassword,
	})
	if err != nil {
		logging.Error("Bluesky session creation failed for %s: %v", identifier, err)
		return "", "", fmt.Errorf("bluesky authentication failed: %w", err)
	}

	vault, err := bsc.loadVault()
	if err != nil {
		return "", "", err
	}
	vault[sess.Did] = vaultEntry{
		DID:        sess.Did,
		Handle:     sess.Handle,
		AccessJwt:  sess.AccessJwt,
		RefreshJwt: sess.RefreshJwt,
	}
	if err := bsc.saveVault(vault); err != nil {
		return "", "", err
	}

	logging.Info("Bluesky session created for %s (DID: %s)", sess.Handle, sess.Did)
	return sess.Did, sess.Handle, nil
}

// Restore returns an authenticated client for the given DID, refreshing the
// session first when the access token is expired or about to expire. Returns
// nil without error when the vault holds no entry for the DID.
func (bsc *BlueskyClient) Restore(ctx context.Context, did string) (*xrpc.Client, error) {
	vault, err := bsc.loadVault()
	if err != nil {
		return nil, err
	}
	entry, ok := vault[did]
	if !ok {
		return nil, nil
	}

	if jwtNearExpiry(entry.AccessJwt, refreshLeeway) {
		logging.Info("Bluesky access token for %s near expiry, refreshing", entry.Handle)
		refreshed, err := bsc.refreshSession(ctx, entry)
		if err != nil {
			if strings.Contains(err.Error(), "ExpiredToken") || strings.Contains(err.Error(), "InvalidToken") {
				return nil, fmt.Errorf("invalid or expired refresh token: %w", err)
			}
			return nil, err
		}
		vault[did] = *refreshed
		if err := bsc.saveVault(vault); err != nil {
			return nil, err
		}
		entry = *refreshed
	}

	return bsc.newClient(&xrpc.AuthInfo{
		AccessJwt:  entry.AccessJwt,
		RefreshJwt: entry.RefreshJwt,
		Handle:     entry.Handle,
		Did:        entry.DID,
	}), nil
}

// refreshSession exchanges the refresh JWT for a new token pair. The refresh
// endpoint authenticates with the refresh JWT in place of the access JWT.
func (bsc *BlueskyClient) refreshSession(ctx context.Context, entry vaultEntry) (*vaultEntry, error) {
	client := bsc.newClient(&xrpc.AuthInfo{
		AccessJwt:  entry.RefreshJwt,
		RefreshJwt: entry.RefreshJwt,
		Handle:     entry.Handle,
		Did:        entry.DID,
	})
	out, err := comatproto.ServerRefreshSession(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh Bluesky session: %w", err)
	}
	logging.Info("Refreshed Bluesky session for %s", out.Handle)
	return &vaultEntry{
		DID:        out.Did,
		Handle:     out.Handle,
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
	}, nil
}

// DeleteSession removes the vault entry for the DID.
func (bsc *BlueskyClient) DeleteSession(did string) error {
	vault, err := bsc.loadVault()
	if err != nil {
		return err
	}
	delete(vault, did)
	return bsc.saveVault(vault)
}

// VerifySession probes the PDS with the restored session.
func (bsc *BlueskyClient) VerifySession(ctx context.Context, did string) bool {
	client, err := bsc.Restore(ctx, did)
	if err != nil || client == nil {
		return false
	}
	if _, err := comatproto.ServerGetSession(ctx, client); err != nil {
		logging.Warn("Bluesky session verification failed for %s: %v", did, err)
		return false
	}
	return true
}

// ---- Posting ----

// UploadBlob uploads media data and returns the blob reference.
func (bsc *BlueskyClient) UploadBlob(ctx context.Context, client *xrpc.Client, data []byte) (*lexutil.LexBlob, error) {
	logging.Info("Uploading blob to Bluesky, size: %d", len(data))
	resp, err := comatproto.RepoUploadBlob(ctx, client, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to upload blob to Bluesky: %w", err)
	}
	return resp.Blob, nil
}

// CreatePost creates a post record with the given text and optional embed.
// Facets for links and mentions are detected before posting.
func (bsc *BlueskyClient) CreatePost(ctx context.Context, client *xrpc.Client, text string, embed *appbsky.FeedPost_Embed) (uri string, cid string, err error) {
	facets, err := bsc.detectFacets(ctx, client, text)
	if err != nil {
		logging.Error("Failed to detect facets: %v", err)
		facets = nil
	}

	post := &appbsky.FeedPost{
		LexiconTypeID: "app.bsky.feed.post",
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Text:          text,
		Embed:         embed,
		Facets:        facets,
	}

	res, err := comatproto.RepoCreateRecord(ctx, client, &comatproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       client.Auth.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		logging.Error("Failed to create Bluesky post: %v", err)
		return "", "", fmt.Errorf("failed to create Bluesky post: %w", err)
	}

	logging.Info("Posted to Bluesky: URI %s, CID %s", res.Uri, res.Cid)
	return res.Uri, res.Cid, nil
}

// GetPostThread fetches the thread around a post URI and returns the count
// of direct replies.
func (bsc *BlueskyClient) GetPostThread(ctx context.Context, client *xrpc.Client, uri string) (int, error) {
	out, err := appbsky.FeedGetPostThread(ctx, client, 1, 0, uri)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch Bluesky post thread: %w", err)
	}
	if out.Thread == nil || out.Thread.FeedDefs_ThreadViewPost == nil {
		return 0, nil
	}
	return len(out.Thread.FeedDefs_ThreadViewPost.Replies), nil
}

// detectFacets finds mentions and links in text and converts them to
// Bluesky facets. Byte offsets, not rune offsets: the lexicon indexes into
// UTF-8.
func (bsc *BlueskyClient) detectFacets(ctx context.Context, client *xrpc.Client, text string) ([]*appbsky.RichtextFacet, error) {
	var facets []*appbsky.RichtextFacet

	linkRegex := regexp.MustCompile(`(?i)\b(https?://[^\s<>\"')]+)`)
	mentionRegex := regexp.MustCompile(`(?i)(?:^|\s)(@([a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.(?:[a-zA-Z]{2,})+))\b`)

	for _, match := range linkRegex.FindAllStringSubmatchIndex(text, -1) {
		uri := text[match[0]:match[1]]
		facets = append(facets, &appbsky.RichtextFacet{
			Index: &appbsky.RichtextFacet_ByteSlice{
				ByteStart: int64(match[0]),
				ByteEnd:   int64(match[1]),
			},
			Features: []*appbsky.RichtextFacet_Features_Elem{
				{
					RichtextFacet_Link: &appbsky.RichtextFacet_Link{Uri: uri},
				},
			},
		})
	}

	for _, match := range mentionRegex.FindAllStringSubmatchIndex(text, -1) {
		handle := text[match[4]:match[5]]
		resp, err := comatproto.IdentityResolveHandle(ctx, client, handle)
		if err != nil {
			logging.Warn("Failed to resolve handle '%s': %v. Skipping mention facet.", handle, err)
			continue
		}
		facets = append(facets, &appbsky.RichtextFacet{
			Index: &appbsky.RichtextFacet_ByteSlice{
				ByteStart: int64(match[2]),
				ByteEnd:   int64(match[3]),
			},
			Features: []*appbsky.RichtextFacet_Features_Elem{
				{
					RichtextFacet_Mention: &appbsky.RichtextFacet_Mention{Did: resp.Did},
				},
			},
		})
	}

	return facets, nil
}

// PostURLFromURI synthesizes the public permalink from the author handle
// and the AT-URI's trailing rkey.
// URI format: at://did:plc:xxx/app.bsky.feed.post/rkey
func PostURLFromURI(handle, uri string) string {
	trimmed := strings.TrimPrefix(uri, "at://")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 {
		return ""
	}
	rkey := parts[len(parts)-1]
	if rkey == "" {
		return ""
	}
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey)
}

// jwtNearExpiry decodes the JWT payload's exp claim and reports whether it
// falls within the leeway from now. Undecodable tokens count as expired so
// the refresh path gets a chance to replace them.
func jwtNearExpiry(token string, leeway time.Duration) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return true
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return true
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return true
	}
	return time.Now().Add(leeway).After(time.Unix(claims.Exp, 0))
}
