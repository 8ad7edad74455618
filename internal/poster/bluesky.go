package poster

import (
	"context"

	appbsky "github.com/bluesky-social/indigo/api/bsky"

	"hyperyapper/internal/api"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/media"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

// BlueskyPoster publishes posts to Bluesky over the AT Protocol.
type BlueskyPoster struct {
	client *api.BlueskyClient
}

// NewBlueskyPoster creates a poster backed by the given AT Protocol client.
func NewBlueskyPoster(client *api.BlueskyClient) *BlueskyPoster {
	return &BlueskyPoster{client: client}
}

// Platform implements Poster.
func (bp *BlueskyPoster) Platform() platforms.Platform {
	return platforms.Bluesky
}

// Post restores the stored session for the account's DID, uploads any images
// as blobs (recompressing them under the blob size limit first), and creates
// the post record. Unlike Mastodon, image handling is all or nothing: a
// single failed upload fails the whole post.
func (bp *BlueskyPoster) Post(ctx context.Context, sessions *models.SessionSet, text string, images []models.ImageUpload) models.PostAttemptResult {
	sess := sessions.Bluesky
	if sess == nil {
		return failed(platforms.Bluesky, NotConnectedMessage(platforms.Bluesky))
	}

	client, err := bp.client.Restore(ctx, sess.DID)
	if err != nil {
		return failed(platforms.Bluesky, "session restore failed: "+err.Error())
	}
	if client == nil {
		return failed(platforms.Bluesky, "no stored credentials, reconnect your account")
	}

	var embed *appbsky.FeedPost_Embed
	if len(images) > 0 {
		imgs := make([]*appbsky.EmbedImages_Image, 0, len(images))
		for _, img := range images {
			data, _, err := media.FitUnderLimit(img.Data, img.ContentType, media.MaxBlueskyImageBytes)
			if err != nil {
				return failed(platforms.Bluesky, "image processing failed: "+err.Error())
			}
			blob, err := bp.client.UploadBlob(ctx, client, data)
			if err != nil {
				return failed(platforms.Bluesky, "image upload failed: "+err.Error())
			}
			embedded := &appbsky.EmbedImages_Image{Image: blob}
			if w, h, err := media.AspectRatio(data); err == nil {
				embedded.AspectRatio = &appbsky.EmbedDefs_AspectRatio{Width: int64(w), Height: int64(h)}
			} else {
				logging.Warn("bluesky: could not determine aspect ratio for %s: %v", img.Filename, err)
			}
			imgs = append(imgs, embedded)
		}
		embed = &appbsky.FeedPost_Embed{
			EmbedImages: &appbsky.EmbedImages{Images: imgs},
		}
	}

	uri, _, err := bp.client.CreatePost(ctx, client, text, embed)
	if err != nil {
		return failed(platforms.Bluesky, err.Error())
	}
	return completed(platforms.Bluesky, uri, api.PostURLFromURI(sess.Handle, uri))
}

// VerifyConnection implements Poster.
func (bp *BlueskyPoster) VerifyConnection(ctx context.Context, sessions *models.SessionSet) bool {
	sess := sessions.Bluesky
	if sess == nil || !sess.Active {
		return false
	}
	return bp.client.VerifySession(ctx, sess.DID)
}
