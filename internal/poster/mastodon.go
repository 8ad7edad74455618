package poster

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-mastodon"

	"hyperyapper/internal/api"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

// MastodonPoster publishes statuses to a Mastodon instance.
type MastodonPoster struct {
	client *api.MastodonClient
}

// NewMastodonPoster creates a poster backed by the given API client.
func NewMastodonPoster(client *api.MastodonClient) *MastodonPoster {
	return &MastodonPoster{client: client}
}

// Platform implements Poster.
func (mp *MastodonPoster) Platform() platforms.Platform {
	return platforms.Mastodon
}

// Post uploads images one at a time and then publishes the status. Image
// uploads tolerate partial failure: the status is posted as long as at least
// one requested image made it through. When every upload fails the whole post
// fails with the upload errors aggregated.
func (mp *MastodonPoster) Post(ctx context.Context, sessions *models.SessionSet, text string, images []models.ImageUpload) models.PostAttemptResult {
	sess := sessions.Mastodon
	if sess == nil {
		return failed(platforms.Mastodon, NotConnectedMessage(platforms.Mastodon))
	}

	var mediaIDs []mastodon.ID
	var uploadErrs []string
	for i, img := range images {
		id, err := mp.client.UploadMedia(ctx, sess, img)
		if err != nil {
			logging.Warn("mastodon: upload of image %d (%s) failed: %v", i+1, img.Filename, err)
			uploadErrs = append(uploadErrs, fmt.Sprintf("image %d: %v", i+1, err))
			continue
		}
		mediaIDs = append(mediaIDs, id)
	}
	if len(images) > 0 && len(mediaIDs) == 0 {
		return failed(platforms.Mastodon, "all image uploads failed: "+strings.Join(uploadErrs, "; "))
	}
	if len(uploadErrs) > 0 {
		logging.Warn("mastodon: posting with %d of %d images after upload failures", len(mediaIDs), len(images))
	}

	status, err := mp.client.PostStatus(ctx, sess, text, mediaIDs)
	if err != nil {
		return failed(platforms.Mastodon, err.Error())
	}
	return completed(platforms.Mastodon, string(status.ID), status.URL)
}

// VerifyConnection implements Poster.
func (mp *MastodonPoster) VerifyConnection(ctx context.Context, sessions *models.SessionSet) bool {
	sess := sessions.Mastodon
	if sess == nil {
		return false
	}
	return mp.client.VerifyConnection(ctx, sess)
}
