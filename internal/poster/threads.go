package poster

import (
	"context"
	"time"

	"hyperyapper/internal/api"
	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

// ObjectStore is the slice of media.ObjectStore the Threads poster needs.
// Threads cannot ingest raw bytes, so images are staged at a public URL
// first and removed again once the publish attempt is over.
type ObjectStore interface {
	Upload(ctx context.Context, image models.ImageUpload) (publicURL, key string, err error)
	Delete(ctx context.Context, key string) error
}

// ThreadsPoster publishes posts via the Threads Graph API container flow.
type ThreadsPoster struct {
	client  *api.ThreadsClient
	objects ObjectStore

	// publishDelay is the wait between container creation and publish.
	// Threads rejects publishes against containers it has not finished
	// processing, so this is always observed, even for text-only posts.
	publishDelay time.Duration
}

// NewThreadsPoster creates a poster. objects may be nil, in which case image
// posts are rejected with a configuration error.
func NewThreadsPoster(client *api.ThreadsClient, objects ObjectStore, publishDelay time.Duration) *ThreadsPoster {
	return &ThreadsPoster{client: client, objects: objects, publishDelay: publishDelay}
}

// Platform implements Poster.
func (tp *ThreadsPoster) Platform() platforms.Platform {
	return platforms.Threads
}

// Post stages the image (if any) in object storage, creates a media
// container, waits the configured delay, publishes it, and finally removes
// the staged image again whether the publish succeeded or not.
func (tp *ThreadsPoster) Post(ctx context.Context, sessions *models.SessionSet, text string, images []models.ImageUpload) models.PostAttemptResult {
	sess := sessions.Threads
	if sess == nil {
		return failed(platforms.Threads, NotConnectedMessage(platforms.Threads))
	}

	var imageURL, imageKey string
	if len(images) > 0 {
		if tp.objects == nil {
			return failed(platforms.Threads, "image posting is not configured")
		}
		url, key, err := tp.objects.Upload(ctx, images[0])
		if err != nil {
			return failed(platforms.Threads, "image upload failed: "+err.Error())
		}
		imageURL, imageKey = url, key
	}
	if imageKey != "" {
		defer func() {
			if err := tp.objects.Delete(context.WithoutCancel(ctx), imageKey); err != nil {
				logging.Warn("threads: failed to clean up staged image %s: %v", imageKey, err)
			}
		}()
	}

	containerID, err := tp.client.CreateContainer(ctx, sess.UserInfo.ID, sess.AccessToken, text, imageURL)
	if err != nil {
		return failed(platforms.Threads, err.Error())
	}

	select {
	case <-time.After(tp.publishDelay):
	case <-ctx.Done():
		return failed(platforms.Threads, ctx.Err().Error())
	}

	postID, err := tp.client.PublishContainer(ctx, sess.UserInfo.ID, sess.AccessToken, containerID)
	if err != nil {
		return failed(platforms.Threads, err.Error())
	}

	return completed(platforms.Threads, postID, "https://www.threads.com/@"+sess.UserInfo.Username)
}

// VerifyConnection implements Poster.
func (tp *ThreadsPoster) VerifyConnection(ctx context.Context, sessions *models.SessionSet) bool {
	sess := sessions.Threads
	if sess == nil {
		return false
	}
	return tp.client.VerifyToken(ctx, sess.AccessToken)
}
