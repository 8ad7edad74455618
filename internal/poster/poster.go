package poster

import (
	"context"

	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
)

// Poster publishes one composition to one platform. Implementations never
// return errors: every failure is converted into a failed
// PostAttemptResult with a human-readable message, so callers only ever
// handle structured results.
type Poster interface {
	// Platform returns the platform this poster serves.
	Platform() platforms.Platform

	// Post publishes text and optional images using the platform's session
	// from the given set.
	Post(ctx context.Context, sessions *models.SessionSet, text string, images []models.ImageUpload) models.PostAttemptResult

	// VerifyConnection performs a lightweight authenticated probe.
	VerifyConnection(ctx context.Context, sessions *models.SessionSet) bool
}

// failed builds a terminal failed result.
func failed(p platforms.Platform, message string) models.PostAttemptResult {
	return models.PostAttemptResult{
		Platform: p,
		Status:   models.StatusFailed,
		Success:  false,
		Error:    message,
	}
}

// completed builds a terminal successful result.
func completed(p platforms.Platform, postID, postURL string) models.PostAttemptResult {
	return models.PostAttemptResult{
		Platform: p,
		Status:   models.StatusCompleted,
		Success:  true,
		PostID:   postID,
		PostURL:  postURL,
	}
}

// NotConnectedMessage is the error reported when a selected platform has no
// stored session.
func NotConnectedMessage(p platforms.Platform) string {
	return p.DisplayName() + " account not connected"
}
