// Package orchestrator fans one composition out to every selected platform
// concurrently and aggregates the per-platform results.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/platforms"
	"hyperyapper/internal/poster"
	"hyperyapper/internal/store"
)

// ProgressFunc receives intermediate status updates during a publish. Each
// platform reports at least twice: once when its attempt starts (posting)
// and once when it reaches a terminal state. The orchestrator serializes
// calls, so implementations need no locking of their own.
type ProgressFunc func(models.PostAttemptResult)

// Orchestrator dispatches compositions to the registered platform posters.
type Orchestrator struct {
	sessions *store.SessionStore
	posters  map[platforms.Platform]poster.Poster
}

// New creates an orchestrator over the given session store and posters.
func New(sessions *store.SessionStore, posters ...poster.Poster) *Orchestrator {
	m := make(map[platforms.Platform]poster.Poster, len(posters))
	for _, p := range posters {
		m[p.Platform()] = p
	}
	return &Orchestrator{sessions: sessions, posters: m}
}

// Publish posts the composition to every selected platform concurrently and
// blocks until all attempts finish. Platforms without a stored session are
// failed immediately without invoking their poster. Results come back in the
// order the platforms were selected, one result per platform, regardless of
// which attempt finished first. progress may be nil.
func (o *Orchestrator) Publish(ctx context.Context, content models.PostContent, progress ProgressFunc) models.PostOutcome {
	var mu sync.Mutex
	report := func(r models.PostAttemptResult) {
		if progress == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		progress(r)
	}

	sessions, err := o.sessions.All()
	if err != nil {
		logging.Error("orchestrator: could not load sessions: %v", err)
		sessions = &models.SessionSet{}
	}
	results := make([]models.PostAttemptResult, len(content.Platforms))

	var wg sync.WaitGroup
	for i, p := range content.Platforms {
		wg.Add(1)
		go func(idx int, p platforms.Platform) {
			defer wg.Done()
			results[idx] = o.dispatch(ctx, p, sessions, content, report)
		}(i, p)
	}
	wg.Wait()

	outcome := models.PostOutcome{Results: results}
	for _, r := range results {
		if !r.Success {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %s", r.Platform, r.Error))
		}
	}
	return outcome
}

// dispatch runs one platform's attempt. A panicking poster is contained
// here and reported as a failed result so one platform can never take the
// whole publish down.
func (o *Orchestrator) dispatch(ctx context.Context, p platforms.Platform, sessions *models.SessionSet, content models.PostContent, report ProgressFunc) (result models.PostAttemptResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("orchestrator: %s poster panicked: %v", p, r)
			result = models.PostAttemptResult{
				Platform: p,
				Status:   models.StatusFailed,
				Error:    fmt.Sprintf("internal error: %v", r),
			}
			report(result)
		}
	}()

	report(models.PostAttemptResult{Platform: p, Status: models.StatusPosting})

	pst, ok := o.posters[p]
	if !ok {
		result = models.PostAttemptResult{
			Platform: p,
			Status:   models.StatusFailed,
			Error:    fmt.Sprintf("no poster registered for %s", p),
		}
		report(result)
		return result
	}

	if !hasSession(sessions, p) {
		result = models.PostAttemptResult{
			Platform: p,
			Status:   models.StatusFailed,
			Error:    poster.NotConnectedMessage(p),
		}
		report(result)
		return result
	}

	result = pst.Post(ctx, sessions, content.Text, content.Images)
	report(result)
	return result
}

func hasSession(set *models.SessionSet, p platforms.Platform) bool {
	if set == nil {
		return false
	}
	switch p {
	case platforms.Mastodon:
		return set.Mastodon != nil
	case platforms.Threads:
		return set.Threads != nil
	case platforms.Bluesky:
		return set.Bluesky != nil && set.Bluesky.Active
	default:
		return false
	}
}
