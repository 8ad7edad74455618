package replies

import (
	"context"
	"sync"
	"time"

	"hyperyapper/internal/logging"
	"hyperyapper/internal/models"
	"hyperyapper/internal/store"
)

// pollInterval is how often the poller sweeps the recorded posts.
const pollInterval = 5 * time.Minute

// Poller periodically refreshes the reply counts of every post recorded in
// the notification store, so the cache is warm when the composer asks.
type Poller struct {
	fetcher       *Fetcher
	notifications *store.Notifications
	interval      time.Duration
}

// NewPoller creates a poller over the given fetcher and notification store.
func NewPoller(fetcher *Fetcher, notifications *store.Notifications) *Poller {
	return &Poller{fetcher: fetcher, notifications: notifications, interval: pollInterval}
}

// Run sweeps immediately and then on every tick until the context is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	logging.Info("Starting reply poller, interval %s", p.interval)
	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep(ctx)
		case <-ctx.Done():
			logging.Info("Stopping reply poller.")
			return
		}
	}
}

// sweep refreshes every watched post, fanning out per post ref. Failures
// are logged and skipped, the next sweep retries them.
func (p *Poller) sweep(ctx context.Context) {
	var refs []models.PostRef
	for _, notification := range p.notifications.List() {
		refs = append(refs, notification.PostRefs...)
	}
	if len(refs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref models.PostRef) {
			defer wg.Done()
			if _, err := p.fetcher.Count(ctx, ref.Platform, ref.PostID); err != nil {
				logging.Warn("Reply sweep for %s %s failed: %v", ref.Platform, ref.PostID, err)
			}
		}(ref)
	}
	wg.Wait()
	logging.Debug("Reply sweep finished, %d posts checked", len(refs))
}
