// Package snapshot keeps the current-entity read projection warm. The
// projection is an accelerator only: refresh failures are logged and never
// affect the write path.
package snapshot

import (
	"context"
	"log"
	"time"

	"github.com/akosyrev/chronicle/internal/repository"
)

// Refresher periodically rebuilds the snapshot projection.
type Refresher struct {
	store    repository.SnapshotStore
	interval time.Duration
}

func NewRefresher(store repository.SnapshotStore, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{store: store, interval: interval}
}

// Run refreshes once immediately, then on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[snapshot] refresher stopped")
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	start := time.Now()
	if err := r.store.Refresh(ctx); err != nil {
		log.Printf("[snapshot] refresh failed: %v", err)
		return
	}
	log.Printf("[snapshot] refreshed in %s", time.Since(start))
}
