package jobs

import (
	"context"
	"log"
	"time"

	"scanmark/internal/config"
	"scanmark/internal/uploads"
)

// StartUploadCleanupJob periodically discards parked import workbooks whose
// preview was never confirmed.
func StartUploadCleanupJob(ctx context.Context, cfg config.Config, store *uploads.Store) {
	if store == nil {
		log.Printf("upload cleanup job disabled: upload store not configured")
		return
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	maxAge := cfg.UploadMaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.CleanupStale(maxAge)
				if err != nil {
					log.Printf("upload cleanup job error: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("upload cleanup job removed %d stale uploads", removed)
				}
			}
		}
	}()
}
