package recovery

import (
	"context"
	"log"
	"time"
)

// RunJanitor periodically purges resolved snapshots older than the retention
// window. It blocks until ctx is cancelled.
func RunJanitor(ctx context.Context, store Store, interval, retention time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			cutoff := time.Now().UTC().Add(-retention)
			if n, err := store.PurgeResolved(ctx, cutoff); err != nil {
				log.Printf("recovery: janitor purge failed: %v", err)
			} else if n > 0 {
				log.Printf("recovery: purged %d resolved snapshots", n)
			}
			timer.Reset(interval)
		}
	}
}
