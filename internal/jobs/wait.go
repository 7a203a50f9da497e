package jobs

import (
	"context"
	"fmt"
	"time"
)

// WaitForJobs polls store until every job in ids reached a terminal status
// and returns them in the order of ids.
func WaitForJobs(ctx context.Context, store JobStore, ids []string, interval time.Duration) ([]*ConvertFileJob, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done := make([]*ConvertFileJob, 0, len(ids))
		for _, id := range ids {
			job, err := store.GetJob(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("WaitForJobs: %w", err)
			}
			if !job.Status.IsTerminal() {
				break
			}
			done = append(done, job)
		}
		if len(done) == len(ids) {
			return done, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("WaitForJobs: %d of %d jobs finished: %w", len(done), len(ids), ctx.Err())
		case <-ticker.C:
		}
	}
}
