package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/qfx2qif/internal/jobs"
	"github.com/dvloznov/qfx2qif/internal/logger"
)

func TestStore_SaveAndGetReturnCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	started := time.Now()

	job := &jobs.ConvertFileJob{JobID: "j1", InputURI: "a.qfx", Status: jobs.JobStatusPending, StartedAt: &started}
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	job.Status = jobs.JobStatusFailed

	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("stored job changed through caller pointer: %s", got.Status)
	}
	*got.StartedAt = time.Time{}

	again, _ := store.GetJob(ctx, "j1")
	if again.StartedAt.IsZero() {
		t.Error("stored timestamp changed through returned pointer")
	}
}

func TestStore_Errors(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	if err := store.SaveJob(ctx, &jobs.ConvertFileJob{}); err == nil {
		t.Error("expected error for empty job ID")
	}
	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob err = %v, want ErrJobNotFound", err)
	}
	if err := store.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("UpdateJobStatus err = %v, want ErrJobNotFound", err)
	}
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.ConvertFileJob{
		{JobID: "c", InputURI: "a.qfx", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute)},
		{JobID: "a", InputURI: "a.qfx", Status: jobs.JobStatusFailed, CreatedAt: base},
		{JobID: "b", InputURI: "b.qfx", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(time.Minute)},
	} {
		if err := store.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob %d: %v", i, err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{name: "all ordered by creation", filter: jobs.JobFilter{}, want: []string{"a", "b", "c"}},
		{name: "by input", filter: jobs.JobFilter{InputURI: "a.qfx"}, want: []string{"a", "c"}},
		{name: "by status", filter: jobs.JobFilter{Status: jobs.JobStatusCompleted}, want: []string{"b", "c"}},
		{name: "limit", filter: jobs.JobFilter{Limit: 2}, want: []string{"a", "b"}},
		{name: "offset", filter: jobs.JobFilter{Offset: 1, Limit: 1}, want: []string{"b"}},
		{name: "offset past end", filter: jobs.JobFilter{Offset: 5}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d jobs, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].JobID != id {
					t.Errorf("job[%d] = %s, want %s", i, got[i].JobID, id)
				}
			}
		})
	}
}

func quietContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), zerolog.Nop()))
	t.Cleanup(cancel)
	return ctx
}

func startQueue(t *testing.T, handler jobs.JobHandler) (*Queue, *Store, context.Context) {
	t.Helper()
	store := NewStore()
	queue := NewQueue(10, 2, store)
	queue.RetryBackoff = func(int) time.Duration { return time.Millisecond }

	ctx := quietContext(t)
	if err := queue.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = queue.Close() })
	return queue, store, ctx
}

func waitFor(t *testing.T, ctx context.Context, store *Store, id string) *jobs.ConvertFileJob {
	t.Helper()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	done, err := jobs.WaitForJobs(waitCtx, store, []string{id}, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForJobs: %v", err)
	}
	return done[0]
}

func TestQueue_CompletesJob(t *testing.T) {
	queue, store, ctx := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		job.(*jobs.ConvertFileJob).TransactionCount = 7
		return nil
	})

	job := &jobs.ConvertFileJob{InputURI: "a.qfx"}
	if err := queue.PublishConvertFile(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries || job.CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", job)
	}

	got := waitFor(t, ctx, store, job.JobID)
	if got.Status != jobs.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.TransactionCount != 7 {
		t.Errorf("handler result not stored: %d", got.TransactionCount)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not set")
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	queue, store, ctx := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	job := &jobs.ConvertFileJob{InputURI: "a.qfx"}
	if err := queue.PublishConvertFile(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitFor(t, ctx, store, job.JobID)
	if got.Status != jobs.JobStatusCompleted || got.RetryCount != 2 {
		t.Errorf("got status %s after %d retries, want completed after 2", got.Status, got.RetryCount)
	}
	if got.Error != "" {
		t.Errorf("Error = %q, want cleared", got.Error)
	}
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	queue, store, ctx := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("still broken")
	})

	job := &jobs.ConvertFileJob{InputURI: "a.qfx", MaxRetries: 2}
	if err := queue.PublishConvertFile(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitFor(t, ctx, store, job.JobID)
	if got.Status != jobs.JobStatusFailed || got.Error != "still broken" {
		t.Errorf("got %s %q", got.Status, got.Error)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestQueue_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	queue, store, ctx := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return jobs.Permanent(errors.New("input missing"))
	})

	job := &jobs.ConvertFileJob{InputURI: "a.qfx"}
	if err := queue.PublishConvertFile(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitFor(t, ctx, store, job.JobID)
	if got.Status != jobs.JobStatusFailed || got.RetryCount != 0 {
		t.Errorf("got %s with %d retries", got.Status, got.RetryCount)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
}

func TestQueue_Closed(t *testing.T) {
	queue := NewQueue(1, 1, NewStore())
	if err := queue.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := queue.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if err := queue.PublishConvertFile(context.Background(), &jobs.ConvertFileJob{}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Publish err = %v, want ErrQueueClosed", err)
	}
	if err := queue.Start(context.Background(), nil); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Start err = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_PublishedJobStaysWithCaller(t *testing.T) {
	queue, store, ctx := startQueue(t, func(ctx context.Context, job jobs.Job) error {
		j := job.(*jobs.ConvertFileJob)
		j.TransactionCount = 3
		j.RunID = "run-1"
		return nil
	})

	job := &jobs.ConvertFileJob{InputURI: "a.qfx"}
	if err := queue.PublishConvertFile(ctx, job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := waitFor(t, ctx, store, job.JobID)
	if got.Status != jobs.JobStatusCompleted || got.TransactionCount != 3 || got.RunID != "run-1" {
		t.Errorf("stored job = %+v", got)
	}
	if job.Status != jobs.JobStatusPending || job.StartedAt != nil || job.TransactionCount != 0 || job.RunID != "" {
		t.Errorf("caller's job was modified by a worker: %+v", job)
	}
}
