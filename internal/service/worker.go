package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/prodrec/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Rebuilder is satisfied by *Provider.
type Rebuilder interface {
	Current(ctx context.Context) (*Snapshot, error)
	Rebuild(ctx context.Context) (*Snapshot, error)
}

// Worker processes rebuild_snapshot jobs from the SQLite job queue. Between
// jobs it also refreshes the snapshot every refresh interval so writes made
// by other processes (offline imports) are picked up.
type Worker struct {
	store    JobStore
	provider Rebuilder
	poll     time.Duration
	refresh  time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
// A refreshInterval <= 0 disables periodic refresh.
func NewWorker(store JobStore, provider Rebuilder, pollInterval, refreshInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		provider: provider,
		poll:     pollInterval,
		refresh:  refreshInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var refresh <-chan time.Time
	if w.refresh > 0 {
		ticker := time.NewTicker(w.refresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-refresh:
			if _, err := w.provider.Current(ctx); err != nil {
				w.logger.Warn("periodic snapshot refresh failed", "error", err)
			}
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single rebuild_snapshot job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{storage.JobRebuildSnapshot})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	snap, err := w.provider.Rebuild(ctx)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}
	w.logger.Debug("rebuild job done", "job_id", job.ID, "version", snap.Version)

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}
