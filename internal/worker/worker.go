// Package worker discovers claimable jobs and drives them through the
// pipeline. Workers coordinate only through the metadata store's atomic
// claim; any number of processes can run against the same database.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/metrics"
	"github.com/filedock/filedock/internal/models"
	"github.com/filedock/filedock/internal/pipeline"
)

// JobStore is the slice of the metadata store the loop needs.
type JobStore interface {
	NextPending(ctx context.Context) (uuid.UUID, error)
	Claim(ctx context.Context, jobID uuid.UUID, workerID string) (*models.ProcessingJob, error)
	MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) error
	FailJob(ctx context.Context, jobID uuid.UUID, workerID, lastError string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	PendingCount(ctx context.Context) (int64, error)
}

// Pipeline runs one claimed job to completion.
type Pipeline interface {
	Run(ctx context.Context, job *models.ProcessingJob) error
}

type Worker struct {
	id   string
	jobs JobStore
	pipe Pipeline

	idleBackoff time.Duration
	staleAfter  time.Duration
	metrics     *metrics.Metrics

	// onTerminal fires after a job reaches ready or failed; the process
	// wires it to cache invalidation. Optional.
	onTerminal func(fileID uuid.UUID)
}

type Options struct {
	IdleBackoff time.Duration
	StaleAfter  time.Duration
	Metrics     *metrics.Metrics
	OnTerminal  func(fileID uuid.UUID)
}

func New(id string, jobs JobStore, pipe Pipeline, opts Options) *Worker {
	if opts.IdleBackoff <= 0 {
		opts.IdleBackoff = 2 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	return &Worker{
		id:          id,
		jobs:        jobs,
		pipe:        pipe,
		idleBackoff: opts.IdleBackoff,
		staleAfter:  opts.StaleAfter,
		metrics:     opts.Metrics,
		onTerminal:  opts.OnTerminal,
	}
}

// Run is the cooperative polling loop: claim one job, process it, repeat,
// sleeping the idle backoff when nothing is claimable. It returns only when
// ctx is cancelled or the metadata store becomes unusable — job failures are
// recorded, never fatal.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "worker_id", w.id, "idle_backoff", w.idleBackoff, "stale_after", w.staleAfter)

	sweep := time.NewTicker(w.staleAfter / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "worker_id", w.id)
			return nil
		case <-sweep.C:
			w.sweepStale(ctx)
		default:
		}

		worked, err := w.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !worked {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.idleBackoff):
			}
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether it did
// any work; an error means the metadata store itself is unusable.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	jobID, err := w.jobs.NextPending(ctx)
	if errors.Is(err, metastore.ErrNoPending) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job, err := w.jobs.Claim(ctx, jobID, w.id)
	if errors.Is(err, metastore.ErrClaimRaceLost) {
		// Another worker got there first. Not an error: count it and look
		// for a different job on the next cycle.
		if w.metrics != nil {
			w.metrics.ClaimConflicts.Inc()
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	w.process(ctx, job)
	return true, nil
}

// Drain processes jobs until none are claimable. The queue wakeup handler
// uses it so a nudge clears the whole backlog, not just its own job.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		worked, err := w.RunOnce(ctx)
		if err != nil || !worked {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, job *models.ProcessingJob) {
	log := slog.With("worker_id", w.id, "job_id", job.ID, "file_id", job.FileID, "attempt", job.AttemptCount)

	if err := w.jobs.MarkProcessing(ctx, job.ID, w.id); err != nil {
		// Reclaimed between claim and start; let the new owner have it.
		log.Warn("lost job before processing", "error", err)
		return
	}
	log.Info("processing job")

	start := time.Now()
	err := w.pipe.Run(ctx, job)
	if err == nil {
		log.Info("job ready", "duration", time.Since(start))
		w.finish(job, "ready")
		return
	}

	if errors.Is(err, metastore.ErrClaimRaceLost) {
		// The job went stale mid-run and another attempt finished it first.
		// That result stands; this one is dropped, not recorded as a failure.
		log.Warn("lost job during run", "error", err)
		if w.metrics != nil {
			w.metrics.ClaimConflicts.Inc()
		}
		return
	}

	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		log.Error("stage failed", "stage", stageErr.Stage, "error", stageErr.Err)
	} else {
		log.Error("job failed", "error", err)
	}

	ferr := w.jobs.FailJob(ctx, job.ID, w.id, err.Error())
	if errors.Is(ferr, metastore.ErrClaimRaceLost) {
		log.Warn("claim gone before failure could be recorded")
		return
	}
	if ferr != nil {
		log.Error("could not record job failure", "error", ferr)
	}
	w.finish(job, "failed")
}

func (w *Worker) finish(job *models.ProcessingJob, outcome string) {
	if w.metrics != nil {
		w.metrics.JobsTotal.WithLabelValues(outcome).Inc()
	}
	if w.onTerminal != nil {
		w.onTerminal(job.FileID)
	}
}

func (w *Worker) sweepStale(ctx context.Context) {
	n, err := w.jobs.ReclaimStale(ctx, w.staleAfter)
	if err != nil {
		slog.Error("stale sweep failed", "worker_id", w.id, "error", err)
		return
	}
	if n > 0 {
		// Reclaims are logged, never surfaced as user-facing failures.
		slog.Warn("reclaimed stale jobs", "worker_id", w.id, "count", n)
		if w.metrics != nil {
			w.metrics.StaleReclaims.Add(float64(n))
		}
	}
	if w.metrics != nil {
		if pending, err := w.jobs.PendingCount(ctx); err == nil {
			w.metrics.PendingJobs.Set(float64(pending))
		}
	}
}
