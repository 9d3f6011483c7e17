package metastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/filedock/filedock/internal/models"
)

const jobColumns = `id, file_id, status, claimed_by, claimed_at, finished_at, last_error, attempt_count, created_at`

func scanJob(row pgx.Row) (*models.ProcessingJob, error) {
	var j models.ProcessingJob
	err := row.Scan(&j.ID, &j.FileID, &j.Status, &j.ClaimedBy, &j.ClaimedAt,
		&j.FinishedAt, &j.LastError, &j.AttemptCount, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// CreateJob enqueues a pending job for fileID. The partial unique index on
// non-terminal jobs turns a concurrent double-submit into ErrJobActive.
func (s *Store) CreateJob(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO processing_jobs (id, file_id, status) VALUES ($1, $2, $3)
		 RETURNING `+jobColumns,
		uuid.New(), fileID, models.JobStatusPending,
	)
	job, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrJobActive
		}
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *Store) JobByID(ctx context.Context, id uuid.UUID) (*models.ProcessingJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// LatestJobByFile returns the most recent job for the file, terminal or not.
func (s *Store) LatestJobByFile(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs
		 WHERE file_id = $1 ORDER BY created_at DESC LIMIT 1`, fileID)
	return scanJob(row)
}

// NextPending picks the oldest claimable job id. Selection alone confers no
// ownership: the caller must still win Claim.
func (s *Store) NextPending(ctx context.Context) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`SELECT id FROM processing_jobs WHERE status = $1 ORDER BY created_at LIMIT 1`,
		models.JobStatusPending,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNoPending
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("select pending job: %w", err)
	}
	return id, nil
}

// Claim performs the atomic claim: a single conditional update that succeeds
// only if the job is still pending. Exactly one of any number of racing
// workers wins; the rest get ErrClaimRaceLost and move on.
func (s *Store) Claim(ctx context.Context, jobID uuid.UUID, workerID string) (*models.ProcessingJob, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = $1, claimed_by = $2, claimed_at = now(), attempt_count = attempt_count + 1
		 WHERE id = $3 AND status = $4
		 RETURNING `+jobColumns,
		models.JobStatusClaimed, workerID, jobID, models.JobStatusPending,
	)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrClaimRaceLost
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// MarkProcessing moves a claim the worker owns into processing.
func (s *Store) MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1 WHERE id = $2 AND status = $3 AND claimed_by = $4`,
		models.JobStatusProcessing, jobID, models.JobStatusClaimed, workerID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimRaceLost
	}
	return nil
}

// FailJob records a stage-tagged error and parks the job in failed. The file
// stays listed with whatever derivatives were produced before the failure.
// The guard on claimed_by means a worker that was presumed dead and reclaimed
// cannot clobber a terminal state the new owner wrote; it gets
// ErrClaimRaceLost instead.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, workerID, lastError string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, last_error = $2, finished_at = now()
		 WHERE id = $3 AND status = $4 AND claimed_by = $5`,
		models.JobStatusFailed, lastError, jobID, models.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimRaceLost
	}
	return nil
}

// AbortJob fails a job that never left pending. Submission uses it when the
// original bytes cannot be stored after the job row was created, so the
// one-active slot is not left occupied by a job with nothing to process.
func (s *Store) AbortJob(ctx context.Context, jobID uuid.UUID, lastError string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, last_error = $2, finished_at = now()
		 WHERE id = $3 AND status = $4`,
		models.JobStatusFailed, lastError, jobID, models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("abort job: %w", err)
	}
	return nil
}

// FinalizeJob is the single metadata transaction that ends a successful run:
// file size/hash/mime refinement and the ready transition commit together.
func (s *Store) FinalizeJob(ctx context.Context, jobID, fileID uuid.UUID, sizeBytes int64, contentHash, resolvedMIME string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin finalize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE ingested_files SET size_bytes = $1, content_hash = $2, resolved_mime_type = $3 WHERE id = $4`,
		sizeBytes, contentHash, resolvedMIME, fileID)
	if err != nil {
		return fmt.Errorf("finalize file: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, finished_at = now(), last_error = NULL
		 WHERE id = $2 AND status = $3`,
		models.JobStatusReady, jobID, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// The job was reclaimed as stale mid-run. The other attempt rewrites
		// the same content, so losing this finalize is safe.
		return ErrClaimRaceLost
	}

	return tx.Commit(ctx)
}

// RetryJob is the explicit failed -> pending transition. It resets the
// attempt bound; the partial unique index still holds because failed is
// terminal.
func (s *Store) RetryJob(ctx context.Context, jobID uuid.UUID) (*models.ProcessingJob, error) {
	row := s.db.QueryRow(ctx,
		`UPDATE processing_jobs
		 SET status = $1, claimed_by = NULL, claimed_at = NULL, finished_at = NULL,
		     last_error = NULL, attempt_count = 0
		 WHERE id = $2 AND status = $3
		 RETURNING `+jobColumns,
		models.JobStatusPending, jobID, models.JobStatusFailed,
	)
	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("retry: job not failed: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("retry job: %w", err)
	}
	return job, nil
}

// ReclaimStale returns abandoned claims to the pending pool. A job stuck
// non-terminal past the staleness window is presumed orphaned by a crashed
// worker; every stage write is an idempotent overwrite, so redoing it is
// safe.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE processing_jobs
		 SET status = $1, claimed_by = NULL, claimed_at = NULL
		 WHERE status IN ($2, $3) AND claimed_at < now() - $4::interval`,
		models.JobStatusPending, models.JobStatusClaimed, models.JobStatusProcessing,
		fmt.Sprintf("%f seconds", olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM processing_jobs WHERE status = $1`, models.JobStatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}

// ActiveJobExists reports whether the file has a non-terminal job. Submission
// uses it to fail fast before writing bytes; the unique index remains the
// real guard.
func (s *Store) ActiveJobExists(ctx context.Context, fileID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM processing_jobs
			WHERE file_id = $1 AND status IN ($2, $3, $4)
		 )`,
		fileID, models.JobStatusPending, models.JobStatusClaimed, models.JobStatusProcessing,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active job: %w", err)
	}
	return exists, nil
}
