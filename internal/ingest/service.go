// Package ingest is the boundary other layers call: submission, status
// queries, content retrieval, and retry. It owns no processing logic — it
// creates work for the pipeline and reads what the pipeline produced.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/filedock/filedock/internal/cache"
	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/models"
	"github.com/filedock/filedock/internal/queue"
	"github.com/filedock/filedock/internal/storage"
	"github.com/filedock/filedock/pkg/summarydoc"
)

// ErrJobActive mirrors the metastore sentinel at this boundary: the file
// already has a non-terminal job and the submission must be retried later.
var ErrJobActive = metastore.ErrJobActive

// ErrNotRetryable is returned when retry targets a job that is not failed.
var ErrNotRetryable = errors.New("ingest: latest job is not failed")

// StatusNoJob is reported when a file row exists but no job does — a
// submission that died between the file insert and the job insert.
const StatusNoJob = "no-job"

// statusTTL is short: status changes are driven by workers in other
// processes, and a few seconds of staleness is acceptable for polling UIs.
const statusTTL = 3 * time.Second

const summaryMemoSize = 128

// Meta is the slice of the metadata store this service uses.
type Meta interface {
	CreateFile(ctx context.Context, f *models.IngestedFile) error
	FileByID(ctx context.Context, id uuid.UUID) (*models.IngestedFile, error)
	FileByPath(ctx context.Context, owner, path string) (*models.IngestedFile, error)
	ListFiles(ctx context.Context, owner string, limit, offset int) ([]models.IngestedFile, error)
	TouchOpened(ctx context.Context, id uuid.UUID) error
	UpdatePath(ctx context.Context, id uuid.UUID, path string) error
	SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error
	SoftDeleteFile(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error)
	AbortJob(ctx context.Context, jobID uuid.UUID, lastError string) error
	LatestJobByFile(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error)
	ActiveJobExists(ctx context.Context, fileID uuid.UUID) (bool, error)
	RetryJob(ctx context.Context, jobID uuid.UUID) (*models.ProcessingJob, error)

	DerivativesByFile(ctx context.Context, fileID uuid.UUID) ([]models.Derivative, error)
	DerivativeByKind(ctx context.Context, fileID uuid.UUID, kind string) (*models.Derivative, error)
}

// Nudger wakes workers after a job is enqueued. Optional.
type Nudger interface {
	EnqueueIngestWakeup(payload queue.IngestWakeupPayload) error
}

type Service struct {
	meta  Meta
	store storage.Backend
	nudge Nudger
	cache *cache.Cache

	// summaries memoizes summary documents per (file id, content hash), so
	// entries from before a re-process self-miss on the new hash.
	summaries *lru.Cache[string, []byte]
}

func NewService(meta Meta, store storage.Backend, nudge Nudger, c *cache.Cache) *Service {
	summaries, _ := lru.New[string, []byte](summaryMemoSize)
	return &Service{meta: meta, store: store, nudge: nudge, cache: c, summaries: summaries}
}

type SubmitRequest struct {
	Owner    string
	Filename string
	// Path is the optional display path; submissions to an existing path
	// overwrite that file's content.
	Path     *string
	MIMEType string
	Data     []byte
}

type SubmitResult struct {
	FileID uuid.UUID `json:"file_id"`
	JobID  uuid.UUID `json:"job_id"`
	// Overwrite reports whether an existing file was targeted.
	Overwrite bool `json:"overwrite"`
}

// Submit persists the original bytes and enqueues a pending job, returning
// immediately — the caller never blocks on processing. Overwrites of a file
// with a non-terminal job are rejected with ErrJobActive before any bytes
// are written.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Filename == "" {
		return nil, fmt.Errorf("ingest: filename required")
	}
	if req.Owner == "" {
		return nil, fmt.Errorf("ingest: owner required")
	}
	mime := req.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}

	file, overwrite, err := s.resolveFile(ctx, req, mime)
	if err != nil {
		return nil, err
	}

	if overwrite {
		active, err := s.meta.ActiveJobExists(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, ErrJobActive
		}
	}

	// The job row goes in before the bytes: holding the one-active slot means
	// no in-flight job can be reading the original while it is replaced. The
	// partial unique index still guards the window after the active check.
	job, err := s.meta.CreateJob(ctx, file.ID)
	if err != nil {
		return nil, err
	}

	key := storage.OriginalKey(file.Owner, file.ID)
	if err := s.store.Put(ctx, key, req.Data, mime); err != nil {
		if aerr := s.meta.AbortJob(ctx, job.ID, fmt.Sprintf("store original: %v", err)); aerr != nil {
			slog.Warn("abort job failed", "job_id", job.ID, "error", aerr)
		}
		return nil, fmt.Errorf("store original: %w", err)
	}

	if s.nudge != nil {
		err := s.nudge.EnqueueIngestWakeup(queue.IngestWakeupPayload{
			FileID: file.ID.String(),
			JobID:  job.ID.String(),
		})
		if err != nil {
			// Workers poll; a lost nudge only costs latency.
			slog.Warn("wakeup enqueue failed", "file_id", file.ID, "error", err)
		}
	}
	s.invalidateStatus(ctx, file.ID)

	return &SubmitResult{FileID: file.ID, JobID: job.ID, Overwrite: overwrite}, nil
}

func (s *Service) resolveFile(ctx context.Context, req SubmitRequest, mime string) (*models.IngestedFile, bool, error) {
	if req.Path != nil {
		existing, err := s.meta.FileByPath(ctx, req.Owner, *req.Path)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, metastore.ErrNotFound) {
			return nil, false, err
		}
	}

	f := &models.IngestedFile{
		Owner:            req.Owner,
		OriginalFilename: req.Filename,
		Path:             req.Path,
		DeclaredMIMEType: mime,
	}
	if err := s.meta.CreateFile(ctx, f); err != nil {
		return nil, false, err
	}
	return f, false, nil
}

// FileStatus is the status-query response: job state, last error if failed,
// and which derivative kinds exist right now.
type FileStatus struct {
	FileID       uuid.UUID `json:"file_id"`
	Status       string    `json:"status"`
	LastError    *string   `json:"last_error,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	Derivatives  []string  `json:"derivatives"`
}

func (s *Service) Status(ctx context.Context, fileID uuid.UUID) (*FileStatus, error) {
	if s.cache != nil {
		var cached FileStatus
		if err := s.cache.Get(ctx, cache.StatusKey(fileID), &cached); err == nil {
			return &cached, nil
		}
	}

	if _, err := s.meta.FileByID(ctx, fileID); err != nil {
		return nil, err
	}
	job, err := s.meta.LatestJobByFile(ctx, fileID)
	if errors.Is(err, metastore.ErrNotFound) {
		// The file exists but was never enqueued; "file not found" would lie.
		return &FileStatus{FileID: fileID, Status: StatusNoJob, Derivatives: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.meta.DerivativesByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	status := &FileStatus{
		FileID:       fileID,
		Status:       job.Status,
		LastError:    job.LastError,
		AttemptCount: job.AttemptCount,
		Derivatives:  make([]string, 0, len(rows)),
	}
	for _, d := range rows {
		status.Derivatives = append(status.Derivatives, d.Kind)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.StatusKey(fileID), status, statusTTL); err != nil {
			slog.Debug("status cache set failed", "file_id", fileID, "error", err)
		}
	}
	return status, nil
}

// Content returns stored bytes for a derivative kind, "original", or
// "summary-document". The summary document is retrievable whenever it
// exists, even if other derivatives failed; its absence means processing is
// incomplete, which surfaces as storage.ErrNotFound.
func (s *Service) Content(ctx context.Context, fileID uuid.UUID, kind string) ([]byte, string, error) {
	file, err := s.meta.FileByID(ctx, fileID)
	if err != nil {
		return nil, "", err
	}

	defer func() {
		if err := s.meta.TouchOpened(ctx, fileID); err != nil {
			slog.Debug("touch opened failed", "file_id", fileID, "error", err)
		}
	}()

	switch kind {
	case "", models.KindOriginal:
		data, err := s.store.Get(ctx, storage.OriginalKey(file.Owner, file.ID))
		if err != nil {
			return nil, "", err
		}
		return data, file.MIMEType(), nil

	case models.KindSummaryDocument:
		data, err := s.summary(ctx, file)
		if err != nil {
			return nil, "", err
		}
		return data, summarydoc.ContentType, nil

	default:
		d, err := s.meta.DerivativeByKind(ctx, fileID, kind)
		if err != nil {
			return nil, "", err
		}
		data, err := s.store.Get(ctx, d.StorageKey)
		if err != nil {
			return nil, "", err
		}
		return data, d.ContentType, nil
	}
}

func (s *Service) summary(ctx context.Context, file *models.IngestedFile) ([]byte, error) {
	var memoKey string
	if file.ContentHash != nil {
		memoKey = file.ID.String() + ":" + *file.ContentHash
		if data, ok := s.summaries.Get(memoKey); ok {
			return data, nil
		}
	}

	data, err := s.store.Get(ctx, storage.SummaryKey(file.Owner, file.ID))
	if err != nil {
		return nil, err
	}
	if memoKey != "" {
		s.summaries.Add(memoKey, data)
	}
	return data, nil
}

// Retry is the explicit failed -> pending transition.
func (s *Service) Retry(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error) {
	if _, err := s.meta.FileByID(ctx, fileID); err != nil {
		return nil, err
	}
	latest, err := s.meta.LatestJobByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if latest.Status != models.JobStatusFailed {
		return nil, ErrNotRetryable
	}

	job, err := s.meta.RetryJob(ctx, latest.ID)
	if err != nil {
		return nil, err
	}

	if s.nudge != nil {
		err := s.nudge.EnqueueIngestWakeup(queue.IngestWakeupPayload{
			FileID: fileID.String(),
			JobID:  job.ID.String(),
		})
		if err != nil {
			slog.Warn("wakeup enqueue failed", "file_id", fileID, "error", err)
		}
	}
	s.invalidateStatus(ctx, fileID)
	return job, nil
}

func (s *Service) List(ctx context.Context, owner string, limit, offset int) ([]models.IngestedFile, error) {
	return s.meta.ListFiles(ctx, owner, limit, offset)
}

func (s *Service) Get(ctx context.Context, fileID uuid.UUID) (*models.IngestedFile, error) {
	return s.meta.FileByID(ctx, fileID)
}

func (s *Service) Rename(ctx context.Context, fileID uuid.UUID, path string) error {
	return s.meta.UpdatePath(ctx, fileID, path)
}

func (s *Service) SetPinned(ctx context.Context, fileID uuid.UUID, pinned bool) error {
	return s.meta.SetPinned(ctx, fileID, pinned)
}

// Delete soft-deletes the file. Bytes and derivative rows remain for a later
// hard purge.
func (s *Service) Delete(ctx context.Context, fileID uuid.UUID) error {
	if err := s.meta.SoftDeleteFile(ctx, fileID); err != nil {
		return err
	}
	s.invalidateStatus(ctx, fileID)
	return nil
}

// InvalidateStatus drops the cached status for a file. Workers call it when
// a job reaches a terminal state.
func (s *Service) InvalidateStatus(ctx context.Context, fileID uuid.UUID) {
	s.invalidateStatus(ctx, fileID)
}

func (s *Service) invalidateStatus(ctx context.Context, fileID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.StatusKey(fileID)); err != nil {
		slog.Debug("status cache invalidate failed", "file_id", fileID, "error", err)
	}
}
