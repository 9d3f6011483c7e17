package models

import (
	"time"

	"github.com/google/uuid"
)

// IngestedFile is the canonical identity of one logical file. Rows are
// soft-deleted: deleted_at is set once and never cleared, and every query
// filters it out unless it is explicitly inspecting history.
type IngestedFile struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Owner            string     `json:"owner" db:"owner"`
	OriginalFilename string     `json:"original_filename" db:"original_filename"`
	Path             *string    `json:"path,omitempty" db:"path"`
	DeclaredMIMEType string     `json:"declared_mime_type" db:"declared_mime_type"`
	ResolvedMIMEType *string    `json:"resolved_mime_type,omitempty" db:"resolved_mime_type"`
	SizeBytes        int64      `json:"size_bytes" db:"size_bytes"`
	ContentHash      *string    `json:"content_hash,omitempty" db:"content_hash"`
	Pinned           bool       `json:"pinned" db:"pinned"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	LastOpenedAt     *time.Time `json:"last_opened_at,omitempty" db:"last_opened_at"`
	DeletedAt        *time.Time `json:"-" db:"deleted_at"`
}

// MIMEType returns the resolved MIME type when the pipeline has refined it,
// otherwise whatever the submitter declared.
func (f *IngestedFile) MIMEType() string {
	if f.ResolvedMIMEType != nil && *f.ResolvedMIMEType != "" {
		return *f.ResolvedMIMEType
	}
	return f.DeclaredMIMEType
}

// ProcessingJob is one attempt to process one IngestedFile. At most one
// non-terminal job may exist per file at a time; transitions are monotonic
// except failed -> pending (explicit retry).
type ProcessingJob struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	FileID       uuid.UUID  `json:"file_id" db:"file_id"`
	Status       string     `json:"status" db:"status"`
	ClaimedBy    *string    `json:"claimed_by,omitempty" db:"claimed_by"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	LastError    *string    `json:"last_error,omitempty" db:"last_error"`
	AttemptCount int        `json:"attempt_count" db:"attempt_count"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

func (j *ProcessingJob) Terminal() bool {
	return j.Status == JobStatusReady || j.Status == JobStatusFailed
}

// Derivative is one produced artifact for a file. (file_id, kind) is unique:
// re-processing overwrites in place rather than accumulating duplicates.
type Derivative struct {
	FileID      uuid.UUID `json:"file_id" db:"file_id"`
	Kind        string    `json:"kind" db:"kind"`
	StorageKey  string    `json:"storage_key" db:"storage_key"`
	ContentType string    `json:"content_type" db:"content_type"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

const (
	JobStatusPending    = "pending"
	JobStatusClaimed    = "claimed"
	JobStatusProcessing = "processing"
	JobStatusReady      = "ready"
	JobStatusFailed     = "failed"
)

const (
	KindExtractedText = "extracted-text"
	KindPreviewImage  = "preview-image"
	KindOriginalCopy  = "original-copy"

	// KindSummaryDocument and KindOriginal are retrieval selectors, not
	// derivative rows: the summary document lives at its fixed key and the
	// original at its original key regardless of what the pipeline produced.
	KindSummaryDocument = "summary-document"
	KindOriginal        = "original"
)
