// Package pipeline drives one job through its stages. The pipeline holds no
// persistent state: it is a function of (file, original bytes) that emits
// derivatives and metadata updates, and every write is a deterministic-key
// overwrite, so any attempt can be safely re-run from the top.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/filedock/filedock/internal/annotate"
	"github.com/filedock/filedock/internal/classify"
	"github.com/filedock/filedock/internal/extract"
	"github.com/filedock/filedock/internal/metrics"
	"github.com/filedock/filedock/internal/models"
	"github.com/filedock/filedock/internal/storage"
	"github.com/filedock/filedock/pkg/summarydoc"
)

// MetaStore is the slice of the metadata store the pipeline writes through.
type MetaStore interface {
	FileByID(ctx context.Context, id uuid.UUID) (*models.IngestedFile, error)
	UpsertDerivative(ctx context.Context, d *models.Derivative) error
	DerivativesByFile(ctx context.Context, fileID uuid.UUID) ([]models.Derivative, error)
	FinalizeJob(ctx context.Context, jobID, fileID uuid.UUID, sizeBytes int64, contentHash, resolvedMIME string) error
}

// StageError tags a failure with the stage that raised it. The tag becomes
// the prefix of the job's last_error.
type StageError struct {
	Stage classify.Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

type Runner struct {
	meta       MetaStore
	store      storage.Backend
	classifier *classify.Classifier
	registry   *extract.Registry

	annotator      annotate.Annotator
	storageRetries int
	metrics        *metrics.Metrics
}

// Options carries the optional collaborators; the zero value works.
type Options struct {
	Annotator      annotate.Annotator
	StorageRetries int
	Metrics        *metrics.Metrics
}

func NewRunner(meta MetaStore, store storage.Backend, registry *extract.Registry, opts Options) *Runner {
	retries := opts.StorageRetries
	if retries <= 0 {
		retries = 3
	}
	return &Runner{
		meta:           meta,
		store:          store,
		classifier:     classify.New(registry),
		registry:       registry,
		annotator:      opts.Annotator,
		storageRetries: retries,
		metrics:        opts.Metrics,
	}
}

// runState threads stage outputs through one attempt. Nothing in it survives
// the attempt.
type runState struct {
	file    *models.IngestedFile
	plan    classify.Plan
	data    []byte
	payload *extract.Payload

	contentHash  string
	resolvedMIME string
}

// Run executes the job's plan stage by stage. A stage failure aborts the
// remaining stages and is returned as a *StageError; completed stages are not
// rolled back — their writes are overwrites a retry will redo.
func (r *Runner) Run(ctx context.Context, job *models.ProcessingJob) error {
	file, err := r.meta.FileByID(ctx, job.FileID)
	if err != nil {
		return fmt.Errorf("load file %s: %w", job.FileID, err)
	}

	st := &runState{
		file: file,
		plan: r.classifier.Classify(file.DeclaredMIMEType, extract.Ext(file.OriginalFilename), file.SizeBytes),
	}

	st.data, err = r.getWithRetry(ctx, storage.OriginalKey(file.Owner, file.ID))
	if err != nil {
		return &StageError{Stage: st.plan.Stages[0], Err: fmt.Errorf("fetch original: %w", err)}
	}

	for _, stage := range st.plan.Stages {
		start := time.Now()
		err := r.runStage(ctx, stage, job, st)
		if r.metrics != nil {
			r.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return &StageError{Stage: stage, Err: err}
		}
	}
	return nil
}

func (r *Runner) runStage(ctx context.Context, stage classify.Stage, job *models.ProcessingJob, st *runState) error {
	switch stage {
	case classify.StageExtract:
		return r.extract(ctx, st)
	case classify.StageDerive:
		return r.derive(ctx, st)
	case classify.StageSummarize:
		return r.summarize(ctx, st)
	case classify.StageFinalize:
		return r.meta.FinalizeJob(ctx, job.ID, st.file.ID, int64(len(st.data)), st.contentHash, st.resolvedMIME)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (r *Runner) extract(ctx context.Context, st *runState) error {
	ex := r.registry.ByName(st.plan.Extractor)
	payload, err := ex.Extract(ctx, st.data, st.file.DeclaredMIMEType)
	if err != nil {
		return fmt.Errorf("%s: %w", ex.Name(), err)
	}
	st.payload = payload
	return nil
}

func (r *Runner) derive(ctx context.Context, st *runState) error {
	for _, blob := range st.payload.Blobs {
		key := storage.DerivativeKey(st.file.Owner, st.file.ID, blob.Kind)
		if err := r.putWithRetry(ctx, key, blob.Data, blob.ContentType); err != nil {
			return fmt.Errorf("write %s: %w", blob.Kind, err)
		}
		err := r.meta.UpsertDerivative(ctx, &models.Derivative{
			FileID:      st.file.ID,
			Kind:        blob.Kind,
			StorageKey:  key,
			ContentType: blob.ContentType,
			SizeBytes:   int64(len(blob.Data)),
		})
		if err != nil {
			return fmt.Errorf("record %s: %w", blob.Kind, err)
		}
	}
	return nil
}

func (r *Runner) summarize(ctx context.Context, st *runState) error {
	sum := sha256.Sum256(st.data)
	st.contentHash = hex.EncodeToString(sum[:])
	st.resolvedMIME = r.resolveMIME(st)

	rows, err := r.meta.DerivativesByFile(ctx, st.file.ID)
	if err != nil {
		return fmt.Errorf("list derivatives: %w", err)
	}

	doc := summarydoc.Document{
		Frontmatter: summarydoc.Frontmatter{
			FileID:           st.file.ID.String(),
			OriginalFilename: st.file.OriginalFilename,
			MIMEType:         st.resolvedMIME,
			ContentHash:      st.contentHash,
			Producer:         r.producer(st),
		},
		Body: r.body(st),
	}
	if st.payload != nil && len(st.payload.Metadata) > 0 {
		doc.Frontmatter.Metadata = st.payload.Metadata
	}
	for _, d := range rows {
		doc.Frontmatter.Derivatives = append(doc.Frontmatter.Derivatives, summarydoc.DerivativeRef{
			Kind:        d.Kind,
			StorageKey:  d.StorageKey,
			ContentType: d.ContentType,
		})
	}

	if r.annotator != nil && doc.Body != "" {
		abstract, err := r.annotator.Annotate(ctx, st.file.OriginalFilename, st.resolvedMIME, doc.Body)
		if err != nil {
			slog.Warn("annotation failed", "file_id", st.file.ID, "provider", r.annotator.Name(), "error", err)
		} else {
			doc.Frontmatter.Abstract = abstract
		}
	}

	encoded, err := doc.Encode()
	if err != nil {
		return err
	}
	key := storage.SummaryKey(st.file.Owner, st.file.ID)
	if err := r.putWithRetry(ctx, key, encoded, summarydoc.ContentType); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func (r *Runner) body(st *runState) string {
	if st.plan.FastTrack {
		return extract.DecodeText(st.data)
	}
	if st.payload != nil {
		return st.payload.Text
	}
	return ""
}

func (r *Runner) producer(st *runState) string {
	if st.plan.FastTrack {
		return "fast-track"
	}
	return st.plan.Extractor
}

func (r *Runner) resolveMIME(st *runState) string {
	if st.payload != nil && st.payload.RefinedMIME != "" {
		return st.payload.RefinedMIME
	}
	if st.file.DeclaredMIMEType != "" {
		return st.file.DeclaredMIMEType
	}
	return "application/octet-stream"
}

// getWithRetry and putWithRetry retry transient storage errors with a short
// backoff. Permanent errors and not-found surface immediately.
func (r *Runner) getWithRetry(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := r.withRetry(ctx, func() error {
		var err error
		data, err = r.store.Get(ctx, key)
		return err
	})
	return data, err
}

func (r *Runner) putWithRetry(ctx context.Context, key string, data []byte, contentType string) error {
	return r.withRetry(ctx, func() error {
		return r.store.Put(ctx, key, data, contentType)
	})
}

func (r *Runner) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= r.storageRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = op()
		if err == nil || !storage.IsTransient(err) {
			return err
		}
	}
	return err
}
