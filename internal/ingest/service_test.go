package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/models"
	"github.com/filedock/filedock/internal/queue"
	"github.com/filedock/filedock/internal/storage"
	"github.com/filedock/filedock/pkg/summarydoc"
)

type fakeMeta struct {
	files       map[uuid.UUID]*models.IngestedFile
	jobs        map[uuid.UUID]*models.ProcessingJob // latest per file
	derivatives map[uuid.UUID][]models.Derivative

	// hideActive makes ActiveJobExists report false regardless, mimicking a
	// submission racing into the gap before the job row insert.
	hideActive bool
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		files:       make(map[uuid.UUID]*models.IngestedFile),
		jobs:        make(map[uuid.UUID]*models.ProcessingJob),
		derivatives: make(map[uuid.UUID][]models.Derivative),
	}
}

func (m *fakeMeta) CreateFile(ctx context.Context, f *models.IngestedFile) error {
	f.ID = uuid.New()
	f.CreatedAt = time.Now()
	m.files[f.ID] = f
	return nil
}

func (m *fakeMeta) FileByID(ctx context.Context, id uuid.UUID) (*models.IngestedFile, error) {
	f, ok := m.files[id]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return f, nil
}

func (m *fakeMeta) FileByPath(ctx context.Context, owner, path string) (*models.IngestedFile, error) {
	for _, f := range m.files {
		if f.Owner == owner && f.Path != nil && *f.Path == path {
			return f, nil
		}
	}
	return nil, metastore.ErrNotFound
}

func (m *fakeMeta) ListFiles(ctx context.Context, owner string, limit, offset int) ([]models.IngestedFile, error) {
	var out []models.IngestedFile
	for _, f := range m.files {
		if f.Owner == owner {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (m *fakeMeta) TouchOpened(ctx context.Context, id uuid.UUID) error  { return nil }
func (m *fakeMeta) UpdatePath(ctx context.Context, id uuid.UUID, path string) error {
	f, ok := m.files[id]
	if !ok {
		return metastore.ErrNotFound
	}
	f.Path = &path
	return nil
}

func (m *fakeMeta) SetPinned(ctx context.Context, id uuid.UUID, pinned bool) error {
	f, ok := m.files[id]
	if !ok {
		return metastore.ErrNotFound
	}
	f.Pinned = pinned
	return nil
}

func (m *fakeMeta) SoftDeleteFile(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.files[id]; !ok {
		return metastore.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

func (m *fakeMeta) CreateJob(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error) {
	if j, ok := m.jobs[fileID]; ok && !j.Terminal() {
		return nil, metastore.ErrJobActive
	}
	job := &models.ProcessingJob{ID: uuid.New(), FileID: fileID, Status: models.JobStatusPending}
	m.jobs[fileID] = job
	return job, nil
}

func (m *fakeMeta) AbortJob(ctx context.Context, jobID uuid.UUID, lastError string) error {
	for _, j := range m.jobs {
		if j.ID == jobID && j.Status == models.JobStatusPending {
			j.Status = models.JobStatusFailed
			j.LastError = &lastError
		}
	}
	return nil
}

func (m *fakeMeta) LatestJobByFile(ctx context.Context, fileID uuid.UUID) (*models.ProcessingJob, error) {
	j, ok := m.jobs[fileID]
	if !ok {
		return nil, metastore.ErrNotFound
	}
	return j, nil
}

func (m *fakeMeta) ActiveJobExists(ctx context.Context, fileID uuid.UUID) (bool, error) {
	if m.hideActive {
		return false, nil
	}
	j, ok := m.jobs[fileID]
	return ok && !j.Terminal(), nil
}

func (m *fakeMeta) RetryJob(ctx context.Context, jobID uuid.UUID) (*models.ProcessingJob, error) {
	for _, j := range m.jobs {
		if j.ID == jobID {
			j.Status = models.JobStatusPending
			j.LastError = nil
			j.AttemptCount = 0
			return j, nil
		}
	}
	return nil, metastore.ErrNotFound
}

func (m *fakeMeta) DerivativesByFile(ctx context.Context, fileID uuid.UUID) ([]models.Derivative, error) {
	return m.derivatives[fileID], nil
}

func (m *fakeMeta) DerivativeByKind(ctx context.Context, fileID uuid.UUID, kind string) (*models.Derivative, error) {
	for _, d := range m.derivatives[fileID] {
		if d.Kind == kind {
			return &d, nil
		}
	}
	return nil, metastore.ErrNotFound
}

type fakeNudger struct {
	wakeups []queue.IngestWakeupPayload
}

func (n *fakeNudger) EnqueueIngestWakeup(p queue.IngestWakeupPayload) error {
	n.wakeups = append(n.wakeups, p)
	return nil
}

func newTestService() (*Service, *fakeMeta, *storage.MemoryBackend, *fakeNudger) {
	meta := newFakeMeta()
	store := storage.NewMemoryBackend()
	nudge := &fakeNudger{}
	return NewService(meta, store, nudge, nil), meta, store, nudge
}

func TestSubmitNewFile(t *testing.T) {
	svc, meta, store, nudge := newTestService()

	result, err := svc.Submit(context.Background(), SubmitRequest{
		Owner:    "alice",
		Filename: "notes.txt",
		MIMEType: "text/plain",
		Data:     []byte("hello"),
	})
	require.NoError(t, err)
	assert.False(t, result.Overwrite)

	f := meta.files[result.FileID]
	require.NotNil(t, f)
	assert.Equal(t, "notes.txt", f.OriginalFilename)

	data, err := store.Get(context.Background(), storage.OriginalKey("alice", result.FileID))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	job := meta.jobs[result.FileID]
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, result.JobID, job.ID)

	require.Len(t, nudge.wakeups, 1)
	assert.Equal(t, result.FileID.String(), nudge.wakeups[0].FileID)
}

func TestSubmitDefaultsMIME(t *testing.T) {
	svc, meta, _, _ := newTestService()

	result, err := svc.Submit(context.Background(), SubmitRequest{
		Owner:    "alice",
		Filename: "mystery",
		Data:     []byte{0x00},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", meta.files[result.FileID].DeclaredMIMEType)
}

func TestSubmitOverwriteWithActiveJob(t *testing.T) {
	svc, meta, store, _ := newTestService()
	path := "docs/report.txt"

	first, err := svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "report.txt", Path: &path, MIMEType: "text/plain", Data: []byte("v1"),
	})
	require.NoError(t, err)

	// Job still pending: the overwrite must be rejected before any bytes
	// are written.
	_, err = svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "report.txt", Path: &path, MIMEType: "text/plain", Data: []byte("v2"),
	})
	assert.ErrorIs(t, err, ErrJobActive)

	data, _ := store.Get(context.Background(), storage.OriginalKey("alice", first.FileID))
	assert.Equal(t, "v1", string(data), "rejected overwrite must not touch stored bytes")

	// Terminal job: the overwrite goes through against the same file.
	meta.jobs[first.FileID].Status = models.JobStatusReady
	second, err := svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "report.txt", Path: &path, MIMEType: "text/plain", Data: []byte("v2"),
	})
	require.NoError(t, err)
	assert.True(t, second.Overwrite)
	assert.Equal(t, first.FileID, second.FileID, "overwrite reuses the file identity")

	data, _ = store.Get(context.Background(), storage.OriginalKey("alice", first.FileID))
	assert.Equal(t, "v2", string(data))
}

func TestSubmitOverwriteRaceLeavesBytesUntouched(t *testing.T) {
	svc, meta, store, _ := newTestService()
	path := "docs/report.txt"

	first, err := svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "report.txt", Path: &path, MIMEType: "text/plain", Data: []byte("v1"),
	})
	require.NoError(t, err)

	// The active check misses the in-flight job; the job insert itself must
	// reject the overwrite before any bytes are replaced.
	meta.hideActive = true
	_, err = svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "report.txt", Path: &path, MIMEType: "text/plain", Data: []byte("v2"),
	})
	assert.ErrorIs(t, err, ErrJobActive)

	data, _ := store.Get(context.Background(), storage.OriginalKey("alice", first.FileID))
	assert.Equal(t, "v1", string(data), "the in-flight job must keep reading the bytes it started with")
}

// failPutBackend rejects every Put.
type failPutBackend struct {
	storage.Backend
}

func (b *failPutBackend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	return &storage.PermanentError{Err: errors.New("disk full")}
}

func TestSubmitStoreFailureAbortsJob(t *testing.T) {
	meta := newFakeMeta()
	svc := NewService(meta, &failPutBackend{Backend: storage.NewMemoryBackend()}, nil, nil)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "notes.txt", MIMEType: "text/plain", Data: []byte("x"),
	})
	require.Error(t, err)

	// The job created ahead of the bytes must not stay pending with nothing
	// to process.
	require.Len(t, meta.jobs, 1)
	for _, j := range meta.jobs {
		assert.Equal(t, models.JobStatusFailed, j.Status)
		require.NotNil(t, j.LastError)
		assert.Contains(t, *j.LastError, "store original")
	}
}

func TestStatus(t *testing.T) {
	svc, meta, _, _ := newTestService()

	result, err := svc.Submit(context.Background(), SubmitRequest{
		Owner: "alice", Filename: "a.png", MIMEType: "image/png", Data: []byte("png"),
	})
	require.NoError(t, err)

	errMsg := "extract: decode image: bad header"
	meta.jobs[result.FileID].Status = models.JobStatusFailed
	meta.jobs[result.FileID].LastError = &errMsg
	meta.jobs[result.FileID].AttemptCount = 1

	status, err := svc.Status(context.Background(), result.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status.Status)
	require.NotNil(t, status.LastError)
	assert.Equal(t, errMsg, *status.LastError)
	assert.Equal(t, 1, status.AttemptCount)
	assert.Empty(t, status.Derivatives)
}

func TestStatusUnknownFile(t *testing.T) {
	svc, _, _, _ := newTestService()
	_, err := svc.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestStatusFileWithoutJob(t *testing.T) {
	svc, meta, _, _ := newTestService()

	// A file row whose job insert never happened still resolves, as a
	// distinct state rather than "file not found".
	f := &models.IngestedFile{Owner: "alice", OriginalFilename: "orphan.txt", DeclaredMIMEType: "text/plain"}
	require.NoError(t, meta.CreateFile(context.Background(), f))

	status, err := svc.Status(context.Background(), f.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoJob, status.Status)
	assert.Empty(t, status.Derivatives)
	assert.Nil(t, status.LastError)
}

func TestContentRouting(t *testing.T) {
	svc, meta, store, _ := newTestService()
	ctx := context.Background()

	result, err := svc.Submit(ctx, SubmitRequest{
		Owner: "alice", Filename: "photo.png", MIMEType: "image/png", Data: []byte("original-bytes"),
	})
	require.NoError(t, err)

	previewKey := storage.DerivativeKey("alice", result.FileID, models.KindPreviewImage)
	require.NoError(t, store.Put(ctx, previewKey, []byte("preview-bytes"), "image/png"))
	meta.derivatives[result.FileID] = []models.Derivative{{
		FileID: result.FileID, Kind: models.KindPreviewImage, StorageKey: previewKey, ContentType: "image/png",
	}}

	doc := summarydoc.Document{Frontmatter: summarydoc.Frontmatter{FileID: result.FileID.String(), Producer: "image"}}
	encoded, err := doc.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, storage.SummaryKey("alice", result.FileID), encoded, summarydoc.ContentType))

	data, ct, err := svc.Content(ctx, result.FileID, "")
	require.NoError(t, err)
	assert.Equal(t, "original-bytes", string(data))
	assert.Equal(t, "image/png", ct)

	data, ct, err = svc.Content(ctx, result.FileID, models.KindPreviewImage)
	require.NoError(t, err)
	assert.Equal(t, "preview-bytes", string(data))
	assert.Equal(t, "image/png", ct)

	data, ct, err = svc.Content(ctx, result.FileID, models.KindSummaryDocument)
	require.NoError(t, err)
	assert.Equal(t, encoded, data)
	assert.Equal(t, summarydoc.ContentType, ct)

	_, _, err = svc.Content(ctx, result.FileID, "no-such-kind")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestContentSummaryMissingMeansIncomplete(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	result, err := svc.Submit(ctx, SubmitRequest{
		Owner: "alice", Filename: "doc.pdf", MIMEType: "application/pdf", Data: []byte("pdf"),
	})
	require.NoError(t, err)

	_, _, err = svc.Content(ctx, result.FileID, models.KindSummaryDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestContentSummaryMemo(t *testing.T) {
	svc, meta, store, _ := newTestService()
	ctx := context.Background()

	result, err := svc.Submit(ctx, SubmitRequest{
		Owner: "alice", Filename: "notes.txt", MIMEType: "text/plain", Data: []byte("hello"),
	})
	require.NoError(t, err)

	hash := "abc123"
	meta.files[result.FileID].ContentHash = &hash
	require.NoError(t, store.Put(ctx, storage.SummaryKey("alice", result.FileID), []byte("summary-v1"), summarydoc.ContentType))

	data, _, err := svc.Content(ctx, result.FileID, models.KindSummaryDocument)
	require.NoError(t, err)
	assert.Equal(t, "summary-v1", string(data))

	// Storage loss after the first read: the memo still serves the bytes.
	require.NoError(t, store.Delete(ctx, storage.SummaryKey("alice", result.FileID)))
	data, _, err = svc.Content(ctx, result.FileID, models.KindSummaryDocument)
	require.NoError(t, err)
	assert.Equal(t, "summary-v1", string(data))

	// A new content hash self-misses and goes back to storage.
	hash2 := "def456"
	meta.files[result.FileID].ContentHash = &hash2
	_, _, err = svc.Content(ctx, result.FileID, models.KindSummaryDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRetry(t *testing.T) {
	svc, meta, _, nudge := newTestService()
	ctx := context.Background()

	result, err := svc.Submit(ctx, SubmitRequest{
		Owner: "alice", Filename: "a.txt", MIMEType: "text/plain", Data: []byte("x"),
	})
	require.NoError(t, err)

	// Pending is not retryable.
	_, err = svc.Retry(ctx, result.FileID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	meta.jobs[result.FileID].Status = models.JobStatusFailed
	job, err := svc.Retry(ctx, result.FileID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Len(t, nudge.wakeups, 2, "submit and retry both nudge workers")
}
