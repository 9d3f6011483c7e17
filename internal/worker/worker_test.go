package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedock/filedock/internal/classify"
	"github.com/filedock/filedock/internal/metastore"
	"github.com/filedock/filedock/internal/models"
	"github.com/filedock/filedock/internal/pipeline"
)

// fakeJobStore queues jobs in memory and mimics the store's claim semantics,
// including losing the race for jobs already claimed elsewhere.
type fakeJobStore struct {
	mu      sync.Mutex
	pending []*models.ProcessingJob
	claimed map[uuid.UUID]string
	failed  map[uuid.UUID]string

	stolen    map[uuid.UUID]bool // claims that will race-lose
	reclaimed int64
	storeErr  error
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		claimed: make(map[uuid.UUID]string),
		failed:  make(map[uuid.UUID]string),
		stolen:  make(map[uuid.UUID]bool),
	}
}

func (s *fakeJobStore) add(fileID uuid.UUID) *models.ProcessingJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &models.ProcessingJob{ID: uuid.New(), FileID: fileID, Status: models.JobStatusPending}
	s.pending = append(s.pending, job)
	return job
}

// steal reassigns a live claim to another worker, as a stale reclaim followed
// by a new claim would.
func (s *fakeJobStore) steal(jobID uuid.UUID, workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed[jobID] = workerID
}

func (s *fakeJobStore) NextPending(ctx context.Context) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return uuid.Nil, s.storeErr
	}
	if len(s.pending) == 0 {
		return uuid.Nil, metastore.ErrNoPending
	}
	return s.pending[0].ID, nil
}

func (s *fakeJobStore) Claim(ctx context.Context, jobID uuid.UUID, workerID string) (*models.ProcessingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || s.pending[0].ID != jobID || s.stolen[jobID] {
		// Someone else transitioned it already.
		if s.stolen[jobID] {
			s.pending = s.pending[1:]
			delete(s.stolen, jobID)
		}
		return nil, metastore.ErrClaimRaceLost
	}
	job := s.pending[0]
	s.pending = s.pending[1:]
	job.Status = models.JobStatusClaimed
	s.claimed[job.ID] = workerID
	return job, nil
}

func (s *fakeJobStore) MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[jobID] != workerID {
		return metastore.ErrClaimRaceLost
	}
	return nil
}

func (s *fakeJobStore) FailJob(ctx context.Context, jobID uuid.UUID, workerID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[jobID] != workerID {
		return metastore.ErrClaimRaceLost
	}
	s.failed[jobID] = lastError
	return nil
}

func (s *fakeJobStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reclaimed, nil
}

func (s *fakeJobStore) PendingCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending)), nil
}

type fakePipeline struct {
	mu    sync.Mutex
	ran   []uuid.UUID
	fail  map[uuid.UUID]error
	onRun func()
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{fail: make(map[uuid.UUID]error)}
}

func (p *fakePipeline) Run(ctx context.Context, job *models.ProcessingJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ran = append(p.ran, job.ID)
	if p.onRun != nil {
		p.onRun()
	}
	return p.fail[job.ID]
}

func TestRunOnceNoPending(t *testing.T) {
	w := New("w1", newFakeJobStore(), newFakePipeline(), Options{})

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRunOnceProcessesJob(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()

	var terminal []uuid.UUID
	w := New("w1", jobs, pipe, Options{OnTerminal: func(fileID uuid.UUID) {
		terminal = append(terminal, fileID)
	}})

	fileID := uuid.New()
	job := jobs.add(fileID)

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []uuid.UUID{job.ID}, pipe.ran)
	assert.Equal(t, "w1", jobs.claimed[job.ID])
	assert.Empty(t, jobs.failed)
	assert.Equal(t, []uuid.UUID{fileID}, terminal, "terminal hook fires on success")
}

func TestRunOnceClaimRaceLost(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()
	w := New("w1", jobs, pipe, Options{})

	job := jobs.add(uuid.New())
	jobs.stolen[job.ID] = true

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err, "a lost race is not an error")
	assert.True(t, worked, "losing the race still counts as activity")
	assert.Empty(t, pipe.ran, "stolen job must not be processed")
}

func TestRunOnceRecordsFailure(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()
	w := New("w1", jobs, pipe, Options{})

	job := jobs.add(uuid.New())
	pipe.fail[job.ID] = &pipeline.StageError{Stage: classify.StageExtract, Err: fmt.Errorf("decode image: bad header")}

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, "extract: decode image: bad header", jobs.failed[job.ID],
		"last_error carries the stage tag")
}

func TestRunOnceFinalizeRaceLostIsNotFailure(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()

	var terminal []uuid.UUID
	w := New("w1", jobs, pipe, Options{OnTerminal: func(fileID uuid.UUID) {
		terminal = append(terminal, fileID)
	}})

	// The job went stale mid-run and another attempt finalized it first.
	job := jobs.add(uuid.New())
	pipe.fail[job.ID] = &pipeline.StageError{Stage: classify.StageFinalize, Err: metastore.ErrClaimRaceLost}

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Empty(t, jobs.failed, "a finalize race loss must not be recorded as a job failure")
	assert.Empty(t, terminal, "the winning attempt owns the terminal transition")
}

func TestRunOnceFailureAfterReclaimIsDropped(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()
	w := New("w1", jobs, pipe, Options{})

	job := jobs.add(uuid.New())
	pipe.fail[job.ID] = fmt.Errorf("oom")
	// Simulate the claim being reclaimed and re-owned while the run failed.
	pipe.onRun = func() { jobs.steal(job.ID, "w2") }

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Empty(t, jobs.failed, "a worker without the claim cannot park the job in failed")
}

func TestRunOnceStoreErrorIsFatal(t *testing.T) {
	jobs := newFakeJobStore()
	jobs.storeErr = errors.New("connection refused")
	w := New("w1", jobs, newFakePipeline(), Options{})

	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestDrainProcessesBacklog(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()
	w := New("w1", jobs, pipe, Options{})

	for i := 0; i < 5; i++ {
		jobs.add(uuid.New())
	}

	require.NoError(t, w.Drain(context.Background()))
	assert.Len(t, pipe.ran, 5)

	n, _ := jobs.PendingCount(context.Background())
	assert.Zero(t, n)
}

func TestRunStopsOnCancel(t *testing.T) {
	jobs := newFakeJobStore()
	w := New("w1", jobs, newFakePipeline(), Options{IdleBackoff: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestConcurrentWorkersOneWinner(t *testing.T) {
	jobs := newFakeJobStore()
	pipe := newFakePipeline()
	jobs.add(uuid.New())

	// Two workers race for the same single job; exactly one processes it.
	w1 := New("w1", jobs, pipe, Options{})
	w2 := New("w2", jobs, pipe, Options{})

	var wg sync.WaitGroup
	for _, w := range []*Worker{w1, w2} {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_, err := w.RunOnce(context.Background())
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	assert.Len(t, pipe.ran, 1, "exactly one worker may process the job")
}
