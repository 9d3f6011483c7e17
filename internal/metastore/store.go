// Package metastore is the source of truth for file identity and processing
// state. All cross-worker coordination funnels through its atomic conditional
// updates; nothing above it holds locks.
package metastore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned for ids that do not exist or are soft-deleted.
	ErrNotFound = errors.New("metastore: not found")

	// ErrJobActive is returned when a submission targets a file that already
	// has a non-terminal job. The caller retries once that job is terminal.
	ErrJobActive = errors.New("metastore: file already has an active job")

	// ErrClaimRaceLost means another worker claimed the job between candidate
	// selection and the conditional update. Not a failure: move on.
	ErrClaimRaceLost = errors.New("metastore: claim race lost")

	// ErrNoPending means there is currently nothing to claim.
	ErrNoPending = errors.New("metastore: no pending jobs")
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}
