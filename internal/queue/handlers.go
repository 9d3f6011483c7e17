package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/filedock/filedock/internal/worker"
)

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	return &HandlersRegistry{
		mux: asynq.NewServeMux(),
	}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

// NewIngestWakeupHandler drains the claimable backlog when a nudge arrives.
// The payload identifies the job that triggered it, but the handler claims
// whatever is oldest — another worker may already own the named job, and
// that is fine.
func NewIngestWakeupHandler(w *worker.Worker) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if err := w.Drain(ctx); err != nil {
			slog.Error("wakeup drain failed", "error", err)
			return err
		}
		return nil
	}
}
