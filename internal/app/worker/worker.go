package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	customErrors "github.com/kseleznyov/identity-service/internal/domain/identity/errors"
	"github.com/kseleznyov/identity-service/internal/domain/identity/model"
	"github.com/kseleznyov/identity-service/internal/domain/identity/repo"
	"go.uber.org/zap"
)

// Handler performs the side effect for one claimed job and returns a result
// summary. A returned error finalizes the job as failed with the error text;
// failed jobs are never retried.
type Handler func(ctx context.Context, job model.Job) (result string, err error)

// Worker drives the polling loop over the job store. The in-process busy flag
// only bounds work by skipping overlapping ticks; single-flight correctness
// lives in the store's conditional claim, so running several workers against
// the same store stays safe.
type Worker struct {
	jobs     repo.JobRepo
	interval time.Duration
	log      *zap.Logger
	handlers map[string]Handler
	busy     atomic.Bool
}

func New(jobs repo.JobRepo, interval time.Duration, log *zap.Logger) *Worker {
	w := &Worker{
		jobs:     jobs,
		interval: interval,
		log:      log,
		handlers: make(map[string]Handler),
	}
	w.Register(model.JobUserCreated, w.handleUserCreated)
	w.Register(model.JobUserLoggedIn, w.handleUserLoggedIn)
	return w
}

// Register must be called before Run; the handlers map is not guarded.
func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run polls once per interval until ctx is cancelled. Polling is synchronous:
// a tick that is still processing delays the next one, and cancellation only
// takes effect at a tick boundary, so a claimed job always reaches a terminal
// state before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("job worker started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("job worker stopped")
			return nil
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll claims and processes at most one job. If the previous poll is still
// running the tick is skipped entirely.
func (w *Worker) Poll(ctx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		return
	}
	defer w.busy.Store(false)

	job, err := w.jobs.ClaimOldestPending(ctx)
	if customErrors.IsNotFound(err) {
		return
	}
	if err != nil {
		// Claim failures never kill the loop; the next tick retries.
		w.log.Error("claim job", zap.Error(err))
		return
	}

	w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job model.Job) {
	w.log.Info("processing job",
		zap.String("id", job.ID.String()),
		zap.String("type", job.Type),
	)

	var result string
	var err error
	if handler, ok := w.handlers[job.Type]; ok {
		result, err = handler(ctx, job)
	} else {
		err = fmt.Errorf("no handler for job type %q", job.Type)
	}

	if err != nil {
		w.log.Error("job failed",
			zap.String("id", job.ID.String()),
			zap.String("type", job.Type),
			zap.Error(err),
		)
		if ferr := w.jobs.FinalizeJob(ctx, job.ID, model.JobFailed, "", err.Error()); ferr != nil {
			w.log.Error("finalize failed job", zap.String("id", job.ID.String()), zap.Error(ferr))
		}
		return
	}

	if ferr := w.jobs.FinalizeJob(ctx, job.ID, model.JobCompleted, result, ""); ferr != nil {
		w.log.Error("finalize completed job", zap.String("id", job.ID.String()), zap.Error(ferr))
	}
}

type userPayload struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (w *Worker) handleUserCreated(_ context.Context, job model.Job) (string, error) {
	var p userPayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	w.log.Info("welcome email sent",
		zap.String("email", p.Email),
		zap.String("userId", p.UserID),
	)
	return "Success", nil
}

func (w *Worker) handleUserLoggedIn(_ context.Context, job model.Job) (string, error) {
	var p userPayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	w.log.Info("user logged in", zap.String("userId", p.UserID))
	return "Success", nil
}
