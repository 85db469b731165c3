// Package runner pulls jobs from the queue, drives each through the pipeline
// and records the outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/config"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/domain"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/observability"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/queue"
	"github.com/spherical-ai/spherical/libs/pdf-structurer/internal/storage"
)

// JobStore reads and advances job records.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Transition(ctx context.Context, id uuid.UUID, from, to domain.JobStatus, errText string) error
}

// ResultStore persists a job's output and marks it Success atomically.
type ResultStore interface {
	Persist(ctx context.Context, res *storage.Result) error
}

// Runner processes one job at a time until its context is cancelled.
type Runner struct {
	queue      queue.Queue
	jobs       JobStore
	results    ResultStore
	processor  Processor
	downloader Downloader
	cfg        config.RunnerConfig
	logger     *observability.Logger
}

// New creates a runner.
func New(q queue.Queue, jobs JobStore, results ResultStore, processor Processor, downloader Downloader, cfg config.RunnerConfig, logger *observability.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	return &Runner{
		queue:      q,
		jobs:       jobs,
		results:    results,
		processor:  processor,
		downloader: downloader,
		cfg:        cfg,
		logger:     logger.WithOperation("runner"),
	}
}

// Run polls the queue until ctx is cancelled. An empty queue sleeps for the
// poll interval; a loop error is logged and sleeps for the error backoff.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Dur("error_backoff", r.cfg.ErrorBackoff).
		Msg("Runner started")

	for {
		if ctx.Err() != nil {
			r.logger.Info().Msg("Runner stopped")
			return nil
		}

		processed, err := r.Step(ctx)
		wait := time.Duration(0)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			r.logger.Error().Err(err).Msg("Runner loop error")
			wait = r.cfg.ErrorBackoff
		case !processed:
			wait = r.cfg.PollInterval
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
	}
}

// Step takes at most one job from the queue and processes it. It reports
// whether a job was taken. Job failures are recorded on the job; only queue
// and bookkeeping failures are returned.
func (r *Runner) Step(ctx context.Context) (bool, error) {
	payload, ok, err := r.queue.Pop(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, r.handle(ctx, payload)
}

func (r *Runner) handle(ctx context.Context, payload domain.JobPayload) error {
	job, err := r.resolveJob(ctx, payload)
	if err != nil {
		return err
	}
	logger := r.logger.WithJob(job.ID.String(), job.Name)

	if err := r.jobs.Transition(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, ""); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			logger.Warn().Err(err).Msg("Job is not pending, skipping")
			return nil
		}
		return err
	}
	logger.Info().Str("url", job.SourceURL).Msg("Job processing")

	start := time.Now()
	if err := r.safeProcess(ctx, job, logger); err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Job failed")

		// Record the failure even when ctx was cancelled mid-job.
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if terr := r.jobs.Transition(failCtx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, err.Error()); terr != nil {
			return fmt.Errorf("mark job %s failed: %w", job.ID, terr)
		}
		return nil
	}

	logger.Info().Dur("duration", time.Since(start)).Msg("Job succeeded")
	return nil
}

// safeProcess runs process, turning a panic into an error so the job still
// reaches Failed and the loop keeps running.
func (r *Runner) safeProcess(ctx context.Context, job *domain.Job, logger *observability.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Str("panic", fmt.Sprint(rec)).Str("stack", string(debug.Stack())).Msg("Job processing panicked")
			err = domain.NewError(domain.ErrorTypeExtraction, fmt.Sprintf("panic during processing: %v", rec), nil)
		}
	}()
	return r.process(ctx, job, logger)
}

// resolveJob loads the job named by payload.ID, or creates a Pending job for
// payloads pushed without one.
func (r *Runner) resolveJob(ctx context.Context, payload domain.JobPayload) (*domain.Job, error) {
	if payload.ID != "" {
		id, err := uuid.Parse(payload.ID)
		if err == nil {
			job, err := r.jobs.Get(ctx, id)
			if err == nil {
				return job, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
	}

	job := &domain.Job{Name: DocumentName(payload), SourceURL: payload.URL}
	if err := r.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Runner) process(ctx context.Context, job *domain.Job, logger *observability.Logger) error {
	workDir, err := os.MkdirTemp(r.cfg.WorkDir, "pdf-job-*")
	if err != nil {
		return domain.IOError("create work dir", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove work dir")
		}
	}()

	src := filepath.Join(workDir, "source.pdf")
	if err := r.downloader.Download(ctx, job.SourceURL, src); err != nil {
		return err
	}

	out, err := r.processor.Process(ctx, job.Name, src, workDir)
	if err != nil {
		return err
	}

	return r.results.Persist(ctx, &storage.Result{
		JobID:          job.ID,
		File:           job.Name,
		Components:     out.Components,
		Assets:         out.Assets,
		PageSizes:      out.PageSizes,
		Chunks:         out.Chunks,
		EmbeddingModel: out.EmbeddingModel,
	})
}

// DocumentName returns the payload name, falling back to the URL's last path
// segment.
func DocumentName(p domain.JobPayload) string {
	if p.Name != "" {
		return p.Name
	}
	if u, err := url.Parse(p.URL); err == nil && u.Path != "" && u.Path != "/" {
		return path.Base(u.Path)
	}
	return "document.pdf"
}
