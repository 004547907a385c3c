package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"glossa/internal/cache"
	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/jobs"
	"glossa/internal/killswitch"
	"glossa/internal/logging"
	"glossa/internal/services"
)

// Orchestrator drives jobs across the ordered corpus list. All of its
// state (the corpus pointer included) is instance-local and injected, so
// tests can run several orchestrators side by side.
type Orchestrator struct {
	store   *jobs.Store
	corpora *corpus.Store
	cache   *cache.Store
	stop    *killswitch.Switch
	logger  *slog.Logger

	heartbeatTimeout time.Duration

	mu      sync.Mutex
	current string // corpus pointer: last corpus handed out
}

// NewOrchestrator wires the cross-corpus job orchestrator.
func NewOrchestrator(cfg *config.Config, store *jobs.Store, corpora *corpus.Store, cacheStore *cache.Store, stop *killswitch.Switch, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	heartbeatTimeout := 5 * time.Minute
	if cfg != nil && cfg.Workflow.HeartbeatTimeout > 0 {
		heartbeatTimeout = time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second
	}
	return &Orchestrator{
		store:            store,
		corpora:          corpora,
		cache:            cacheStore,
		stop:             stop,
		logger:           logger.With(slog.String(logging.FieldComponent, "orchestrator")),
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Start creates a job for the given corpus, or for the next corpus with
// pending work when corpusID is empty. The new job starts pending; the
// manager loop (or an explicit RunChunk) picks it up.
func (o *Orchestrator) Start(ctx context.Context, corpusID string, jobType jobs.Type) (*jobs.Job, error) {
	if o.stop != nil {
		if state, flag := o.stop.State(); state == killswitch.FlagActive {
			return nil, services.Wrap(services.ErrValidation, "orchestrator", "start",
				fmt.Sprintf("emergency stop active: %s", flag.Reason), nil)
		}
		if inCooldown, until := o.stop.InCooldown(); inCooldown {
			return nil, services.Wrap(services.ErrValidation, "orchestrator", "start",
				fmt.Sprintf("emergency stop cooldown until %s", until.Format(time.RFC3339)), nil)
		}
	}

	target, err := o.resolveCorpus(ctx, corpusID)
	if err != nil {
		return nil, err
	}

	var total int64
	switch jobType {
	case jobs.TypeRefine:
		total, err = o.cache.CountClassified(ctx)
	default:
		total, err = o.corpora.WordCount(ctx, target.ID)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "orchestrator", "start", "size job", err)
	}
	if total == 0 {
		return nil, services.Wrap(services.ErrValidation, "orchestrator", "start",
			fmt.Sprintf("no work for corpus %q", target.ID), nil)
	}

	job, err := o.store.Create(ctx, jobType, target.ID, total)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "orchestrator", "start", "create job", err)
	}

	o.mu.Lock()
	o.current = target.ID
	o.mu.Unlock()

	o.logger.Info("job created",
		slog.String(logging.FieldJobID, job.ID),
		slog.String(logging.FieldCorpus, target.ID),
		slog.String("job_type", string(jobType)),
		slog.Int64("total", total))
	return job, nil
}

func (o *Orchestrator) resolveCorpus(ctx context.Context, corpusID string) (*corpus.Corpus, error) {
	if corpusID != "" {
		target, err := o.corpora.Get(ctx, corpusID)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "orchestrator", "start", "load corpus", err)
		}
		if target == nil {
			return nil, services.Wrap(services.ErrNotFound, "orchestrator", "start",
				fmt.Sprintf("corpus %q not registered", corpusID), nil)
		}
		return target, nil
	}

	o.mu.Lock()
	after := o.current
	o.mu.Unlock()

	target, err := o.corpora.NextPending(ctx, after)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "orchestrator", "start", "advance corpus pointer", err)
	}
	if target == nil && after != "" {
		// Wrap around once: corpora before the pointer may still be pending.
		target, err = o.corpora.NextPending(ctx, "")
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "orchestrator", "start", "advance corpus pointer", err)
		}
	}
	if target == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "start", "no corpus with pending work", nil)
	}
	return target, nil
}

// Pause suspends a running job between chunks.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) error {
	ok, err := o.store.TransitionStatus(ctx, jobID, jobs.StatusPaused, jobs.StatusRunning)
	if err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrValidation, "orchestrator", "pause", "job is not running", nil)
	}
	return nil
}

// Resume returns a paused job to running; its cursor is untouched, so the
// next chunk continues exactly where the pause landed.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	ok, err := o.store.TransitionStatus(ctx, jobID, jobs.StatusRunning, jobs.StatusPaused)
	if err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrValidation, "orchestrator", "resume", "job is not paused", nil)
	}
	return nil
}

// Cancel requests cancellation; an in-flight chunk finishes and the next
// chunk invocation finalizes the job.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	return o.store.RequestCancel(ctx, jobID)
}

// Skip cancels the current job of one type and advances the corpus pointer
// past its corpus without marking the corpus complete.
func (o *Orchestrator) Skip(ctx context.Context, jobType jobs.Type) (*jobs.Job, error) {
	job, err := o.store.ActiveForType(ctx, jobType)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "skip",
			fmt.Sprintf("no active %s job", jobType), nil)
	}
	if err := o.store.FinalizeCancelled(ctx, job.ID, jobs.UserStopReason); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.current = job.CorpusID
	o.mu.Unlock()

	o.logger.Info("job skipped",
		slog.String(logging.FieldJobID, job.ID),
		slog.String(logging.FieldCorpus, job.CorpusID))
	return job, nil
}

// Cleanup reclaims orphaned jobs: still running or paused, but with a
// heartbeat older than the configured timeout. Idempotent; a fresh
// heartbeat is never touched.
func (o *Orchestrator) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-o.heartbeatTimeout)
	reclaimed, err := o.store.ReclaimOrphans(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		o.logger.Info("cleanup reclaimed orphaned jobs", slog.Int64("count", reclaimed))
	}
	return reclaimed, nil
}

// JobStatus is one job's read model, with the ETA computed on read.
type JobStatus struct {
	Job          *jobs.Job
	ETA          time.Duration
	ETAAvailable bool
}

// Status returns the read model for every non-terminal job plus recently
// finished ones.
func (o *Orchestrator) Status(ctx context.Context) ([]JobStatus, error) {
	list, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]JobStatus, 0, len(list))
	for _, job := range list {
		status := JobStatus{Job: job}
		status.ETA, status.ETAAvailable = job.ETA(now)
		out = append(out, status)
	}
	return out, nil
}

// CurrentCorpus exposes the pointer for status surfaces.
func (o *Orchestrator) CurrentCorpus() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}
