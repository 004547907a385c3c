package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"glossa/internal/config"
	"glossa/internal/jobs"
	"glossa/internal/logging"
)

// Manager is the daemon loop: it polls for active jobs, runs their chunks,
// keeps heartbeats fresh while a chunk is in flight, and reclaims orphans.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	executor     *Executor
	heartbeat    *HeartbeatMonitor
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager constructs the workflow manager.
func NewManager(cfg *config.Config, store *jobs.Store, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	pollInterval := 5 * time.Second
	heartbeatInterval := 10 * time.Second
	heartbeatTimeout := 5 * time.Minute
	if cfg != nil {
		if cfg.Workflow.PollInterval > 0 {
			pollInterval = time.Duration(cfg.Workflow.PollInterval) * time.Second
		}
		if cfg.Workflow.HeartbeatInterval > 0 {
			heartbeatInterval = time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second
		}
		if cfg.Workflow.HeartbeatTimeout > 0 {
			heartbeatTimeout = time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second
		}
	}
	managerLogger := logger.With(slog.String(logging.FieldComponent, "workflow"))
	return &Manager{
		cfg:          cfg,
		store:        store,
		executor:     executor,
		heartbeat:    NewHeartbeatMonitor(store, managerLogger, heartbeatInterval, heartbeatTimeout),
		logger:       managerLogger,
		pollInterval: pollInterval,
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop terminates background processing and waits for the loop to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether the loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := m.heartbeat.ReclaimOrphans(ctx, m.logger); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("orphan reclaim failed", logging.Error(err))
		}

		worked := false
		for _, jobType := range []jobs.Type{jobs.TypeClassify, jobs.TypeRefine} {
			ran, err := m.runActiveJob(ctx, jobType)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				m.logger.Warn("chunk execution failed",
					slog.String("job_type", string(jobType)),
					logging.Error(err))
			}
			worked = worked || ran
		}

		if worked {
			// More chunks are likely waiting; poll again without delay but
			// still yield to cancellation.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.pollInterval):
		}
	}
}

// runActiveJob executes one chunk for the active job of a type, if any.
// Heartbeats run alongside the chunk so a long AI-bound chunk is never
// mistaken for an orphan.
func (m *Manager) runActiveJob(ctx context.Context, jobType jobs.Type) (bool, error) {
	job, err := m.store.ActiveForType(ctx, jobType)
	if err != nil {
		return false, err
	}
	if job == nil || job.Status == jobs.StatusPaused {
		return false, nil
	}

	chunkCtx, cancelHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(chunkCtx, &hbWG, job.ID)

	terminal, err := m.executor.RunChunk(ctx, job.ID)
	cancelHeartbeat()
	hbWG.Wait()
	if err != nil {
		return false, err
	}
	return !terminal, nil
}
