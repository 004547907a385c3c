package killswitch

import (
	"context"
	"log/slog"
	"time"

	"glossa/internal/jobs"
	"glossa/internal/logging"
)

// Canceller cancels every active job of one type. *jobs.Store satisfies it.
type Canceller interface {
	CancelActiveByType(ctx context.Context, jobType jobs.Type, reason string) (int64, error)
}

// TableResult records the outcome of the cancel fan-out for one job type.
type TableResult struct {
	Type      jobs.Type
	Cancelled int64
	Err       error
}

// Report is the structured outcome of Activate. FlagSet and the per-type
// results are independent so "flag set but N jobs unreachable" is visible
// instead of collapsing into a false all-clear.
type Report struct {
	Reason  string
	FlagSet bool
	FlagErr error
	Tables  []TableResult
}

// FullyStopped reports whether every path succeeded.
func (r Report) FullyStopped() bool {
	if !r.FlagSet {
		return false
	}
	for _, res := range r.Tables {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// TotalCancelled sums cancelled jobs across types.
func (r Report) TotalCancelled() int64 {
	var total int64
	for _, res := range r.Tables {
		total += res.Cancelled
	}
	return total
}

// Switch is the process-wide emergency stop. Activation writes the fast
// flag first, then independently sweeps every job type in the datastore.
type Switch struct {
	flags         *FlagStore
	store         Canceller
	types         []jobs.Type
	cancelTimeout time.Duration
	logger        *slog.Logger
}

// NewSwitch builds the emergency switch over a flag store and job store.
func NewSwitch(flags *FlagStore, store Canceller, cancelTimeout time.Duration, logger *slog.Logger) *Switch {
	if cancelTimeout <= 0 {
		cancelTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Switch{
		flags:         flags,
		store:         store,
		types:         []jobs.Type{jobs.TypeClassify, jobs.TypeRefine},
		cancelTimeout: cancelTimeout,
		logger:        logger.With(slog.String(logging.FieldComponent, "killswitch")),
	}
}

// Activate sets the flag and sweeps active jobs. Each job type gets its own
// time budget; one slow or failing sweep never blocks the others.
func (s *Switch) Activate(ctx context.Context, reason string) Report {
	report := Report{Reason: reason}

	if err := s.flags.Set(reason); err != nil {
		report.FlagErr = err
		s.logger.Error("emergency flag write failed", logging.Error(err))
	} else {
		report.FlagSet = true
		s.logger.Warn("emergency stop flag set", slog.String("reason", reason))
	}

	for _, jobType := range s.types {
		result := TableResult{Type: jobType}
		cancelCtx, cancel := context.WithTimeout(ctx, s.cancelTimeout)
		count, err := s.store.CancelActiveByType(cancelCtx, jobType, jobs.KillSwitchStopReason)
		cancel()
		result.Cancelled = count
		result.Err = err
		if err != nil {
			s.logger.Error("emergency cancel sweep failed",
				slog.String("job_type", string(jobType)),
				logging.Error(err))
		} else if count > 0 {
			s.logger.Warn("emergency cancel sweep",
				slog.String("job_type", string(jobType)),
				slog.Int64("cancelled", count))
		}
		report.Tables = append(report.Tables, result)
	}
	return report
}

// State returns the current flag state. Chunk executors call this before
// every chunk; FlagActive is authoritative and terminates the job.
func (s *Switch) State() (FlagState, Flag) {
	state, flag, err := s.flags.State()
	if err != nil {
		s.logger.Warn("emergency flag unreadable", logging.Error(err))
		return FlagUnknown, Flag{}
	}
	return state, flag
}

// IsActive reports a definitively active flag. Unknown reads return false;
// use State when the distinction matters.
func (s *Switch) IsActive() bool {
	state, _ := s.State()
	return state == FlagActive
}

// Clear deactivates the flag and starts the cooldown window.
func (s *Switch) Clear() error {
	if err := s.flags.Clear(); err != nil {
		return err
	}
	s.logger.Info("emergency stop flag cleared")
	return nil
}

// InCooldown reports whether new jobs should still be held back after the
// flag was cleared.
func (s *Switch) InCooldown() (bool, time.Time) {
	inCooldown, until, err := s.flags.InCooldown()
	if err != nil {
		return false, time.Time{}
	}
	return inCooldown, until
}
