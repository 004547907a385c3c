package jobs

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a classification job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// Type identifies what a job does over its corpus.
type Type string

const (
	// TypeClassify walks every corpus word through the tiered classifier.
	TypeClassify Type = "classify"
	// TypeRefine revisits classified entries that only carry N1 and asks
	// the external tier for a deeper level.
	TypeRefine Type = "refine"
)

// KillSwitchStopReason is the message recorded when jobs are cancelled by the
// emergency kill switch.
const KillSwitchStopReason = "Stopped by kill switch"

// UserStopReason is the message recorded when a user explicitly cancels a job.
const UserStopReason = "Cancel requested by user"

// OrphanStopReason is the message recorded when cleanup reclaims a job whose
// executor stopped heartbeating.
const OrphanStopReason = "Reclaimed as orphaned"

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusPaused,
	StatusCompleted,
	StatusErrored,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusErrored, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
}

// Job is one long-running classification run over a bounded set of work
// items, processed in fixed-size chunks and resumable across restarts.
type Job struct {
	ID            string
	Type          Type
	CorpusID      string
	Status        Status
	Total         int64
	Processed     int64
	Succeeded     int64
	Failed        int64
	Improved      int64
	Unchanged     int64
	Cursor        int64
	Message       string
	Cancelling    bool
	LastHeartbeat *time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseType converts a string into a known job Type.
func ParseType(value string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(value))) {
	case TypeClassify:
		return TypeClassify, true
	case TypeRefine:
		return TypeRefine, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusErrored, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a job in this status still owns its scope.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Remaining returns the number of work items not yet processed.
func (j *Job) Remaining() int64 {
	if j.Processed >= j.Total {
		return 0
	}
	return j.Total - j.Processed
}

// ETA estimates the remaining runtime from observed throughput. The second
// return value is false when no estimate is available: the job is not
// running, nothing has been processed yet, or the start time is missing.
func (j *Job) ETA(now time.Time) (time.Duration, bool) {
	if j.Status != StatusRunning || j.Processed <= 0 || j.StartedAt == nil {
		return 0, false
	}
	elapsed := now.Sub(*j.StartedAt)
	if elapsed <= 0 {
		return 0, false
	}
	rate := float64(j.Processed) / elapsed.Seconds()
	if rate <= 0 {
		return 0, false
	}
	return time.Duration(float64(j.Remaining()) / rate * float64(time.Second)), true
}

// HeartbeatAge returns how long ago the job last heartbeat, or false when it
// never has.
func (j *Job) HeartbeatAge(now time.Time) (time.Duration, bool) {
	if j.LastHeartbeat == nil {
		return 0, false
	}
	return now.Sub(*j.LastHeartbeat), true
}
