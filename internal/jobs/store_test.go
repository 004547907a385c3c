package jobs_test

import (
	"context"
	"testing"
	"time"

	"glossa/internal/jobs"
	"glossa/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	created, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != jobs.StatusPending {
		t.Fatalf("new job status = %s, want pending", created.Status)
	}
	if created.Total != 100 || created.Cursor != 0 {
		t.Fatalf("new job total=%d cursor=%d", created.Total, created.Cursor)
	}

	fetched, err := store.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Type != jobs.TypeClassify || fetched.CorpusID != "songs-1" {
		t.Fatalf("fetched type=%s corpus=%s", fetched.Type, fetched.CorpusID)
	}
}

func TestCreateSupersedesSiblingJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	first, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	got, err := store.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if got.Status != jobs.StatusCancelled {
		t.Fatalf("superseded job status = %s, want cancelled", got.Status)
	}
	if second.Status != jobs.StatusPending {
		t.Fatalf("new job status = %s, want pending", second.Status)
	}

	// A different type in the same corpus is a separate scope.
	refine, err := store.Create(ctx, jobs.TypeRefine, "songs-1", 10)
	if err != nil {
		t.Fatalf("refine job in same corpus: %v", err)
	}
	if fetched, err := store.GetByID(ctx, second.ID); err != nil || fetched.Status != jobs.StatusPending {
		t.Fatalf("classify job should survive a refine create: %v %v", fetched, err)
	}
	if refine.Status != jobs.StatusPending {
		t.Fatalf("refine job status = %s, want pending", refine.Status)
	}
}

func TestTransitionStatusGuards(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	job, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := store.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPending)
	if err != nil || !ok {
		t.Fatalf("pending->running: ok=%v err=%v", ok, err)
	}

	// Guard mismatch: job is running, not pending.
	ok, err = store.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPending)
	if err != nil {
		t.Fatalf("repeat transition: %v", err)
	}
	if ok {
		t.Fatal("transition with stale guard should report false")
	}

	ok, err = store.TransitionStatus(ctx, job.ID, jobs.StatusPaused, jobs.StatusRunning)
	if err != nil || !ok {
		t.Fatalf("running->paused: ok=%v err=%v", ok, err)
	}
	ok, err = store.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPaused)
	if err != nil || !ok {
		t.Fatalf("paused->running: ok=%v err=%v", ok, err)
	}

	ok, err = store.TransitionStatus(ctx, job.ID, jobs.StatusCompleted, jobs.StatusRunning)
	if err != nil || !ok {
		t.Fatalf("running->completed: ok=%v err=%v", ok, err)
	}

	// Terminal states accept nothing.
	ok, err = store.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusCompleted, jobs.StatusPaused)
	if err != nil {
		t.Fatalf("transition out of terminal: %v", err)
	}
	if ok {
		t.Fatal("completed job should not transition back to running")
	}
	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.FinishedAt == nil {
		t.Fatal("terminal job should have finished_at set")
	}
}

func TestRecordChunkOnlyWhileRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	job, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 100)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	progress := jobs.ChunkProgress{Processed: 40, Succeeded: 38, Failed: 2, Cursor: 40}

	// Pending job: the guard rejects the write.
	ok, err := store.RecordChunk(ctx, job.ID, progress)
	if err != nil {
		t.Fatalf("record on pending: %v", err)
	}
	if ok {
		t.Fatal("chunk recorded against a pending job")
	}

	if _, err := store.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPending); err != nil {
		t.Fatalf("start: %v", err)
	}
	ok, err = store.RecordChunk(ctx, job.ID, progress)
	if err != nil || !ok {
		t.Fatalf("record on running: ok=%v err=%v", ok, err)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Processed != 40 || fetched.Succeeded != 38 || fetched.Failed != 2 || fetched.Cursor != 40 {
		t.Fatalf("counters after chunk: processed=%d succeeded=%d failed=%d cursor=%d",
			fetched.Processed, fetched.Succeeded, fetched.Failed, fetched.Cursor)
	}
	if fetched.LastHeartbeat == nil {
		t.Fatal("chunk write should refresh the heartbeat")
	}

	// Cancel mid-run; the next chunk write must be discarded.
	if err := store.FinalizeCancelled(ctx, job.ID, jobs.UserStopReason); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	ok, err = store.RecordChunk(ctx, job.ID, jobs.ChunkProgress{Processed: 20, Cursor: 60})
	if err != nil {
		t.Fatalf("record on cancelled: %v", err)
	}
	if ok {
		t.Fatal("chunk recorded against a cancelled job")
	}
	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Processed != 40 || final.Cursor != 40 {
		t.Fatalf("cancelled job advanced: processed=%d cursor=%d", final.Processed, final.Cursor)
	}
}

func TestRequestCancelPendingAndRunning(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	pending, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.RequestCancel(ctx, pending.ID); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	got, err := store.GetByID(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusCancelled {
		t.Fatalf("pending job after cancel = %s, want cancelled outright", got.Status)
	}

	running, err := store.Create(ctx, jobs.TypeClassify, "songs-2", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.TransitionStatus(ctx, running.ID, jobs.StatusRunning, jobs.StatusPending); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.RequestCancel(ctx, running.ID); err != nil {
		t.Fatalf("cancel running: %v", err)
	}
	got, err = store.GetByID(ctx, running.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusRunning || !got.Cancelling {
		t.Fatalf("running job after cancel request: status=%s cancelling=%v", got.Status, got.Cancelling)
	}
}

func TestReclaimOrphansIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	stale, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.TransitionStatus(ctx, stale.ID, jobs.StatusRunning, jobs.StatusPending); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.Heartbeat(ctx, stale.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	fresh, err := store.Create(ctx, jobs.TypeRefine, "songs-1", 10)
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}
	if _, err := store.TransitionStatus(ctx, fresh.ID, jobs.StatusRunning, jobs.StatusPending); err != nil {
		t.Fatalf("start fresh: %v", err)
	}
	if err := store.Heartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("heartbeat fresh: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	// Only the stale job's heartbeat predates the cutoff.
	if err := store.Heartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("refresh fresh: %v", err)
	}

	count, err := store.ReclaimOrphans(ctx, time.Now().Add(-40*time.Millisecond))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if count != 1 {
		t.Fatalf("reclaimed %d jobs, want 1", count)
	}

	count, err = store.ReclaimOrphans(ctx, time.Now().Add(-40*time.Millisecond))
	if err != nil {
		t.Fatalf("second reclaim: %v", err)
	}
	if count != 0 {
		t.Fatalf("second reclaim touched %d jobs, want 0", count)
	}

	got, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != jobs.StatusCancelled || got.Message != jobs.OrphanStopReason {
		t.Fatalf("stale job: status=%s message=%q", got.Status, got.Message)
	}
	if fetched, err := store.GetByID(ctx, fresh.ID); err != nil || fetched.Status != jobs.StatusRunning {
		t.Fatalf("fresh job should stay running: %v %v", fetched, err)
	}
}

func TestReclaimOrphansBeforeFirstHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	job, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// A worker that starts the job and dies before its first heartbeat
	// refresh must still look stale once the cutoff passes its start time.
	if _, err := store.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPending); err != nil {
		t.Fatalf("start: %v", err)
	}

	count, err := store.ReclaimOrphans(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if count != 1 {
		t.Fatalf("reclaimed %d jobs, want 1", count)
	}
	got, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobs.StatusCancelled || got.Message != jobs.OrphanStopReason {
		t.Fatalf("job: status=%s message=%q", got.Status, got.Message)
	}
}

func TestCancelActiveByType(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	classify, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10)
	if err != nil {
		t.Fatalf("create classify: %v", err)
	}
	refine, err := store.Create(ctx, jobs.TypeRefine, "songs-1", 10)
	if err != nil {
		t.Fatalf("create refine: %v", err)
	}

	count, err := store.CancelActiveByType(ctx, jobs.TypeClassify, "emergency stop")
	if err != nil {
		t.Fatalf("cancel by type: %v", err)
	}
	if count != 1 {
		t.Fatalf("cancelled %d classify jobs, want 1", count)
	}

	got, err := store.GetByID(ctx, classify.ID)
	if err != nil {
		t.Fatalf("get classify: %v", err)
	}
	if got.Status != jobs.StatusCancelled || got.Message != "emergency stop" {
		t.Fatalf("classify job: status=%s message=%q", got.Status, got.Message)
	}
	if fetched, err := store.GetByID(ctx, refine.ID); err != nil || fetched.Status != jobs.StatusPending {
		t.Fatalf("refine job should be untouched: %v %v", fetched, err)
	}
}

func TestActiveForTypePicksNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenJobs(t, cfg)
	ctx := context.Background()

	if _, err := store.Create(ctx, jobs.TypeClassify, "songs-1", 10); err != nil {
		t.Fatalf("create first: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := store.Create(ctx, jobs.TypeClassify, "songs-2", 10)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	active, err := store.ActiveForType(ctx, jobs.TypeClassify)
	if err != nil {
		t.Fatalf("active for type: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("active job = %v, want the newest (%s)", active, second.ID)
	}
}
