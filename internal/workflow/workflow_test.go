package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"glossa/internal/cache"
	"glossa/internal/classifier"
	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/jobs"
	"glossa/internal/killswitch"
	"glossa/internal/lexicon"
	"glossa/internal/ratelimit"
	"glossa/internal/rules"
	"glossa/internal/services/ai"
	"glossa/internal/taxonomy"
	"glossa/internal/testsupport"
	"glossa/internal/workflow"
)

type countingAI struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newCountingAI() *countingAI {
	return &countingAI{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (c *countingAI) ClassifyWord(_ context.Context, req ai.Request) (ai.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.Word]++
	if c.fail[req.Word] {
		return ai.Classification{}, errors.New("model unavailable")
	}
	if !req.KnownN1.IsZero() {
		return ai.Classification{N1: req.KnownN1.String(), N2: "GE", Confidence: 0.8}, nil
	}
	return ai.Classification{N1: "LE", Confidence: 0.75}, nil
}

func (c *countingAI) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int
	for _, n := range c.calls {
		total += n
	}
	return total
}

type env struct {
	cfg      *config.Config
	jobStore *jobs.Store
	cache    *cache.Store
	lexicon  *lexicon.Store
	corpora  *corpus.Store
	ai       *countingAI
	stop     *killswitch.Switch
	flags    *killswitch.FlagStore
	executor *workflow.Executor
	orch     *workflow.Orchestrator
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	jobStore := testsupport.MustOpenJobs(t, cfg)
	cacheStore := testsupport.MustOpenCache(t, cfg)
	lexiconStore := testsupport.MustOpenLexicon(t, cfg)
	corpora := testsupport.MustOpenCorpora(t, cfg)

	flags, err := killswitch.NewFlagStore(cfg.Paths.FlagPath, 30*time.Minute, 0)
	if err != nil {
		t.Fatalf("NewFlagStore: %v", err)
	}
	stop := killswitch.NewSwitch(flags, jobStore, time.Second, nil)

	aiClient := newCountingAI()
	engine := rules.NewEngine(cfg, lexiconStore)
	tiered := classifier.New(cfg, cacheStore, engine, lexiconStore, aiClient, nil, nil)
	executor := workflow.NewExecutor(cfg, jobStore, corpora, cacheStore, tiered, aiClient, nil, stop, nil)
	orch := workflow.NewOrchestrator(cfg, jobStore, corpora, cacheStore, stop, nil)

	return &env{
		cfg:      cfg,
		jobStore: jobStore,
		cache:    cacheStore,
		lexicon:  lexiconStore,
		corpora:  corpora,
		ai:       aiClient,
		stop:     stop,
		flags:    flags,
		executor: executor,
		orch:     orch,
	}
}

func (e *env) seedCorpus(t *testing.T, id string, words []string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.corpora.Add(ctx, id, "", ""); err != nil {
		t.Fatalf("Add corpus: %v", err)
	}
	list := make([]corpus.Word, len(words))
	for i, w := range words {
		list[i] = corpus.Word{Word: w}
	}
	if _, err := e.corpora.AddWords(ctx, id, list); err != nil {
		t.Fatalf("AddWords: %v", err)
	}
}

func (e *env) runToTerminal(t *testing.T, jobID string) *jobs.Job {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		done, err := e.executor.RunChunk(ctx, jobID)
		if err != nil {
			t.Fatalf("RunChunk: %v", err)
		}
		if done {
			job, err := e.jobStore.GetByID(ctx, jobID)
			if err != nil {
				t.Fatalf("GetByID: %v", err)
			}
			return job
		}
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

func TestJobResumabilityExactRemainder(t *testing.T) {
	e := newEnv(t, testsupport.WithChunkSize(20))
	ctx := context.Background()

	words := make([]string, 100)
	for i := range words {
		words[i] = fmt.Sprintf("palavra%03d", i)
	}
	e.seedCorpus(t, "campanha", words)

	job, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if job.Total != 100 {
		t.Fatalf("expected total 100, got %d", job.Total)
	}

	// Two chunks of 20, then pause.
	for i := 0; i < 2; i++ {
		if _, err := e.executor.RunChunk(ctx, job.ID); err != nil {
			t.Fatalf("RunChunk: %v", err)
		}
	}
	if err := e.orch.Pause(ctx, job.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	paused, err := e.jobStore.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if paused.Processed != 40 || paused.Cursor != 40 {
		t.Fatalf("expected processed=40 cursor=40, got %d/%d", paused.Processed, paused.Cursor)
	}

	// A chunk against a paused job is a no-op.
	if _, err := e.executor.RunChunk(ctx, job.ID); err != nil {
		t.Fatalf("RunChunk while paused: %v", err)
	}
	if still, _ := e.jobStore.GetByID(ctx, job.ID); still.Cursor != 40 {
		t.Fatalf("paused job advanced to cursor %d", still.Cursor)
	}

	if err := e.orch.Resume(ctx, job.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	final := e.runToTerminal(t, job.ID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Processed != 100 || final.Cursor != 100 {
		t.Fatalf("expected processed=100 cursor=100, got %d/%d", final.Processed, final.Cursor)
	}
	// Exactly the remaining 60 words were classified after the resume: every
	// word saw exactly one external call, none twice.
	if e.ai.totalCalls() != 100 {
		t.Fatalf("expected 100 external calls, got %d", e.ai.totalCalls())
	}
	for word, calls := range e.ai.calls {
		if calls != 1 {
			t.Fatalf("word %q classified %d times", word, calls)
		}
	}
}

func TestKillSwitchPrecedence(t *testing.T) {
	e := newEnv(t, testsupport.WithChunkSize(2))
	ctx := context.Background()

	e.seedCorpus(t, "campanha", []string{"bagual", "pingo", "tropilha", "querência"})
	job, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.executor.RunChunk(ctx, job.ID); err != nil {
		t.Fatalf("RunChunk: %v", err)
	}

	// Flag only, without the cancel sweep: the next chunk must still cancel
	// the job even though its own cancelling flag was never set.
	if err := e.flags.Set("emergency drill"); err != nil {
		t.Fatalf("flags.Set: %v", err)
	}
	done, err := e.executor.RunChunk(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunChunk: %v", err)
	}
	if !done {
		t.Fatal("expected terminal outcome under active kill switch")
	}
	final, err := e.jobStore.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.Cancelling {
		t.Fatal("cancelling flag should never have been set")
	}
	if final.Message != jobs.KillSwitchStopReason {
		t.Fatalf("unexpected stop reason %q", final.Message)
	}
}

func TestOrchestratorStartBlockedWhileSwitchActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCorpus(t, "campanha", []string{"bagual"})

	report := e.stop.Activate(ctx, "drill")
	if !report.FullyStopped() {
		t.Fatalf("expected full stop, got %+v", report)
	}
	if _, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify); err == nil {
		t.Fatal("expected start to fail while switch active")
	}

	if err := e.stop.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify); err != nil {
		t.Fatalf("Start after clear: %v", err)
	}
}

func TestCleanupReclaimsOrphansOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCorpus(t, "campanha", []string{"bagual", "pingo"})
	e.cfg.Workflow.HeartbeatTimeout = 1

	orch := workflow.NewOrchestrator(e.cfg, e.jobStore, e.corpora, e.cache, e.stop, nil)
	job, err := orch.Start(ctx, "campanha", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok, err := e.jobStore.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPending); err != nil || !ok {
		t.Fatalf("TransitionStatus: ok=%v err=%v", ok, err)
	}
	if err := e.jobStore.Heartbeat(ctx, job.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// Heartbeat is fresh: nothing to reclaim.
	if count, err := orch.Cleanup(ctx); err != nil || count != 0 {
		t.Fatalf("expected no reclaim with fresh heartbeat, got count=%d err=%v", count, err)
	}

	time.Sleep(1200 * time.Millisecond)
	count, err := orch.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed, got %d", count)
	}
	// Idempotent: an immediate second pass reclaims nothing.
	count, err = orch.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup again: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 on second pass, got %d", count)
	}
	reclaimed, err := e.jobStore.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if reclaimed.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", reclaimed.Status)
	}
}

func TestEndToEndWordList(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, entry := range []lexicon.Entry{
		{Word: "gaucho", N1: taxonomy.Code("SH")},
		{Word: "chimarrão", N1: taxonomy.Code("FO")},
	} {
		if err := e.lexicon.Put(ctx, entry); err != nil {
			t.Fatalf("lexicon.Put: %v", err)
		}
	}
	e.ai.fail["xyz123"] = true
	e.seedCorpus(t, "campanha", []string{"chimarrão", "mate amargo", "gauchinho", "xyz123"})

	job, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	final := e.runToTerminal(t, job.ID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (message %q)", final.Status, final.Message)
	}

	chimarrao, err := e.cache.Get(ctx, "chimarrão", "")
	if err != nil || chimarrao == nil {
		t.Fatalf("chimarrão missing: %v", err)
	}
	if chimarrao.N1 != taxonomy.Code("FO") || chimarrao.Confidence != 0.95 {
		t.Fatalf("chimarrão should come from the dictionary tier, got %+v", chimarrao)
	}

	gauchinho, err := e.cache.Get(ctx, "gauchinho", "")
	if err != nil || gauchinho == nil {
		t.Fatalf("gauchinho missing: %v", err)
	}
	if gauchinho.N1 != taxonomy.Code("SH") {
		t.Fatalf("expected inherited SH, got %s", gauchinho.N1)
	}
	if gauchinho.Confidence != 0.70 || gauchinho.Source != cache.SourceInherited {
		t.Fatalf("expected inheritance confidence 0.70 dictionary-inherited, got %+v", gauchinho)
	}

	// Multi-word expression is a boundary case: skipped, never stored.
	multi, err := e.cache.Get(ctx, "mate amargo", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if multi != nil {
		t.Fatalf("multi-word expression must not be tiered, got %+v", multi)
	}

	sentinel, err := e.cache.Get(ctx, "xyz123", "")
	if err != nil || sentinel == nil {
		t.Fatalf("xyz123 missing: %v", err)
	}
	if !sentinel.Unclassified() || sentinel.Confidence != 0 {
		t.Fatalf("expected NC sentinel with confidence 0, got %+v", sentinel)
	}
	if final.Failed != 1 {
		t.Fatalf("expected 1 counted failure, got %d", final.Failed)
	}

	// None of the dictionary or rule hits reached the external service.
	if calls := e.ai.calls["chimarrão"] + e.ai.calls["gauchinho"]; calls != 0 {
		t.Fatalf("dictionary and rule tiers must skip the AI, got %d calls", calls)
	}
}

func TestRefineJobAddsN2(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCorpus(t, "campanha", []string{"bagual"})

	for i := 0; i < 3; i++ {
		if err := e.cache.Upsert(ctx, cache.Result{
			Word:       fmt.Sprintf("palavra%d", i),
			N1:         taxonomy.Code("SH"),
			Confidence: 0.8,
			Source:     cache.SourceAIPrimary,
		}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	// One entry already refined: counted as unchanged, not re-asked.
	if err := e.cache.Upsert(ctx, cache.Result{
		Word:       "refinada",
		N1:         taxonomy.Code("SH"),
		N2:         taxonomy.Code("PE"),
		Confidence: 0.9,
		Source:     cache.SourceAIPrimary,
	}); err != nil {
		t.Fatalf("Upsert refined: %v", err)
	}

	job, err := e.orch.Start(ctx, "campanha", jobs.TypeRefine)
	if err != nil {
		t.Fatalf("Start refine: %v", err)
	}
	if job.Total != 4 {
		t.Fatalf("expected total 4, got %d", job.Total)
	}
	final := e.runToTerminal(t, job.ID)
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.Improved != 3 {
		t.Fatalf("expected 3 improved, got %d", final.Improved)
	}
	if final.Unchanged != 1 {
		t.Fatalf("expected 1 unchanged, got %d", final.Unchanged)
	}
	if e.ai.calls["refinada"] != 0 {
		t.Fatal("already-refined entry must not be re-asked")
	}

	entry, err := e.cache.Get(ctx, "palavra0", "")
	if err != nil || entry == nil {
		t.Fatalf("palavra0 missing: %v", err)
	}
	if entry.N2 != taxonomy.Code("GE") {
		t.Fatalf("expected refined N2 GE, got %q", entry.N2)
	}
}

func TestSkipAdvancesPointer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCorpus(t, "campanha", []string{"bagual"})
	e.seedCorpus(t, "fronteira", []string{"pingo"})

	first, err := e.orch.Start(ctx, "", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.CorpusID != "campanha" {
		t.Fatalf("expected campanha first, got %s", first.CorpusID)
	}

	skipped, err := e.orch.Skip(ctx, jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if skipped.ID != first.ID {
		t.Fatalf("expected to skip %s, got %s", first.ID, skipped.ID)
	}
	cancelled, _ := e.jobStore.GetByID(ctx, first.ID)
	if cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	// Skip must not mark the corpus complete.
	camp, _ := e.corpora.Get(ctx, "campanha")
	if camp.Completed {
		t.Fatal("skip must not complete the corpus")
	}

	next, err := e.orch.Start(ctx, "", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start after skip: %v", err)
	}
	if next.CorpusID != "fronteira" {
		t.Fatalf("expected pointer advanced to fronteira, got %s", next.CorpusID)
	}
}

func TestManagerRunsJobToCompletion(t *testing.T) {
	e := newEnv(t, testsupport.WithChunkSize(2))
	ctx := context.Background()
	e.seedCorpus(t, "campanha", []string{"bagual", "pingo", "tropilha"})

	job, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	manager := workflow.NewManager(e.cfg, e.jobStore, e.executor, nil)
	if err := manager.Start(ctx); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	defer manager.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		current, err := e.jobStore.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if current.Status == jobs.StatusCompleted {
			if current.Processed != 3 {
				t.Fatalf("expected processed 3, got %d", current.Processed)
			}
			return
		}
		if current.Status.IsTerminal() {
			t.Fatalf("unexpected terminal status %s (%s)", current.Status, current.Message)
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("manager did not complete the job in time")
}

func TestDeferredChunkKeepsEarlySuccesses(t *testing.T) {
	ctx := context.Background()

	var clockMu sync.Mutex
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.New(1, time.Minute, 0, ratelimit.WithClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}))

	cfg := testsupport.NewConfig(t, testsupport.WithChunkSize(2), func(c *config.Config) {
		c.Workflow.WorkerCount = 1
	})
	jobStore := testsupport.MustOpenJobs(t, cfg)
	cacheStore := testsupport.MustOpenCache(t, cfg)
	lexiconStore := testsupport.MustOpenLexicon(t, cfg)
	corpora := testsupport.MustOpenCorpora(t, cfg)

	aiClient := newCountingAI()
	engine := rules.NewEngine(cfg, lexiconStore)
	tiered := classifier.New(cfg, cacheStore, engine, lexiconStore, aiClient, limiter, nil)
	// The executor gets no limiter of its own so its in-chunk retries do
	// not sleep on the fake clock's window.
	executor := workflow.NewExecutor(cfg, jobStore, corpora, cacheStore, tiered, aiClient, nil, nil, nil)

	if _, err := corpora.Add(ctx, "fronteira", "", ""); err != nil {
		t.Fatalf("Add corpus: %v", err)
	}
	if _, err := corpora.AddWords(ctx, "fronteira", []corpus.Word{
		{Word: "vaqueano"}, {Word: "peludo"},
	}); err != nil {
		t.Fatalf("AddWords: %v", err)
	}
	job, err := jobStore.Create(ctx, jobs.TypeClassify, "fronteira", 2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// First pass: the single limiter slot classifies the first word, the
	// second word stays deferred, so the chunk records nothing yet.
	done, err := executor.RunChunk(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunChunk: %v", err)
	}
	if done {
		t.Fatal("chunk with a deferred word must not complete the job")
	}
	interim, err := jobStore.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if interim.Processed != 0 || interim.Cursor != 0 {
		t.Fatalf("deferred chunk advanced: processed=%d cursor=%d", interim.Processed, interim.Cursor)
	}

	clockMu.Lock()
	now = now.Add(2 * time.Minute)
	clockMu.Unlock()

	// Retry pass: the first word now comes back from the cache but was
	// classified by this job, so it still counts as a success.
	done, err = executor.RunChunk(ctx, job.ID)
	if err != nil {
		t.Fatalf("retry RunChunk: %v", err)
	}
	if !done {
		t.Fatal("expected job to complete on the retry pass")
	}
	final, err := jobStore.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID final: %v", err)
	}
	if final.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Succeeded != 2 || final.Unchanged != 0 {
		t.Fatalf("succeeded=%d unchanged=%d, want 2 and 0", final.Succeeded, final.Unchanged)
	}
	if calls := aiClient.totalCalls(); calls != 2 {
		t.Fatalf("AI calls = %d, want 2", calls)
	}
}

func TestConsecutiveChunkFailuresErrorJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seedCorpus(t, "campanha", []string{"bagual"})

	job, err := e.orch.Start(ctx, "campanha", jobs.TypeClassify)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ok, err := e.jobStore.TransitionStatus(ctx, job.ID, jobs.StatusRunning, jobs.StatusPending); err != nil || !ok {
		t.Fatalf("TransitionStatus: ok=%v err=%v", ok, err)
	}

	// Closing the corpus store makes every chunk fetch fail at the store
	// level, which must only become terminal after repeated attempts.
	e.corpora.Close()

	for i := 0; i < e.cfg.Workflow.MaxChunkFailures; i++ {
		current, err := e.jobStore.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if current.Status != jobs.StatusRunning {
			t.Fatalf("job became %s after %d failures", current.Status, i)
		}
		if _, err := e.executor.RunChunk(ctx, job.ID); err == nil {
			t.Fatal("expected chunk failure")
		}
	}
	final, err := e.jobStore.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != jobs.StatusErrored {
		t.Fatalf("expected errored after repeated failures, got %s", final.Status)
	}
	if final.Message == "" {
		t.Fatal("expected a human-readable message on the errored job")
	}
}
