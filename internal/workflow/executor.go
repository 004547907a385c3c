package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"glossa/internal/cache"
	"glossa/internal/classifier"
	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/jobs"
	"glossa/internal/killswitch"
	"glossa/internal/logging"
	"glossa/internal/ratelimit"
	"glossa/internal/services/ai"
	"glossa/internal/taxonomy"
)

// Executor runs one job chunk per invocation. It never schedules itself;
// the manager loop (or a test) decides when the next chunk runs, which
// bounds how long any single call can block.
type Executor struct {
	cfg     *config.Config
	store   *jobs.Store
	corpora *corpus.Store
	cache   *cache.Store
	tiered  *classifier.Tiered
	client  classifier.AIClient
	limiter *ratelimit.Limiter
	stop    *killswitch.Switch
	logger  *slog.Logger

	chunkSize            int64
	workerCount          int
	maxChunkFailures     int
	deferredWaitAttempts int

	mu       sync.Mutex
	failures map[string]int
	resolved map[string]map[string]bool
}

// NewExecutor wires the chunk executor.
func NewExecutor(
	cfg *config.Config,
	store *jobs.Store,
	corpora *corpus.Store,
	cacheStore *cache.Store,
	tiered *classifier.Tiered,
	client classifier.AIClient,
	limiter *ratelimit.Limiter,
	stop *killswitch.Switch,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	chunkSize := int64(50)
	workerCount := 4
	maxChunkFailures := 3
	deferredWaitAttempts := 3
	if cfg != nil {
		if cfg.Workflow.ChunkSize > 0 {
			chunkSize = int64(cfg.Workflow.ChunkSize)
		}
		if cfg.Workflow.WorkerCount > 0 {
			workerCount = cfg.Workflow.WorkerCount
		}
		if cfg.Workflow.MaxChunkFailures > 0 {
			maxChunkFailures = cfg.Workflow.MaxChunkFailures
		}
		if cfg.Workflow.DeferredWaitAttempts > 0 {
			deferredWaitAttempts = cfg.Workflow.DeferredWaitAttempts
		}
	}
	return &Executor{
		cfg:                  cfg,
		store:                store,
		corpora:              corpora,
		cache:                cacheStore,
		tiered:               tiered,
		client:               client,
		limiter:              limiter,
		stop:                 stop,
		logger:               logger.With(slog.String(logging.FieldComponent, "executor")),
		chunkSize:            chunkSize,
		workerCount:          workerCount,
		maxChunkFailures:     maxChunkFailures,
		deferredWaitAttempts: deferredWaitAttempts,
		failures:             make(map[string]int),
		resolved:             make(map[string]map[string]bool),
	}
}

// RunChunk executes the next chunk of a job. Returns true when the job
// reached a terminal state during this invocation.
func (e *Executor) RunChunk(ctx context.Context, jobID string) (bool, error) {
	log := e.logger.With(slog.String(logging.FieldJobID, jobID))

	// The kill switch is checked before anything else so the latency between
	// activation and effective stop is at most one chunk.
	if e.stop != nil {
		if state, _ := e.stop.State(); state == killswitch.FlagActive {
			if err := e.store.FinalizeCancelled(ctx, jobID, jobs.KillSwitchStopReason); err != nil {
				return false, err
			}
			log.Warn("job cancelled by kill switch")
			return true, nil
		}
	}

	job, err := e.store.GetByID(ctx, jobID)
	if err != nil {
		return false, e.chunkFailure(ctx, jobID, log, err)
	}
	if job == nil || job.Status.IsTerminal() {
		return true, nil
	}
	if job.Cancelling {
		if err := e.store.FinalizeCancelled(ctx, jobID, jobs.UserStopReason); err != nil {
			return false, err
		}
		log.Info("job cancelled on request")
		return true, nil
	}
	switch job.Status {
	case jobs.StatusPaused:
		return false, nil
	case jobs.StatusPending:
		ok, err := e.store.TransitionStatus(ctx, jobID, jobs.StatusRunning, jobs.StatusPending)
		if err != nil {
			return false, e.chunkFailure(ctx, jobID, log, err)
		}
		if !ok {
			// Lost the race to a cancel; re-read next invocation.
			return false, nil
		}
		job.Status = jobs.StatusRunning
	}

	log = log.With(slog.String(logging.FieldCorpus, job.CorpusID))

	var progress jobs.ChunkProgress
	var fetched int64
	switch job.Type {
	case jobs.TypeRefine:
		fetched, progress, err = e.runRefineChunk(ctx, job, log)
	default:
		fetched, progress, err = e.runClassifyChunk(ctx, job, log)
	}
	if err != nil {
		return false, e.chunkFailure(ctx, jobID, log, err)
	}
	e.clearFailures(jobID)
	if fetched == 0 && progress.Processed == 0 {
		// Work source is exhausted even though cursor < total (items removed
		// out of band); complete rather than spin.
		return e.complete(ctx, job, log)
	}
	if progress.Processed == 0 {
		// Every item deferred; the cursor stays put and the next invocation
		// retries the same chunk.
		return false, nil
	}

	ok, err := e.store.RecordChunk(ctx, job.ID, progress)
	if err != nil {
		return false, e.chunkFailure(ctx, jobID, log, err)
	}
	if !ok {
		// Status changed under us (pause, cancel, kill switch sweep); the
		// chunk's cache writes are idempotent so nothing is lost.
		log.Info("chunk result discarded, job no longer running")
		return false, nil
	}

	log.Debug("chunk recorded",
		slog.Int64("cursor", progress.Cursor),
		slog.Int64("processed", progress.Processed),
		slog.Int64("failed", progress.Failed))

	if progress.Cursor >= job.Total {
		job.Cursor = progress.Cursor
		return e.complete(ctx, job, log)
	}
	return false, nil
}

func (e *Executor) complete(ctx context.Context, job *jobs.Job, log *slog.Logger) (bool, error) {
	ok, err := e.store.TransitionStatus(ctx, job.ID, jobs.StatusCompleted, jobs.StatusRunning)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	e.clearResolved(job.ID)
	log.Info("job completed",
		slog.String("job_type", string(job.Type)),
		slog.Int64("total", job.Total))
	if job.Type == jobs.TypeClassify && e.corpora != nil && job.CorpusID != "" {
		pending, err := e.corpora.PendingWordCount(ctx, job.CorpusID)
		if err == nil && pending == 0 {
			if err := e.corpora.MarkCompleted(ctx, job.CorpusID); err != nil {
				log.Warn("mark corpus completed failed", logging.Error(err))
			}
		}
	}
	return true, nil
}

// chunkFailure counts a whole-chunk failure. The cursor never advanced, so
// the chunk retries on the next invocation; only repeated consecutive
// failures surface as the terminal errored status.
func (e *Executor) chunkFailure(ctx context.Context, jobID string, log *slog.Logger, cause error) error {
	e.mu.Lock()
	e.failures[jobID]++
	count := e.failures[jobID]
	e.mu.Unlock()

	log.Error("chunk failed", slog.Int("consecutive", count), logging.Error(cause))
	if count < e.maxChunkFailures {
		return cause
	}
	message := fmt.Sprintf("aborted after %d consecutive chunk failures: %v", count, cause)
	if err := e.store.MarkErrored(ctx, jobID, message); err != nil {
		log.Error("mark errored failed", logging.Error(err))
	}
	e.clearFailures(jobID)
	return cause
}

func (e *Executor) clearFailures(jobID string) {
	e.mu.Lock()
	delete(e.failures, jobID)
	e.mu.Unlock()
}

// markResolved remembers words classified fresh during a chunk pass that was
// held back by deferrals. The next pass over the same chunk sees them as
// cache hits; the marks keep them counted as successes rather than unchanged.
func (e *Executor) markResolved(jobID string, words []string) {
	if len(words) == 0 {
		return
	}
	e.mu.Lock()
	set := e.resolved[jobID]
	if set == nil {
		set = make(map[string]bool)
		e.resolved[jobID] = set
	}
	for _, word := range words {
		set[word] = true
	}
	e.mu.Unlock()
}

func (e *Executor) wasResolved(jobID, word string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolved[jobID][word]
}

func (e *Executor) clearResolved(jobID string) {
	e.mu.Lock()
	delete(e.resolved, jobID)
	e.mu.Unlock()
}

type classifyItem struct {
	word    *corpus.Word
	outcome classifier.Outcome
	err     error
}

func (e *Executor) runClassifyChunk(ctx context.Context, job *jobs.Job, log *slog.Logger) (int64, jobs.ChunkProgress, error) {
	var progress jobs.ChunkProgress
	words, err := e.corpora.WordsChunk(ctx, job.CorpusID, job.Cursor, e.chunkSize)
	if err != nil {
		return 0, progress, err
	}
	if len(words) == 0 {
		return 0, progress, nil
	}

	items := make([]classifyItem, len(words))
	for i := range words {
		items[i].word = words[i]
	}

	// Word classification is independent and idempotent, so the chunk fans
	// out across a bounded pool. Same-word cache writes serialize in sqlite.
	var wg sync.WaitGroup
	work := make(chan int)
	workers := e.workerCount
	if workers > len(items) {
		workers = len(items)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				items[i].outcome, items[i].err = e.classifyWord(ctx, items[i].word)
			}
		}()
	}
	for i := range items {
		work <- i
	}
	close(work)
	wg.Wait()

	// Deferred words get bounded in-chunk retries once the parallel pass is
	// done; a word still deferred afterwards holds the cursor back.
	deferred := false
	for i := range items {
		if items[i].err == nil && items[i].outcome.Deferred {
			items[i].outcome, items[i].err = e.retryDeferred(ctx, items[i].word, log)
		}
		if items[i].err == nil && items[i].outcome.Deferred {
			deferred = true
		}
	}
	if deferred {
		// The pass is dropped, but classifications that landed were already
		// upserted and will surface as cache hits on the retry. Remember them
		// so the retry still counts them as this job's successes.
		var fresh []string
		for i := range items {
			if items[i].err == nil && !items[i].outcome.Deferred &&
				!items[i].outcome.Failed && !items[i].outcome.MultiWord &&
				items[i].outcome.Tier != classifier.TierCache {
				fresh = append(fresh, items[i].word.Word)
			}
		}
		e.markResolved(job.ID, fresh)
		log.Info("chunk deferred by rate limiter, will retry")
		return int64(len(words)), progress, nil
	}

	for i := range items {
		progress.Processed++
		switch {
		case items[i].err != nil:
			progress.Failed++
			log.Warn("word classification failed",
				slog.String(logging.FieldWord, items[i].word.Word),
				logging.Error(items[i].err))
		case items[i].outcome.Failed:
			progress.Failed++
		case items[i].outcome.MultiWord:
			progress.Unchanged++
		case items[i].outcome.Tier == classifier.TierCache:
			if e.wasResolved(job.ID, items[i].word.Word) {
				progress.Succeeded++
			} else {
				progress.Unchanged++
			}
		default:
			progress.Succeeded++
		}
	}
	progress.Cursor = job.Cursor + int64(len(words))
	e.clearResolved(job.ID)
	return int64(len(words)), progress, nil
}

func (e *Executor) classifyWord(ctx context.Context, word *corpus.Word) (classifier.Outcome, error) {
	return e.tiered.Classify(ctx, word.Word, classifier.Options{
		LeftContext:  word.LeftContext,
		RightContext: word.RightContext,
	})
}

// retryDeferred waits for limiter slots a bounded number of times. The
// cancellation check brackets every wait because a cancel request may land
// while we sleep.
func (e *Executor) retryDeferred(ctx context.Context, word *corpus.Word, log *slog.Logger) (classifier.Outcome, error) {
	outcome := classifier.Outcome{Deferred: true}
	for attempt := 0; attempt < e.deferredWaitAttempts; attempt++ {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		if e.limiter != nil {
			if err := e.limiter.WaitForSlot(ctx); err != nil {
				return outcome, err
			}
		}
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		result, err := e.classifyWord(ctx, word)
		if err != nil || !result.Deferred {
			return result, err
		}
	}
	log.Debug("word still deferred after bounded waits",
		slog.String(logging.FieldWord, word.Word))
	return outcome, nil
}

func (e *Executor) runRefineChunk(ctx context.Context, job *jobs.Job, log *slog.Logger) (int64, jobs.ChunkProgress, error) {
	var progress jobs.ChunkProgress
	entries, err := e.cache.ClassifiedChunk(ctx, job.Cursor, e.chunkSize)
	if err != nil {
		return 0, progress, err
	}
	if len(entries) == 0 {
		return 0, progress, nil
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return int64(len(entries)), progress, ctx.Err()
		}
		progress.Processed++
		if !entry.N2.IsZero() {
			progress.Unchanged++
			continue
		}

		if e.limiter != nil && !e.limiter.CanRequest() {
			// Roll the partial chunk back to a pure defer: the cursor must
			// not advance past unrefined entries.
			log.Info("refine chunk deferred by rate limiter")
			return int64(len(entries)), jobs.ChunkProgress{}, nil
		}
		if e.client == nil {
			progress.Failed++
			continue
		}
		if e.limiter != nil {
			e.limiter.RecordRequest()
		}
		classification, err := e.client.ClassifyWord(ctx, ai.Request{
			Word:    entry.Word,
			KnownN1: entry.N1,
		})
		if err != nil {
			if overload, ok := ai.AsOverload(err); ok {
				if e.limiter != nil {
					e.limiter.RecordExternalBlock(overload.RetryAfter)
				}
				return int64(len(entries)), jobs.ChunkProgress{}, nil
			}
			if ctx.Err() != nil {
				return int64(len(entries)), progress, ctx.Err()
			}
			progress.Failed++
			log.Warn("refine call failed",
				slog.String(logging.FieldWord, entry.Word),
				logging.Error(err))
			continue
		}
		n2, parseErr := taxonomy.Parse(classification.N2)
		if parseErr != nil || n2.IsNC() {
			progress.Unchanged++
			continue
		}
		applied, err := e.cache.BatchRefineN2(ctx, []cache.RefineUpdate{{
			Word:       entry.Word,
			ContextKey: entry.ContextKey,
			N2:         n2,
			Confidence: classification.Confidence,
		}})
		if err != nil {
			progress.Failed++
			log.Warn("refine write failed",
				slog.String(logging.FieldWord, entry.Word),
				logging.Error(err))
			continue
		}
		if applied > 0 {
			progress.Improved++
			progress.Succeeded++
		} else {
			progress.Unchanged++
		}
	}
	progress.Cursor = job.Cursor + int64(len(entries))
	return int64(len(entries)), progress, nil
}
