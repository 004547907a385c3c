package classifier

import (
	"context"
	"log/slog"
	"time"

	"glossa/internal/cache"
	"glossa/internal/config"
	"glossa/internal/lexicon"
	"glossa/internal/logging"
	"glossa/internal/ratelimit"
	"glossa/internal/rules"
	"glossa/internal/services"
	"glossa/internal/services/ai"
	"glossa/internal/taxonomy"
	"glossa/internal/textutil"
)

// Tier identifies which stage of the pipeline produced a result.
type Tier string

const (
	TierCache      Tier = "cache"
	TierRule       Tier = "rule"
	TierDictionary Tier = "dictionary"
	TierAI         Tier = "ai"
)

// Options carries per-word classification inputs.
type Options struct {
	ContextKey   string
	LeftContext  string
	RightContext string
	POS          string
	// Secondary requests the more expensive secondary model on the AI tier.
	Secondary bool
}

// Outcome is the per-word result of one tiered pass.
//
// Deferred means the rate limiter refused the AI tier; the word is untouched
// and the caller decides when to retry. Failed means the AI tier was reached
// and errored; the word is stored with the NC sentinel and the failure
// belongs in the job's error tally. MultiWord means the input is a fixed
// multi-word expression, which single-word tiering does not handle.
type Outcome struct {
	Result    *cache.Result
	Tier      Tier
	Deferred  bool
	Failed    bool
	MultiWord bool
}

// AIClient is the external classification surface the AI tier needs.
// *ai.Client satisfies it; tests substitute fakes.
type AIClient interface {
	ClassifyWord(ctx context.Context, req ai.Request) (ai.Classification, error)
}

// Tiered runs the cache, rule, dictionary, and AI tiers in strict order.
// The AI tier is the only one with external latency and cost; every earlier
// hit skips it.
type Tiered struct {
	cache   *cache.Store
	engine  *rules.Engine
	lexicon *lexicon.Store
	client  AIClient
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	dictionaryConfidence float64
}

// New builds the tiered classifier. The AI client may be nil, in which case
// the AI tier reports a failure outcome for every word that reaches it.
func New(cfg *config.Config, cacheStore *cache.Store, engine *rules.Engine, lexiconStore *lexicon.Store, client AIClient, limiter *ratelimit.Limiter, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = logging.NewNop()
	}
	dictionaryConfidence := 0.95
	if cfg != nil && cfg.Rules.DictionaryConfidence > 0 {
		dictionaryConfidence = cfg.Rules.DictionaryConfidence
	}
	return &Tiered{
		cache:                cacheStore,
		engine:               engine,
		lexicon:              lexiconStore,
		client:               client,
		limiter:              limiter,
		logger:               logger.With(slog.String(logging.FieldComponent, "classifier")),
		dictionaryConfidence: dictionaryConfidence,
	}
}

// Classify runs one word through the tiers. Safe for concurrent use across
// distinct words; same-word writes are serialized by the cache store's
// upsert. Idempotent: a second call with no intervening state change is a
// cache hit and issues no external request.
func (t *Tiered) Classify(ctx context.Context, word string, opts Options) (Outcome, error) {
	normalized := textutil.NormalizeWord(word)
	if normalized == "" {
		return Outcome{}, services.Wrap(services.ErrValidation, "classifier", "classify", "word required", nil)
	}
	if textutil.IsMultiWord(normalized) {
		// Fixed expressions are an upstream concern; single-word tiering
		// does not decompose them.
		return Outcome{MultiWord: true}, nil
	}
	log := t.logger.With(slog.String(logging.FieldWord, normalized))

	// Tier 1: cache.
	cached, err := t.cache.Get(ctx, normalized, opts.ContextKey)
	if err != nil {
		return Outcome{}, services.Wrap(services.ErrTransient, "classifier", "classify", "cache lookup failed", err)
	}
	if cached != nil && !cached.Unclassified() {
		return Outcome{Result: cached, Tier: TierCache}, nil
	}

	// Tier 2: morphological rules.
	if t.engine != nil {
		candidate, err := t.engine.Classify(ctx, normalized, opts.POS)
		if err != nil {
			return Outcome{}, services.Wrap(services.ErrTransient, "classifier", "classify", "rule engine failed", err)
		}
		if candidate != nil {
			source := cache.SourceRule
			if candidate.Inherited {
				source = cache.SourceInherited
			}
			result := cache.Result{
				Word:       normalized,
				ContextKey: opts.ContextKey,
				N1:         candidate.N1,
				N2:         candidate.N2,
				N3:         candidate.N3,
				N4:         candidate.N4,
				Confidence: candidate.Confidence,
				Source:     source,
				BaseWord:   candidate.BaseWord,
			}
			if err := t.store(ctx, &result); err != nil {
				return Outcome{}, err
			}
			log.Debug("rule tier hit",
				slog.String(logging.FieldTier, string(TierRule)),
				slog.String("rule", candidate.Rule))
			return Outcome{Result: &result, Tier: TierRule}, nil
		}
	}

	// Tier 3: verbatim lexicon.
	if t.lexicon != nil {
		entry, err := t.lexicon.Lookup(ctx, normalized)
		if err != nil {
			return Outcome{}, services.Wrap(services.ErrTransient, "classifier", "classify", "lexicon lookup failed", err)
		}
		if entry != nil {
			result := cache.Result{
				Word:       normalized,
				ContextKey: opts.ContextKey,
				N1:         entry.N1,
				N2:         entry.N2,
				N3:         entry.N3,
				N4:         entry.N4,
				Confidence: t.dictionaryConfidence,
				Source:     cache.SourceInherited,
			}
			if err := t.store(ctx, &result); err != nil {
				return Outcome{}, err
			}
			log.Debug("dictionary tier hit", slog.String(logging.FieldTier, string(TierDictionary)))
			return Outcome{Result: &result, Tier: TierDictionary}, nil
		}
	}

	// Tier 4: external AI.
	return t.classifyExternal(ctx, normalized, opts, log)
}

func (t *Tiered) classifyExternal(ctx context.Context, word string, opts Options, log *slog.Logger) (Outcome, error) {
	if t.limiter != nil && !t.limiter.CanRequest() {
		log.Debug("ai tier deferred by rate limiter")
		return Outcome{Deferred: true, Tier: TierAI}, nil
	}
	if t.client == nil {
		return t.storeFailure(ctx, word, opts, log, nil)
	}
	if t.limiter != nil {
		t.limiter.RecordRequest()
	}

	classification, err := t.client.ClassifyWord(ctx, ai.Request{
		Word:         word,
		LeftContext:  opts.LeftContext,
		RightContext: opts.RightContext,
		Secondary:    opts.Secondary,
	})
	if err != nil {
		if overload, ok := ai.AsOverload(err); ok {
			if t.limiter != nil {
				t.limiter.RecordExternalBlock(overload.RetryAfter)
			}
			log.Warn("ai tier blocked by service",
				slog.Duration("retry_after", overload.RetryAfter))
			return Outcome{Deferred: true, Tier: TierAI}, nil
		}
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return t.storeFailure(ctx, word, opts, log, err)
	}

	n1, parseErr := taxonomy.Parse(classification.N1)
	if parseErr != nil {
		return t.storeFailure(ctx, word, opts, log, parseErr)
	}
	source := cache.SourceAIPrimary
	if opts.Secondary {
		source = cache.SourceAISecondary
	}
	result := cache.Result{
		Word:       word,
		ContextKey: opts.ContextKey,
		N1:         n1,
		N2:         parseOptional(classification.N2),
		N3:         parseOptional(classification.N3),
		N4:         parseOptional(classification.N4),
		Confidence: classification.Confidence,
		Source:     source,
	}
	if err := t.store(ctx, &result); err != nil {
		return Outcome{}, err
	}
	log.Debug("ai tier hit",
		slog.String(logging.FieldTier, string(TierAI)),
		slog.Float64("confidence", result.Confidence))
	return Outcome{Result: &result, Tier: TierAI}, nil
}

// storeFailure records the NC sentinel with confidence 0. The word stays
// reclassifiable and the failure is the job's to count; it is never fatal
// to the batch.
func (t *Tiered) storeFailure(ctx context.Context, word string, opts Options, log *slog.Logger, cause error) (Outcome, error) {
	result := cache.Result{
		Word:       word,
		ContextKey: opts.ContextKey,
		N1:         taxonomy.NC,
		Confidence: 0,
		Source:     cache.SourceAIPrimary,
	}
	if err := t.store(ctx, &result); err != nil {
		return Outcome{}, err
	}
	if cause != nil {
		log.Warn("ai tier failed, word left unclassified", logging.Error(cause))
	}
	return Outcome{Result: &result, Tier: TierAI, Failed: true}, nil
}

// store upserts with a single retry, matching the per-item datastore policy:
// one retry inside the chunk, then the item counts as an error.
func (t *Tiered) store(ctx context.Context, result *cache.Result) error {
	err := t.cache.Upsert(ctx, *result)
	if err == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	if err = t.cache.Upsert(ctx, *result); err != nil {
		return services.Wrap(services.ErrTransient, "classifier", "classify", "cache upsert failed", err)
	}
	return nil
}

func parseOptional(value string) taxonomy.Code {
	if value == "" {
		return ""
	}
	code, err := taxonomy.Parse(value)
	if err != nil {
		return ""
	}
	return code
}
