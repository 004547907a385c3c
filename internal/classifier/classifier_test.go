package classifier_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"glossa/internal/cache"
	"glossa/internal/classifier"
	"glossa/internal/config"
	"glossa/internal/lexicon"
	"glossa/internal/ratelimit"
	"glossa/internal/rules"
	"glossa/internal/services/ai"
	"glossa/internal/taxonomy"
)

type fakeAI struct {
	calls    int
	response ai.Classification
	err      error
}

func (f *fakeAI) ClassifyWord(_ context.Context, _ ai.Request) (ai.Classification, error) {
	f.calls++
	if f.err != nil {
		return ai.Classification{}, f.err
	}
	return f.response, nil
}

type fixture struct {
	cache   *cache.Store
	lexicon *lexicon.Store
	ai      *fakeAI
	limiter *ratelimit.Limiter
	tiered  *classifier.Tiered
}

func newFixture(t *testing.T, aiClient *fakeAI, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glossa.db")
	cacheStore, err := cache.OpenAt(path)
	if err != nil {
		t.Fatalf("cache.OpenAt: %v", err)
	}
	t.Cleanup(func() { cacheStore.Close() })

	lexiconStore, err := lexicon.OpenAt(path)
	if err != nil {
		t.Fatalf("lexicon.OpenAt: %v", err)
	}
	t.Cleanup(func() { lexiconStore.Close() })

	cfg := config.Default()
	engine := rules.NewEngine(&cfg, lexiconStore)
	tiered := classifier.New(&cfg, cacheStore, engine, lexiconStore, aiClient, limiter, nil)
	return &fixture{
		cache:   cacheStore,
		lexicon: lexiconStore,
		ai:      aiClient,
		limiter: limiter,
		tiered:  tiered,
	}
}

func seedGaucho(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.lexicon.Put(context.Background(), lexicon.Entry{
		Word: "gaucho",
		N1:   taxonomy.Code("SH"),
	}); err != nil {
		t.Fatalf("lexicon.Put: %v", err)
	}
}

func TestClassifyCacheShortCircuit(t *testing.T) {
	aiClient := &fakeAI{response: ai.Classification{N1: "FO", Confidence: 0.8}}
	f := newFixture(t, aiClient, nil)
	ctx := context.Background()

	first, err := f.tiered.Classify(ctx, "chimarrão", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if first.Tier != classifier.TierAI {
		t.Fatalf("expected AI tier on empty cache, got %s", first.Tier)
	}
	if aiClient.calls != 1 {
		t.Fatalf("expected 1 AI call, got %d", aiClient.calls)
	}

	second, err := f.tiered.Classify(ctx, "chimarrão", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify again: %v", err)
	}
	if second.Tier != classifier.TierCache {
		t.Fatalf("expected cache tier on second call, got %s", second.Tier)
	}
	if aiClient.calls != 1 {
		t.Fatalf("cache hit must not trigger an AI call, got %d calls", aiClient.calls)
	}
	if second.Result.N1 != first.Result.N1 || second.Result.Confidence != first.Result.Confidence {
		t.Fatal("second result differs from stored result")
	}
}

func TestClassifyRuleBeforeDictionary(t *testing.T) {
	aiClient := &fakeAI{}
	f := newFixture(t, aiClient, nil)
	ctx := context.Background()

	// "gauchinho" is present verbatim AND matches the diminutive rule; the
	// rule tier must win because tiers are strictly ordered.
	seedGaucho(t, f)
	if err := f.lexicon.Put(ctx, lexicon.Entry{
		Word: "gauchinho",
		N1:   taxonomy.Code("XX"),
	}); err != nil {
		t.Fatalf("lexicon.Put: %v", err)
	}

	outcome, err := f.tiered.Classify(ctx, "gauchinho", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Tier != classifier.TierRule {
		t.Fatalf("expected rule tier, got %s", outcome.Tier)
	}
	if outcome.Result.N1 != taxonomy.Code("SH") {
		t.Fatalf("expected inherited SH, got %s", outcome.Result.N1)
	}
	if aiClient.calls != 0 {
		t.Fatalf("expected no AI calls, got %d", aiClient.calls)
	}
}

func TestClassifyInheritanceConfidence(t *testing.T) {
	f := newFixture(t, &fakeAI{}, nil)
	ctx := context.Background()
	seedGaucho(t, f)

	outcome, err := f.tiered.Classify(ctx, "gauchinho", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Result.Source != cache.SourceInherited {
		t.Fatalf("expected dictionary-inherited source, got %s", outcome.Result.Source)
	}
	if outcome.Result.Confidence != 0.70 {
		t.Fatalf("expected inheritance confidence 0.70, got %v", outcome.Result.Confidence)
	}
	if outcome.Result.BaseWord != "gaucho" {
		t.Fatalf("expected base word gaucho, got %q", outcome.Result.BaseWord)
	}
}

func TestClassifyDictionaryTier(t *testing.T) {
	aiClient := &fakeAI{}
	f := newFixture(t, aiClient, nil)
	ctx := context.Background()

	if err := f.lexicon.Put(ctx, lexicon.Entry{
		Word: "chimarrão",
		N1:   taxonomy.Code("FO"),
		N2:   taxonomy.Code("BE"),
	}); err != nil {
		t.Fatalf("lexicon.Put: %v", err)
	}

	outcome, err := f.tiered.Classify(ctx, "chimarrão", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Tier != classifier.TierDictionary {
		t.Fatalf("expected dictionary tier, got %s", outcome.Tier)
	}
	if outcome.Result.Confidence != 0.95 {
		t.Fatalf("expected dictionary confidence 0.95, got %v", outcome.Result.Confidence)
	}
	if aiClient.calls != 0 {
		t.Fatalf("expected no AI calls, got %d", aiClient.calls)
	}
}

func TestClassifyDeferredWhenLimiterBlocked(t *testing.T) {
	aiClient := &fakeAI{response: ai.Classification{N1: "SH", Confidence: 0.8}}
	now := time.Now()
	limiter := ratelimit.New(1, time.Second, 0, ratelimit.WithClock(func() time.Time { return now }))
	f := newFixture(t, aiClient, limiter)
	ctx := context.Background()

	first, err := f.tiered.Classify(ctx, "bagual", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if first.Deferred {
		t.Fatal("first call should not be deferred")
	}

	second, err := f.tiered.Classify(ctx, "pingo", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !second.Deferred {
		t.Fatal("expected deferred outcome while window is full")
	}
	if second.Result != nil {
		t.Fatal("deferred outcome must carry no result")
	}
	if aiClient.calls != 1 {
		t.Fatalf("deferred word must not reach the AI, got %d calls", aiClient.calls)
	}
	// The deferred word must remain absent from the cache.
	entry, err := f.cache.Get(ctx, "pingo", "")
	if err != nil {
		t.Fatalf("cache.Get: %v", err)
	}
	if entry != nil {
		t.Fatalf("deferred word must not be stored, got %+v", entry)
	}
}

func TestClassifyExternalBlockDefers(t *testing.T) {
	aiClient := &fakeAI{err: &ai.OverloadError{RetryAfter: 5 * time.Second}}
	now := time.Now()
	limiter := ratelimit.New(10, time.Minute, 0, ratelimit.WithClock(func() time.Time { return now }))
	f := newFixture(t, aiClient, limiter)

	outcome, err := f.tiered.Classify(context.Background(), "bagual", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !outcome.Deferred {
		t.Fatal("expected deferred outcome on overload signal")
	}
	if limiter.CanRequest() {
		t.Fatal("expected limiter block window after overload")
	}
}

func TestClassifyAIFailureStoresSentinel(t *testing.T) {
	aiClient := &fakeAI{err: errors.New("connection reset")}
	f := newFixture(t, aiClient, nil)
	ctx := context.Background()

	outcome, err := f.tiered.Classify(ctx, "xyz123", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !outcome.Failed {
		t.Fatal("expected failed outcome")
	}
	if !outcome.Result.Unclassified() {
		t.Fatalf("expected NC sentinel, got %s", outcome.Result.N1)
	}
	if outcome.Result.Confidence != 0 {
		t.Fatalf("expected confidence 0, got %v", outcome.Result.Confidence)
	}

	stored, err := f.cache.Get(ctx, "xyz123", "")
	if err != nil {
		t.Fatalf("cache.Get: %v", err)
	}
	if stored == nil || !stored.Unclassified() {
		t.Fatalf("expected stored sentinel, got %+v", stored)
	}
}

func TestClassifyMultiWordExpression(t *testing.T) {
	aiClient := &fakeAI{}
	f := newFixture(t, aiClient, nil)

	outcome, err := f.tiered.Classify(context.Background(), "mate amargo", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !outcome.MultiWord {
		t.Fatal("expected multi-word outcome")
	}
	if outcome.Result != nil || aiClient.calls != 0 {
		t.Fatal("multi-word input must not be tiered")
	}
}

func TestClassifySecondaryModelProvenance(t *testing.T) {
	aiClient := &fakeAI{response: ai.Classification{N1: "SH", N2: "PE", Confidence: 0.85}}
	f := newFixture(t, aiClient, nil)

	outcome, err := f.tiered.Classify(context.Background(), "xirú", classifier.Options{Secondary: true})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Result.Source != cache.SourceAISecondary {
		t.Fatalf("expected ai-secondary source, got %s", outcome.Result.Source)
	}
}

func TestClassifyManualEntryWins(t *testing.T) {
	aiClient := &fakeAI{response: ai.Classification{N1: "FO", Confidence: 0.9}}
	f := newFixture(t, aiClient, nil)
	ctx := context.Background()

	if err := f.cache.Upsert(ctx, cache.Result{
		Word:   "tchê",
		N1:     taxonomy.Code("IN"),
		Source: cache.SourceManual,
	}); err != nil {
		t.Fatalf("Upsert manual: %v", err)
	}

	outcome, err := f.tiered.Classify(ctx, "tchê", classifier.Options{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if outcome.Tier != classifier.TierCache {
		t.Fatalf("expected cache tier for curated word, got %s", outcome.Tier)
	}
	if outcome.Result.Source != cache.SourceManual || outcome.Result.Confidence != 1.0 {
		t.Fatalf("expected immutable manual entry, got %+v", outcome.Result)
	}
	if aiClient.calls != 0 {
		t.Fatalf("curated word must not reach the AI, got %d calls", aiClient.calls)
	}
}
