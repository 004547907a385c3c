package corpus_test

import (
	"context"
	"path/filepath"
	"testing"

	"glossa/internal/cache"
	"glossa/internal/corpus"
	"glossa/internal/taxonomy"
)

func openStore(t *testing.T) (*corpus.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "glossa.db")
	store, err := corpus.OpenAt(path)
	if err != nil {
		t.Fatalf("OpenAt: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestAddAndListKeepsOrder(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"campanha", "fronteira", "serra"} {
		if _, err := store.Add(ctx, id, "", "regional"); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}

	corpora, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(corpora) != 3 {
		t.Fatalf("expected 3 corpora, got %d", len(corpora))
	}
	for i, want := range []string{"campanha", "fronteira", "serra"} {
		if corpora[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, corpora[i].ID)
		}
	}
}

func TestPendingWordCountWithoutCacheStore(t *testing.T) {
	// The corpus store must answer pending counts on a fresh database
	// that no cache store has ever opened.
	store, _ := openStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "campanha", "", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.AddWords(ctx, "campanha", []corpus.Word{{Word: "bagual"}}); err != nil {
		t.Fatalf("AddWords: %v", err)
	}

	pending, err := store.PendingWordCount(ctx, "campanha")
	if err != nil {
		t.Fatalf("PendingWordCount: %v", err)
	}
	if pending != 1 {
		t.Fatalf("pending = %d, want 1", pending)
	}
}

func TestWordsChunkStableOrdinals(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	if _, err := store.Add(ctx, "campanha", "Campanha", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	words := []corpus.Word{
		{Word: "Chimarrão"},
		{Word: "mate"},
		{Word: "gauchinho"},
		{Word: "bagual"},
	}
	added, err := store.AddWords(ctx, "campanha", words)
	if err != nil {
		t.Fatalf("AddWords: %v", err)
	}
	if added != 4 {
		t.Fatalf("expected 4 added, got %d", added)
	}

	count, err := store.WordCount(ctx, "campanha")
	if err != nil {
		t.Fatalf("WordCount: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}

	chunk, err := store.WordsChunk(ctx, "campanha", 1, 2)
	if err != nil {
		t.Fatalf("WordsChunk: %v", err)
	}
	if len(chunk) != 2 {
		t.Fatalf("expected 2 words, got %d", len(chunk))
	}
	if chunk[0].Word != "mate" || chunk[1].Word != "gauchinho" {
		t.Fatalf("unexpected chunk order: %s, %s", chunk[0].Word, chunk[1].Word)
	}
	if chunk[0].Ordinal != 1 || chunk[1].Ordinal != 2 {
		t.Fatalf("unexpected ordinals: %d, %d", chunk[0].Ordinal, chunk[1].Ordinal)
	}

	// Appending must not disturb existing ordinals.
	if _, err := store.AddWords(ctx, "campanha", []corpus.Word{{Word: "tropeiro"}}); err != nil {
		t.Fatalf("AddWords append: %v", err)
	}
	again, err := store.WordsChunk(ctx, "campanha", 1, 2)
	if err != nil {
		t.Fatalf("WordsChunk again: %v", err)
	}
	if again[0].Word != "mate" || again[1].Word != "gauchinho" {
		t.Fatalf("ordinals shifted after append: %s, %s", again[0].Word, again[1].Word)
	}
}

func TestNextPendingAdvancesAndSkipsCompleted(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	for _, id := range []string{"campanha", "fronteira", "serra"} {
		if _, err := store.Add(ctx, id, "", ""); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	if err := store.MarkCompleted(ctx, "fronteira"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	first, err := store.NextPending(ctx, "")
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if first == nil || first.ID != "campanha" {
		t.Fatalf("expected campanha first, got %+v", first)
	}

	next, err := store.NextPending(ctx, "campanha")
	if err != nil {
		t.Fatalf("NextPending after campanha: %v", err)
	}
	if next == nil || next.ID != "serra" {
		t.Fatalf("expected serra (fronteira completed), got %+v", next)
	}

	done, err := store.NextPending(ctx, "serra")
	if err != nil {
		t.Fatalf("NextPending after serra: %v", err)
	}
	if done != nil {
		t.Fatalf("expected no pending corpus, got %+v", done)
	}
}

func TestPendingWordCountIgnoresClassified(t *testing.T) {
	store, path := openStore(t)
	ctx := context.Background()

	cacheStore, err := cache.OpenAt(path)
	if err != nil {
		t.Fatalf("cache.OpenAt: %v", err)
	}
	defer cacheStore.Close()

	if _, err := store.Add(ctx, "campanha", "", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := store.AddWords(ctx, "campanha", []corpus.Word{
		{Word: "chimarrão"}, {Word: "bagual"}, {Word: "tchê"},
	}); err != nil {
		t.Fatalf("AddWords: %v", err)
	}

	pending, err := store.PendingWordCount(ctx, "campanha")
	if err != nil {
		t.Fatalf("PendingWordCount: %v", err)
	}
	if pending != 3 {
		t.Fatalf("expected 3 pending, got %d", pending)
	}

	if err := cacheStore.Upsert(ctx, cache.Result{
		Word:       "chimarrão",
		N1:         taxonomy.Code("FO"),
		Confidence: 0.9,
		Source:     cache.SourceRule,
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// An NC sentinel row still counts as pending.
	if err := cacheStore.Upsert(ctx, cache.Result{
		Word:   "bagual",
		N1:     taxonomy.NC,
		Source: cache.SourceAIPrimary,
	}); err != nil {
		t.Fatalf("Upsert NC: %v", err)
	}

	pending, err = store.PendingWordCount(ctx, "campanha")
	if err != nil {
		t.Fatalf("PendingWordCount: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected 2 pending, got %d", pending)
	}
}
