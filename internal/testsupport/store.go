package testsupport

import (
	"testing"

	"glossa/internal/cache"
	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/jobs"
	"glossa/internal/lexicon"
)

// MustOpenJobs opens a jobs.Store for tests and registers cleanup.
func MustOpenJobs(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// MustOpenCache opens a cache.Store for tests and registers cleanup.
func MustOpenCache(t testing.TB, cfg *config.Config) *cache.Store {
	t.Helper()

	store, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// MustOpenLexicon opens a lexicon.Store for tests and registers cleanup.
func MustOpenLexicon(t testing.TB, cfg *config.Config) *lexicon.Store {
	t.Helper()

	store, err := lexicon.Open(cfg)
	if err != nil {
		t.Fatalf("lexicon.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// MustOpenCorpora opens a corpus.Store for tests and registers cleanup.
func MustOpenCorpora(t testing.TB, cfg *config.Config) *corpus.Store {
	t.Helper()

	store, err := corpus.Open(cfg)
	if err != nil {
		t.Fatalf("corpus.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
