// Package lexicon persists the base-word lexicon consulted by the rule
// engine's inheritance mode and by the classifier's dictionary tier.
// Lookups are exact matches on the normalized word; there is no partial
// matching.
package lexicon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"glossa/internal/config"
	"glossa/internal/sqlite"
	"glossa/internal/taxonomy"
	"glossa/internal/textutil"
)

// Entry is one base-word record with its lexicon-derived classification.
type Entry struct {
	Word string
	N1   taxonomy.Code
	N2   taxonomy.Code
	N3   taxonomy.Code
	N4   taxonomy.Code
	POS  string
}

// Store manages lexicon persistence backed by SQLite.
type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS lexicon_entries (
    word TEXT PRIMARY KEY,
    n1 TEXT NOT NULL,
    n2 TEXT NOT NULL DEFAULT '',
    n3 TEXT NOT NULL DEFAULT '',
    n4 TEXT NOT NULL DEFAULT '',
    pos TEXT NOT NULL DEFAULT ''
)`

// Open initializes or connects to the lexicon store.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenAt(cfg.DatabasePath())
}

// OpenAt connects to the lexicon store at an explicit database path.
func OpenAt(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create lexicon schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the entry for a word, or nil when the lexicon has no answer.
func (s *Store) Lookup(ctx context.Context, word string) (*Entry, error) {
	normalized := textutil.NormalizeWord(word)
	if normalized == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT word, n1, n2, n3, n4, pos FROM lexicon_entries WHERE word = ?`,
		normalized,
	)
	var entry Entry
	var n1, n2, n3, n4 string
	err := row.Scan(&entry.Word, &n1, &n2, &n3, &n4, &entry.POS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup word: %w", err)
	}
	entry.N1 = taxonomy.Code(n1)
	entry.N2 = taxonomy.Code(n2)
	entry.N3 = taxonomy.Code(n3)
	entry.N4 = taxonomy.Code(n4)
	return &entry, nil
}

// Put inserts or replaces a lexicon entry. Used by seeding and tests.
func (s *Store) Put(ctx context.Context, entry Entry) error {
	normalized := textutil.NormalizeWord(entry.Word)
	if normalized == "" {
		return errors.New("put lexicon entry: empty word")
	}
	if entry.N1.IsZero() {
		return errors.New("put lexicon entry: n1 required")
	}
	if err := sqlite.ExecWithoutResultRetry(
		ctx, s.db,
		`INSERT INTO lexicon_entries (word, n1, n2, n3, n4, pos)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(word) DO UPDATE SET
            n1 = excluded.n1, n2 = excluded.n2, n3 = excluded.n3,
            n4 = excluded.n4, pos = excluded.pos`,
		normalized,
		entry.N1.String(), entry.N2.String(), entry.N3.String(), entry.N4.String(),
		strings.TrimSpace(entry.POS),
	); err != nil {
		return fmt.Errorf("put lexicon entry: %w", err)
	}
	return nil
}

// LookupCodes resolves a word to its taxonomy codes. Satisfies the rule
// engine's BaseLookup interface.
func (s *Store) LookupCodes(ctx context.Context, word string) (n1, n2, n3, n4 taxonomy.Code, found bool, err error) {
	entry, err := s.Lookup(ctx, word)
	if err != nil || entry == nil {
		return "", "", "", "", false, err
	}
	return entry.N1, entry.N2, entry.N3, entry.N4, true, nil
}

// Count returns the number of lexicon entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lexicon_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count lexicon entries: %w", err)
	}
	return count, nil
}
