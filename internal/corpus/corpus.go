package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"glossa/internal/cache"
	"glossa/internal/config"
	"glossa/internal/sqlite"
	"glossa/internal/textutil"
)

// Corpus is one entry in the ordered corpus registry. Position fixes the
// orchestrator's traversal order.
type Corpus struct {
	ID        string
	Name      string
	Kind      string
	Position  int64
	Completed bool
	CreatedAt time.Time
}

// Word is one occurrence-level item of a corpus. Ordinal is the stable
// walk order within the corpus; the classify job's cursor is an ordinal
// offset, so ordinals must never be reassigned.
type Word struct {
	CorpusID     string
	Ordinal      int64
	Word         string
	LeftContext  string
	RightContext string
}

const schema = `
CREATE TABLE IF NOT EXISTS corpora (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    kind       TEXT NOT NULL DEFAULT '',
    position   INTEGER NOT NULL,
    completed  INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS corpus_words (
    corpus_id     TEXT NOT NULL,
    ordinal       INTEGER NOT NULL,
    word          TEXT NOT NULL,
    left_context  TEXT NOT NULL DEFAULT '',
    right_context TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (corpus_id, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_corpus_words_word ON corpus_words(word);
`

// Store provides the corpus registry and per-corpus word lists.
type Store struct {
	db *sql.DB
}

// Open opens the corpus store inside the shared application database.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("corpus store requires configuration")
	}
	return OpenAt(cfg.DatabasePath())
}

// OpenAt opens the corpus store at the given sqlite path.
func OpenAt(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create corpus schema: %w", err)
	}
	// PendingWordCount joins against cache_entries, which must exist even
	// when no cache store has touched this database yet.
	if err := cache.EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add registers a corpus at the end of the traversal order.
func (s *Store) Add(ctx context.Context, id, name, kind string) (*Corpus, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("corpus id required")
	}
	if name = strings.TrimSpace(name); name == "" {
		name = id
	}
	now := time.Now().UTC()
	_, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`INSERT INTO corpora (id, name, kind, position, completed, created_at)
         VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM corpora), 0, ?)`,
		id, name, strings.TrimSpace(kind), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("add corpus: %w", err)
	}
	return s.Get(ctx, id)
}

// Get returns one corpus, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Corpus, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, kind, position, completed, created_at
         FROM corpora WHERE id = ?`,
		strings.TrimSpace(id),
	)
	corpus, err := scanCorpus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return corpus, err
}

// List returns all corpora in traversal order.
func (s *Store) List(ctx context.Context) ([]*Corpus, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, name, kind, position, completed, created_at
         FROM corpora ORDER BY position`,
	)
	if err != nil {
		return nil, fmt.Errorf("list corpora: %w", err)
	}
	defer rows.Close()

	var out []*Corpus
	for rows.Next() {
		corpus, err := scanCorpus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, corpus)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpora: %w", err)
	}
	return out, nil
}

// NextPending returns the first corpus in traversal order positioned after
// afterID (or from the start when afterID is empty) that is not marked
// completed. Returns nil when every remaining corpus is done.
func (s *Store) NextPending(ctx context.Context, afterID string) (*Corpus, error) {
	var afterPosition int64
	if afterID = strings.TrimSpace(afterID); afterID != "" {
		current, err := s.Get(ctx, afterID)
		if err != nil {
			return nil, err
		}
		if current != nil {
			afterPosition = current.Position
		}
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, name, kind, position, completed, created_at
         FROM corpora WHERE completed = 0 AND position > ?
         ORDER BY position LIMIT 1`,
		afterPosition,
	)
	corpus, err := scanCorpus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return corpus, err
}

// MarkCompleted flags a corpus as done.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	res, err := sqlite.ExecWithRetry(
		ctx, s.db,
		`UPDATE corpora SET completed = 1 WHERE id = ?`,
		strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("mark corpus completed: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark corpus completed: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("corpus %q not found", id)
	}
	return nil
}

// AddWords appends words to a corpus, assigning ordinals after the current
// maximum. Words are normalized before storage so they line up with cache
// and lexicon keys.
func (s *Store) AddWords(ctx context.Context, corpusID string, words []Word) (int64, error) {
	corpusID = strings.TrimSpace(corpusID)
	if corpusID == "" {
		return 0, errors.New("corpus id required")
	}

	var next int64
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(MAX(ordinal), -1) + 1 FROM corpus_words WHERE corpus_id = ?`,
		corpusID,
	).Scan(&next); err != nil {
		return 0, fmt.Errorf("next ordinal: %w", err)
	}

	var added int64
	for _, word := range words {
		normalized := textutil.NormalizeWord(word.Word)
		if normalized == "" {
			continue
		}
		if _, err := sqlite.ExecWithRetry(
			ctx, s.db,
			`INSERT INTO corpus_words (corpus_id, ordinal, word, left_context, right_context)
             VALUES (?, ?, ?, ?, ?)`,
			corpusID, next, normalized,
			strings.TrimSpace(word.LeftContext), strings.TrimSpace(word.RightContext),
		); err != nil {
			return added, fmt.Errorf("add corpus word %q: %w", word.Word, err)
		}
		next++
		added++
	}
	return added, nil
}

// WordCount returns the number of words in a corpus. Classify jobs use it
// as their Total.
func (s *Store) WordCount(ctx context.Context, corpusID string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM corpus_words WHERE corpus_id = ?`,
		strings.TrimSpace(corpusID),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("corpus word count: %w", err)
	}
	return count, nil
}

// WordsChunk returns the ordinal slice [offset, offset+limit) of a corpus.
// Ordinals are immutable, so re-reading the same offset yields the same
// words and a resumed cursor picks up exactly where it stopped.
func (s *Store) WordsChunk(ctx context.Context, corpusID string, offset, limit int64) ([]*Word, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT corpus_id, ordinal, word, left_context, right_context
         FROM corpus_words WHERE corpus_id = ? AND ordinal >= ?
         ORDER BY ordinal LIMIT ?`,
		strings.TrimSpace(corpusID), offset, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("corpus words chunk: %w", err)
	}
	defer rows.Close()

	var out []*Word
	for rows.Next() {
		var word Word
		if err := rows.Scan(
			&word.CorpusID, &word.Ordinal, &word.Word,
			&word.LeftContext, &word.RightContext,
		); err != nil {
			return nil, fmt.Errorf("scan corpus word: %w", err)
		}
		out = append(out, &word)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus words: %w", err)
	}
	return out, nil
}

// PendingWordCount returns how many corpus words have no classified cache
// entry yet. The orchestrator uses it to decide whether a corpus still has
// work.
func (s *Store) PendingWordCount(ctx context.Context, corpusID string) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM corpus_words cw
         LEFT JOIN cache_entries ce ON ce.word = cw.word AND ce.context_key = ''
         WHERE cw.corpus_id = ? AND (ce.word IS NULL OR ce.n1 = 'NC')`,
		strings.TrimSpace(corpusID),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("pending word count: %w", err)
	}
	return count, nil
}

func scanCorpus(row interface{ Scan(...any) error }) (*Corpus, error) {
	var (
		corpus    Corpus
		completed int64
		createdAt string
	)
	if err := row.Scan(
		&corpus.ID, &corpus.Name, &corpus.Kind,
		&corpus.Position, &completed, &createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	corpus.Completed = completed != 0
	if parsed, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		corpus.CreatedAt = parsed
	}
	return &corpus, nil
}
