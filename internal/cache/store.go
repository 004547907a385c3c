package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"glossa/internal/config"
	"glossa/internal/sqlite"
	"glossa/internal/taxonomy"
	"glossa/internal/textutil"
)

// Store manages disambiguation cache persistence backed by SQLite.
type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS cache_entries (
    word TEXT NOT NULL,
    context_key TEXT NOT NULL DEFAULT '',
    n1 TEXT NOT NULL,
    n2 TEXT NOT NULL DEFAULT '',
    n3 TEXT NOT NULL DEFAULT '',
    n4 TEXT NOT NULL DEFAULT '',
    confidence REAL NOT NULL,
    source TEXT NOT NULL,
    cultural_tags TEXT NOT NULL DEFAULT '',
    base_word TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (word, context_key)
);
CREATE INDEX IF NOT EXISTS idx_cache_n1 ON cache_entries(n1);
CREATE INDEX IF NOT EXISTS idx_cache_source ON cache_entries(source)`

// Open initializes or connects to the disambiguation cache.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenAt(cfg.DatabasePath())
}

// OpenAt connects to the cache at an explicit database path.
func OpenAt(path string) (*Store, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the cache tables on an already-open handle. Stores
// that join against cache_entries call it so they work before the cache
// store has ever been opened on the same database.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create cache schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const entryColumns = `word, context_key, n1, n2, n3, n4, confidence, source,
    cultural_tags, base_word, created_at, updated_at`

// Get returns the entry for a word, or nil when none exists. An empty
// context key matches only the context-free row; a context-keyed entry never
// shadows it.
func (s *Store) Get(ctx context.Context, word, contextKey string) (*Result, error) {
	normalized := textutil.NormalizeWord(word)
	if normalized == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+` FROM cache_entries WHERE word = ? AND context_key = ?`,
		normalized, strings.TrimSpace(contextKey),
	)
	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry: %w", err)
	}
	return result, nil
}

// Upsert inserts or overwrites an entry. Two invariants are enforced at
// write time: a manual result always carries confidence 1.0 regardless of
// caller input, and a manual entry is never overwritten by a non-manual
// result. The latter case is a silent no-op reporting success so batch jobs
// need no special-casing.
func (s *Store) Upsert(ctx context.Context, result Result) error {
	normalized := textutil.NormalizeWord(result.Word)
	if normalized == "" {
		return errors.New("upsert cache entry: empty word")
	}
	if _, ok := sourceSet[result.Source]; !ok {
		return fmt.Errorf("upsert cache entry: unknown source %q", result.Source)
	}
	if result.N1.IsZero() {
		return errors.New("upsert cache entry: n1 required")
	}
	if result.Source.IsManual() {
		result.Confidence = 1.0
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return fmt.Errorf("upsert cache entry: confidence %v out of range", result.Confidence)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	contextKey := strings.TrimSpace(result.ContextKey)
	tags, err := encodeTags(result.CulturalTags)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	guard := ""
	if !result.Source.IsManual() {
		guard = ` WHERE cache_entries.source != '` + string(SourceManual) + `'`
	}

	if err := sqlite.ExecWithoutResultRetry(
		ctx, s.db,
		`INSERT INTO cache_entries (`+entryColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(word, context_key) DO UPDATE SET
            n1 = excluded.n1, n2 = excluded.n2, n3 = excluded.n3, n4 = excluded.n4,
            confidence = excluded.confidence, source = excluded.source,
            cultural_tags = excluded.cultural_tags, base_word = excluded.base_word,
            updated_at = excluded.updated_at`+guard,
		normalized, contextKey,
		result.N1.String(), result.N2.String(), result.N3.String(), result.N4.String(),
		result.Confidence, string(result.Source),
		tags, textutil.NormalizeWord(result.BaseWord),
		now, now,
	); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// CountUnclassified returns the number of entries still holding the NC sentinel.
func (s *Store) CountUnclassified(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, `n1 = ?`, taxonomy.NC.String())
}

// CountMissingN2 returns classified entries that only carry N1.
func (s *Store) CountMissingN2(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, `n1 != ? AND n1 != '' AND n2 = ''`, taxonomy.NC.String())
}

// CountClassified returns non-manual entries with a real N1; the refine job
// sizes its walk with this count so its cursor matches ClassifiedChunk.
func (s *Store) CountClassified(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, `n1 != ? AND n1 != '' AND source != ?`,
		taxonomy.NC.String(), string(SourceManual))
}

// CountBySource returns entry counts grouped by provenance.
func (s *Store) CountBySource(ctx context.Context) (map[Source]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM cache_entries GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("count by source: %w", err)
	}
	defer rows.Close()

	out := make(map[Source]int64)
	for rows.Next() {
		var source string
		var count int64
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		out[Source(source)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source counts: %w", err)
	}
	return out, nil
}

func (s *Store) countWhere(ctx context.Context, where string, args ...any) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM cache_entries WHERE `+where, args...,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return count, nil
}

// ClassifiedChunk returns the stable slice [offset, offset+limit) of
// non-manual entries with a real N1, ordered by (word, context_key). The
// refine job walks this superset rather than only rows missing N2 so the
// offset cursor stays valid as refinements land; already-refined rows are
// skipped by the executor and counted as unchanged.
func (s *Store) ClassifiedChunk(ctx context.Context, offset, limit int64) ([]*Result, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+entryColumns+` FROM cache_entries
         WHERE n1 != ? AND n1 != '' AND source != ?
         ORDER BY word, context_key LIMIT ? OFFSET ?`,
		taxonomy.NC.String(), string(SourceManual), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("classified chunk: %w", err)
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}
	return out, nil
}

// BatchRefineN2 applies N2 refinements. Each row is updated atomically and
// independently: a row fails validation (manual entry, already refined, or
// missing) without affecting the rest. Returns how many rows were applied.
func (s *Store) BatchRefineN2(ctx context.Context, updates []RefineUpdate) (int64, error) {
	var applied int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, update := range updates {
		normalized := textutil.NormalizeWord(update.Word)
		if normalized == "" || update.N2.IsZero() {
			continue
		}
		res, err := sqlite.ExecWithRetry(
			ctx, s.db,
			`UPDATE cache_entries SET n2 = ?, confidence = ?, updated_at = ?
             WHERE word = ? AND context_key = ? AND n2 = '' AND source != ?`,
			update.N2.String(), update.Confidence, now,
			normalized, strings.TrimSpace(update.ContextKey), string(SourceManual),
		)
		if err != nil {
			return applied, fmt.Errorf("refine %q: %w", update.Word, err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return applied, fmt.Errorf("refine rows affected: %w", err)
		}
		applied += count
	}
	return applied, nil
}

// EntryKey addresses one cache row for batch confirmation and removal.
type EntryKey struct {
	Word       string
	ContextKey string
}

// BatchConfirm promotes entries to manual provenance at confidence 1.0,
// recording an operator's sign-off on automated classifications. Rows are
// updated atomically and independently: missing rows, the NC sentinel, and
// entries that are already manual are skipped. Returns how many rows were
// confirmed.
func (s *Store) BatchConfirm(ctx context.Context, keys []EntryKey) (int64, error) {
	var confirmed int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, key := range keys {
		normalized := textutil.NormalizeWord(key.Word)
		if normalized == "" {
			continue
		}
		res, err := sqlite.ExecWithRetry(
			ctx, s.db,
			`UPDATE cache_entries SET source = ?, confidence = 1.0, updated_at = ?
             WHERE word = ? AND context_key = ? AND n1 != ? AND source != ?`,
			string(SourceManual), now,
			normalized, strings.TrimSpace(key.ContextKey),
			taxonomy.NC.String(), string(SourceManual),
		)
		if err != nil {
			return confirmed, fmt.Errorf("confirm %q: %w", key.Word, err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return confirmed, fmt.Errorf("confirm rows affected: %w", err)
		}
		confirmed += count
	}
	return confirmed, nil
}

// BatchRemove deletes entries so the next classification run redoes them.
// Manual entries are terminal and never removed; they are skipped the same
// way missing rows are. Each delete is independent and the count of rows
// actually removed is returned alongside any error that stopped the walk.
func (s *Store) BatchRemove(ctx context.Context, keys []EntryKey) (int64, error) {
	var removed int64
	for _, key := range keys {
		normalized := textutil.NormalizeWord(key.Word)
		if normalized == "" {
			continue
		}
		res, err := sqlite.ExecWithRetry(
			ctx, s.db,
			`DELETE FROM cache_entries
             WHERE word = ? AND context_key = ? AND source != ?`,
			normalized, strings.TrimSpace(key.ContextKey), string(SourceManual),
		)
		if err != nil {
			return removed, fmt.Errorf("remove %q: %w", key.Word, err)
		}
		count, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("remove rows affected: %w", err)
		}
		removed += count
	}
	return removed, nil
}

// TotalEntries returns the number of cache entries.
func (s *Store) TotalEntries(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, `1 = 1`)
}

// Tags are stored as a JSON array so a tag may itself contain a comma.
func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode cultural tags: %w", err)
	}
	return string(encoded), nil
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		// Rows written before tags were JSON encoded used a comma join.
		return strings.Split(raw, ",")
	}
	return tags
}

func scanResult(row interface{ Scan(...any) error }) (*Result, error) {
	var (
		result               Result
		n1, n2, n3, n4, tags string
		source               string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&result.Word, &result.ContextKey,
		&n1, &n2, &n3, &n4,
		&result.Confidence, &source,
		&tags, &result.BaseWord,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	result.N1 = taxonomy.Code(n1)
	result.N2 = taxonomy.Code(n2)
	result.N3 = taxonomy.Code(n3)
	result.N4 = taxonomy.Code(n4)
	result.Source = Source(source)
	result.CulturalTags = decodeTags(tags)
	result.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	result.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &result, nil
}
