package services

import "context"

type contextKey string

const (
	jobIDKey  contextKey = "job_id"
	corpusKey contextKey = "corpus"
	wordKey   contextKey = "word"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCorpus annotates context with the corpus identifier.
func WithCorpus(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, corpusKey, id)
}

// CorpusFromContext extracts the corpus identifier if present.
func CorpusFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(corpusKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWord annotates context with the word currently being classified.
func WithWord(ctx context.Context, word string) context.Context {
	if word == "" {
		return ctx
	}
	return context.WithValue(ctx, wordKey, word)
}

// WordFromContext extracts the current word if present.
func WordFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(wordKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
