package logging

import (
	"context"
	"log/slog"

	"glossa/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldCorpus is the standardized structured logging key for corpus identifiers.
	FieldCorpus = "corpus"
	// FieldWord is the standardized structured logging key for the word being classified.
	FieldWord = "word"
	// FieldTier is the standardized structured logging key for the classification tier.
	FieldTier = "tier"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if corpus, ok := services.CorpusFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorpus, corpus))
	}
	if word, ok := services.WordFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldWord, word))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
