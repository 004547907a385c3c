// Package logging builds the slog loggers used across glossa: a console
// handler with component prefixing and key=value attributes, and a JSON
// handler for machine consumption. Context plumbing carries job, corpus,
// and word identifiers into every log line produced under that context.
package logging
