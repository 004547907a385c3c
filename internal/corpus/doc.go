// Package corpus holds the ordered corpus registry and per-corpus word
// lists that feed classification jobs. Words carry immutable ordinals so a
// job cursor is a plain offset into a stable sequence. PendingWordCount
// reads the cache_entries table from the shared database, so the cache
// store must have been opened at least once against the same file.
package corpus
