// Package cache persists the disambiguation cache: the ground truth of one
// classification per word (optionally per word+context key). Entries are
// never deleted, only superseded by upsert. The store enforces the
// provenance invariants at write time: manual entries carry confidence 1.0
// and are immutable to automated writes.
package cache
