// Package services holds cross-cutting service plumbing: the sentinel error
// taxonomy used to classify failures, and context annotations that flow job,
// corpus, and word identifiers into structured logs.
package services
