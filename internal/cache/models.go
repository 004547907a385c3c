package cache

import (
	"strings"
	"time"

	"glossa/internal/taxonomy"
)

// Source identifies which tier produced a classification. It is a closed
// enumeration so every branch on provenance is exhaustive; in particular the
// manual-entry immutability check cannot be bypassed by a novel string.
type Source string

const (
	SourceRule        Source = "rule-based"
	SourceInherited   Source = "dictionary-inherited"
	SourceAIPrimary   Source = "ai-primary"
	SourceAISecondary Source = "ai-secondary"
	SourceManual      Source = "manual"
)

var sourceSet = map[Source]struct{}{
	SourceRule:        {},
	SourceInherited:   {},
	SourceAIPrimary:   {},
	SourceAISecondary: {},
	SourceManual:      {},
}

// ParseSource converts a string into a known Source.
func ParseSource(value string) (Source, bool) {
	normalized := Source(strings.ToLower(strings.TrimSpace(value)))
	_, ok := sourceSet[normalized]
	return normalized, ok
}

// IsManual reports whether the provenance is manual curation. Manual entries
// are terminal: automated refinement never overwrites them.
func (s Source) IsManual() bool {
	return s == SourceManual
}

// Result is one persisted classification: a word (optionally scoped by a
// context key for context-sensitive disambiguation) with taxonomy codes at
// up to four levels, confidence, and provenance.
type Result struct {
	Word         string
	ContextKey   string
	N1           taxonomy.Code
	N2           taxonomy.Code
	N3           taxonomy.Code
	N4           taxonomy.Code
	Confidence   float64
	Source       Source
	CulturalTags []string
	BaseWord     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Unclassified reports whether the entry carries the NC sentinel (or no N1
// at all), meaning no tier could classify the word.
func (r *Result) Unclassified() bool {
	return r.N1.IsZero() || r.N1.IsNC()
}

// RefineUpdate deepens an existing entry by adding N2 where only N1 was known.
type RefineUpdate struct {
	Word       string
	ContextKey string
	N2         taxonomy.Code
	Confidence float64
}
