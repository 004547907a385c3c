package rules

import (
	"context"
	"fmt"
	"strings"

	"glossa/internal/config"
	"glossa/internal/taxonomy"
	"glossa/internal/textutil"
)

const (
	// minBaseLength is the shortest base word an inheritance suffix strip may produce.
	minBaseLength = 3
	// minPrefixRemainder is the shortest remainder a prefix strip may leave.
	minPrefixRemainder = 4
)

// BaseLookup resolves a base word's lexicon-derived classification.
// *lexicon.Store satisfies it.
type BaseLookup interface {
	LookupCodes(ctx context.Context, word string) (n1, n2, n3, n4 taxonomy.Code, found bool, err error)
}

// Candidate is a rule-engine classification proposal. Inherited candidates
// carry the base word's codes with the rule's own confidence.
type Candidate struct {
	N1         taxonomy.Code
	N2         taxonomy.Code
	N3         taxonomy.Code
	N4         taxonomy.Code
	Confidence float64
	Inherited  bool
	BaseWord   string
	Rule       string
}

// Engine evaluates morphological rules against single words. Suffix rules
// run first in declared order, prefix rules only when no suffix rule fires.
// Safe for concurrent use; the only side effect is the lookup call.
type Engine struct {
	suffixRules []SuffixRule
	prefixRules []PrefixRule
	lookup      BaseLookup
}

// NewEngine builds an engine from the default rule set, applying the
// configured inheritance and prefix confidences.
func NewEngine(cfg *config.Config, lookup BaseLookup) *Engine {
	suffixRules := DefaultSuffixRules()
	prefixRules := DefaultPrefixRules()
	if cfg != nil {
		for i := range suffixRules {
			if suffixRules[i].Inherits() && cfg.Rules.InheritanceConfidence > 0 {
				suffixRules[i].Confidence = cfg.Rules.InheritanceConfidence
			}
		}
		for i := range prefixRules {
			if cfg.Rules.PrefixConfidence > 0 {
				prefixRules[i].Confidence = cfg.Rules.PrefixConfidence
			}
		}
	}
	return NewEngineWithRules(suffixRules, prefixRules, lookup)
}

// NewEngineWithRules builds an engine from an explicit rule set.
func NewEngineWithRules(suffixRules []SuffixRule, prefixRules []PrefixRule, lookup BaseLookup) *Engine {
	return &Engine{
		suffixRules: suffixRules,
		prefixRules: prefixRules,
		lookup:      lookup,
	}
}

// Classify evaluates the rules against a word. A nil candidate with a nil
// error means no rule fired; callers escalate to the next tier.
func (e *Engine) Classify(ctx context.Context, word, pos string) (*Candidate, error) {
	normalized := textutil.NormalizeWord(word)
	if normalized == "" {
		return nil, nil
	}
	pos = strings.ToLower(strings.TrimSpace(pos))

	for _, rule := range e.suffixRules {
		if rule.POS != "" && pos != "" && rule.POS != pos {
			continue
		}
		// A POS-constrained rule never fires when the caller supplied no POS.
		if rule.POS != "" && pos == "" {
			continue
		}
		matched := rule.Pattern.FindString(normalized)
		if matched == "" || !strings.HasSuffix(normalized, matched) {
			continue
		}
		if !rule.Inherits() {
			return &Candidate{
				N1:         rule.N1,
				N2:         rule.N2,
				Confidence: rule.Confidence,
				Rule:       rule.Description,
			}, nil
		}
		base, ok := textutil.StripSuffix(normalized, matched, minBaseLength)
		if !ok {
			continue
		}
		// The affix replaced the thematic vowel ("gauchinho" strips to
		// "gauch"), so look the stripped form up first, then with the
		// vowel restored.
		for _, variant := range []string{base, base + "o", base + "a"} {
			candidate, err := e.inherit(ctx, variant, rule.Confidence, rule.Description)
			if err != nil {
				return nil, err
			}
			if candidate != nil {
				return candidate, nil
			}
		}
		// Lexicon had no answer for any base form; try the next rule.
	}

	for _, rule := range e.prefixRules {
		base, ok := textutil.StripPrefix(normalized, rule.Prefix, minPrefixRemainder)
		if !ok {
			continue
		}
		candidate, err := e.inherit(ctx, base, rule.Confidence, rule.Description)
		if err != nil {
			return nil, err
		}
		if candidate != nil {
			return candidate, nil
		}
	}

	return nil, nil
}

func (e *Engine) inherit(ctx context.Context, base string, confidence float64, description string) (*Candidate, error) {
	if e.lookup == nil {
		return nil, nil
	}
	n1, n2, n3, n4, found, err := e.lookup.LookupCodes(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("inherit from %q: %w", base, err)
	}
	if !found {
		return nil, nil
	}
	return &Candidate{
		N1:         n1,
		N2:         n2,
		N3:         n3,
		N4:         n4,
		Confidence: confidence,
		Inherited:  true,
		BaseWord:   base,
		Rule:       description,
	}, nil
}
