package rules

import (
	"regexp"

	"glossa/internal/taxonomy"
)

// Inherit marks a rule whose classification comes from the base word left
// after stripping the matched affix, rather than from the rule itself.
const Inherit taxonomy.Code = "INHERIT"

// SuffixRule matches a word ending. Non-inheritance rules carry their own
// taxonomy codes; inheritance rules strip the matched suffix and delegate to
// the base lexicon.
type SuffixRule struct {
	Pattern     *regexp.Regexp
	N1          taxonomy.Code
	N2          taxonomy.Code
	Confidence  float64
	POS         string
	Description string
}

// Inherits reports whether the rule resolves through the base word.
func (r SuffixRule) Inherits() bool {
	return r.N1 == Inherit
}

// PrefixRule strips a leading affix and resolves the remaining base word
// through the lexicon. Prefix rules never classify on their own.
type PrefixRule struct {
	Prefix      string
	Confidence  float64
	Description string
}

// DefaultSuffixRules returns the built-in suffix rule set in evaluation
// order: longer and more specific affixes first, inheritance rules where the
// affix only modulates an existing base word. Confidence values are the
// hand-tuned defaults; NewEngine overrides inheritance confidences from
// configuration.
func DefaultSuffixRules() []SuffixRule {
	return []SuffixRule{
		{
			Pattern:     regexp.MustCompile(`(zinho|zinha)$`),
			N1:          Inherit,
			Confidence:  0.70,
			Description: "diminutive -zinho/-zinha inherits the base word",
		},
		{
			Pattern:     regexp.MustCompile(`(inho|inha)$`),
			N1:          Inherit,
			Confidence:  0.70,
			Description: "diminutive -inho/-inha inherits the base word",
		},
		{
			Pattern:     regexp.MustCompile(`(ão|ona)$`),
			N1:          Inherit,
			Confidence:  0.70,
			Description: "augmentative -ão/-ona inherits the base word",
		},
		{
			Pattern:     regexp.MustCompile(`ismo$`),
			N1:          taxonomy.MustParse("ID"),
			Confidence:  0.75,
			POS:         "noun",
			Description: "-ismo doctrines and movements",
		},
		{
			Pattern:     regexp.MustCompile(`(eiro|eira)$`),
			N1:          taxonomy.MustParse("OF"),
			Confidence:  0.72,
			POS:         "noun",
			Description: "-eiro/-eira trades and occupations",
		},
		{
			Pattern:     regexp.MustCompile(`agem$`),
			N1:          taxonomy.MustParse("AB"),
			Confidence:  0.68,
			POS:         "noun",
			Description: "-agem abstract nouns",
		},
	}
}

// DefaultPrefixRules returns the built-in prefix rule set. Every prefix rule
// resolves through the lexicon; the prefix confidence reflects the extra
// inference step.
func DefaultPrefixRules() []PrefixRule {
	prefixes := []string{"des", "in", "re", "pré", "anti", "contra"}
	out := make([]PrefixRule, 0, len(prefixes))
	for _, prefix := range prefixes {
		out = append(out, PrefixRule{
			Prefix:      prefix,
			Confidence:  0.65,
			Description: "prefix " + prefix + "- inherits the base word",
		})
	}
	return out
}
