// Package classifier implements the tiered word classifier: cache lookup,
// morphological rules, verbatim lexicon, then the rate-limited external AI
// service. Tiers run strictly in order per word, so the external tier is
// skipped whenever an earlier tier answers.
package classifier
