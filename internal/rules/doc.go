// Package rules implements the morphological rule engine: suffix and prefix
// pattern matching over single words, including an inheritance mode where
// diminutives, augmentatives, and prefixed forms resolve through the base
// lexicon. A miss is not an error; it signals escalation to the next
// classification tier.
package rules
