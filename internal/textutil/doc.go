// Package textutil provides word normalization helpers shared by every
// word-keyed component (rule engine, lexicon, disambiguation cache) so
// that lookup keys always agree.
//
// Normalization applies Unicode NFC composition, case folding, and
// whitespace trimming. Accented characters are preserved: "chimarrão"
// and "Chimarrão" normalize to the same key, but the tilde is kept.
package textutil
