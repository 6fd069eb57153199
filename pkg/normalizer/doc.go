// Package normalizer maps free-text material names ("e.max", "NP", "半貴金屬")
// to the canonical subtype names used by the compatibility table.
//
// Resolution escalates through a chain of stages (alias table, fuzzy edit
// similarity, then the reasoning engine) and stops at the first stage that
// resolves. Results are cached per (input, category) until the cache is cleared.
package normalizer
