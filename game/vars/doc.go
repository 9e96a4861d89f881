// Package vars implements the two-tier variable store shared by game scripts
// and the recursive expansion of variable references inside script arguments.
//
// Keys starting with a single "@" live in the session-global tier; keys
// starting with "@@" live in the per-player tier that exists only while a
// per-player script block is running. Values are a tagged union of string,
// bool, number, ordered list, set, and insertion-ordered map.
//
// Expansion is pure and total: it substitutes whole-value references
// (strings that are exactly a variable name), inline {@name} segments, and
// bare @name tokens, leaving anything unresolved literal so scripts can
// detect absence.
package vars
