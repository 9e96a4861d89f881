// Package script loads the installed game scripts from disk and caches the
// parsed form. Script names map to .json files in a single directory.
package script
