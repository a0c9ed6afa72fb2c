// Package merge combines the answers of several contributors, and the
// preset answer of the extractors, into the canonical answer of a
// question.
//
// Contributions are ordered oldest first. Stale contributions are
// migrated onto the current mold before merging and items that no longer
// resolve are dropped.
package merge
