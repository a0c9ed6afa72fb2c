// Package migrate rewrites answers built against an older version of a
// mold so that they match its current data and checksum.
//
// Items whose key still resolves are kept with a refreshed schema
// snapshot; the rest are dropped. Migrating an answer twice yields the
// same result as migrating it once.
package migrate
