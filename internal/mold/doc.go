// Package mold is the schema registry.
//
// A mold names a tree of field definitions (schema.Data) plus its
// predictor configuration. The registry enforces unique live names,
// recomputes the checksum whenever data changes, refuses renames and
// deletes while the mold is referenced, and exports or imports a mold
// together with its extract methods and audit rules as one JSON bundle.
//
// Molds sharing a master form a group; Related returns the group and
// MasterWithMergedSchemas folds it into one schema for merged answers.
package mold
