// Package answer holds the canonical JSON form of labeled and predicted
// answers: a set of items keyed by schema path, each carrying text and
// page boxes.
//
// Every merge, migration, progress and export routine works on *Answer.
// Items are addressed by Item.Key, the compact JSON encoding of a
// schema.Path; two items with equal keys are the same field instance.
package answer
