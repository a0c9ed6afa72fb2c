// Package question implements the per (file, mold) work item state
// machine: annotation status, exclusive and LLM extractor status with
// the derived ai_status rollup, label quota (health), and the answer
// submission rules.
//
// Mutations run inside Store.Tx with the question row locked, so at most
// one submission per question proceeds at a time within the database.
// Callers that also need to serialise the post-pipeline take the
// question post-pipe lock before calling SaveAnswer.
package question
