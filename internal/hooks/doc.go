// Package hooks runs the handlers registered for pipeline lifecycle points.
//
// The post-pipeline fires predict_finish once a question's predicted answer
// is written, unless the caller asked to skip hooks. Submissions fire
// answer_submitted and the LLM callback fires extract_finish.
package hooks
