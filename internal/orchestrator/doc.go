// Package orchestrator runs the file and question tasks of the extraction
// pipeline: parsing, preset prediction, LLM extraction, answer submission
// and the post-pipeline.
//
// # Overview
//
// A file moves through parse, predict and post-process. Each step is a
// method on Orchestrator and is started through a Dispatcher, so the same
// code runs inline in tests and as Temporal activities in the worker.
//
//	ProcessFile → ConvertOrParse ⇢ ParseComplete → PredictFile
//	PredictFile → PresetAnswer → PostPipe
//	            → extractWithStudio ⇢ ProcessFileExtract → PostPipe
//	Submit → QuestionPostPipe → PostPipe
//
// Dashed arrows are asynchronous callbacks from the parser or the studio.
//
// # Preset Phases
//
// The preset answer of one question runs through three phases under the
// question lock:
//
//	locate → predict → merge
//
// Gates run before every phase. A gate returns violations; a violation
// with SeveritySkip ends the run without error and may carry the status
// to record on the question. Registered gates:
//   - MoldTypeGate: LLM molds have no preset prediction
//   - VersionGate: the mold needs an enabled version or own predictors
//   - StatusGate: only TODO questions predict unless forced
//   - CandidateGate: warns when the locator found no candidates
//
// # Locks
//
// Submit and the preset share lock.QuestionPostPipe. Submit hands the lock
// to QuestionPostPipe with PostPipeRequest.Locked, which releases it when
// done. ConvertOrParse holds lock.ParseFile for the content hash until
// ParseComplete, so one parse runs per hash.
package orchestrator
