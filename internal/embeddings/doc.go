// Package embeddings turns document elements into vectors for candidate
// recall.
//
// Two providers are supported: an OpenAI compatible endpoint reached
// through langchaingo and a local FastEmbed ONNX model (cgo builds only).
// Requests are split so that no batch exceeds the configured BPE token
// budget.
package embeddings
