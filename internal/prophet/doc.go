// Package prophet is the precise extractor. A mold, optionally overlaid by
// a model version, carries a list of path configs; each names an ordered
// list of model specs drawn from a closed catalog. Specs are decoded
// strictly, trained from labeled answers where the kind needs it, and run
// over the interdoc and the coarse candidates to produce a preset answer.
package prophet
