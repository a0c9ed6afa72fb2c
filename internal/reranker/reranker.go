// Package reranker reorders recalled document elements for a field.
//
// Vector recall ranks elements by similarity to exemplars of a field; the
// reranker folds in how many terms of the field label the element text
// actually carries, which lifts labelled values ("Invoice No: 42") above
// look-alike neighbours.
package reranker

import (
	"context"
	"errors"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Document is one recalled element.
type Document struct {
	Index int     // element index in the document
	Text  string  // plain text of the element
	Score float32 // similarity from recall
}

// Scored is a Document with its rerank scores.
type Scored struct {
	Document
	Overlap      float32 // share of query terms found in Text (0.0-1.0)
	Combined     float32 // weighted blend of Score and Overlap
	OriginalRank int     // position in the input (0-indexed)
}

// Reranker reorders documents against a query.
type Reranker interface {
	// Rerank returns docs sorted by descending Combined score, cut to
	// topK. A topK of zero or less keeps every document.
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Scored, error)
}
