// Package vectorindex keeps element embeddings in a vector database and
// uses them to widen the candidates of the coarse locator.
//
// Two collections are kept per deployment: the elements of parsed files
// and the labeled exemplars of each mold field. Qdrant serves remote
// deployments over gRPC; chromem-go serves single-node ones from disk.
package vectorindex
