// Package blob stores opaque objects: uploaded files, interdoc payloads
// and model archives.
//
// MinioStore writes to an S3-compatible bucket. When an encryption secret
// is configured every object is sealed with AES-GCM before upload and
// opened after download, so the bucket never holds plaintext. MemStore is
// the in-memory variant used by tests and local runs.
package blob
