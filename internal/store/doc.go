// Package store persists the domain on PostgreSQL through gorm.
//
// Every repository implements the Store interface of its domain package
// (mold.Store, question.Store, file.Store, training.Store). Rows are gorm
// models with JSONB columns; conversions to domain types live next to the
// models. Tx binds a repository to a gorm transaction and Lock* methods
// issue SELECT ... FOR UPDATE.
package store
