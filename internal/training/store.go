package training

import "context"

// Store persists versions and their run records.
type Store interface {
	Tx(ctx context.Context, fn func(ctx context.Context, st Store) error) error

	GetVersion(ctx context.Context, id int64) (*Version, error)
	// LockVersion loads a live version with SELECT ... FOR UPDATE.
	LockVersion(ctx context.Context, id int64) (*Version, error)
	// FindVersionByName returns nil when the mold has no live version of
	// that name.
	FindVersionByName(ctx context.Context, moldID int64, name string) (*Version, error)
	CreateVersion(ctx context.Context, v *Version) error
	SaveVersion(ctx context.Context, v *Version) error
	ListVersions(ctx context.Context, moldID int64) ([]*Version, error)
	// EnabledVersion returns nil when no version of the mold is enabled.
	EnabledVersion(ctx context.Context, moldID int64) (*Version, error)
	// DisableVersions clears enable on every version of the mold.
	DisableVersions(ctx context.Context, moldID int64) error

	CreateAccuracyRecord(ctx context.Context, r *AccuracyRecord) error
	SaveAccuracyRecord(ctx context.Context, r *AccuracyRecord) error
	// LatestAccuracyRecord returns nil when the version has no record of
	// that kind.
	LatestAccuracyRecord(ctx context.Context, vid int64, kind RecordKind) (*AccuracyRecord, error)

	// LabeledSamples returns the files of the mold whose question carries
	// a finished answer and a parsed interdoc, in file id order.
	LabeledSamples(ctx context.Context, moldID int64, scope Scope) ([]SampleRef, error)
}
