package mold

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no live mold has the id.
	ErrNotFound = errors.New("mold not found")

	// ErrDuplicateName is returned when a live mold already has the name.
	ErrDuplicateName = errors.New("duplicate schema name")

	// ErrSchemaInUse is returned for renames and deletes of referenced molds.
	ErrSchemaInUse = errors.New("schema is in use")

	// ErrReservedName is returned for names claimed by answer conversion.
	ErrReservedName = errors.New("reserved schema name")
)

// Store persists molds and their rule attachments.
type Store interface {
	Tx(ctx context.Context, fn func(ctx context.Context, st Store) error) error

	GetMold(ctx context.Context, id int64) (*Mold, error)
	// FindMoldByName returns nil when no live mold has the name.
	FindMoldByName(ctx context.Context, name string) (*Mold, error)
	CreateMold(ctx context.Context, m *Mold) error
	SaveMold(ctx context.Context, m *Mold) error
	DeleteMold(ctx context.Context, id int64, deletedUTC int64) error
	// ListGroup returns the live molds whose id or master is in ids.
	ListGroup(ctx context.Context, ids ...int64) ([]*Mold, error)
	MoldUsage(ctx context.Context, id int64) (Usage, error)

	ListExtractMethods(ctx context.Context, moldID int64) ([]ExtractMethod, error)
	ListRuleClasses(ctx context.Context, moldID int64) ([]RuleClass, error)
	ListRuleItems(ctx context.Context, moldID int64) ([]RuleItem, error)
	ClearRules(ctx context.Context, moldID int64) error
	CreateExtractMethod(ctx context.Context, m *ExtractMethod) error
	CreateRuleClass(ctx context.Context, c *RuleClass) error
	CreateRuleItem(ctx context.Context, r *RuleItem) error
}
