package services

import (
	"errors"

	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/hooks"
	"github.com/fyrsmithlabs/extractd/internal/migrate"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/search"
	"github.com/fyrsmithlabs/extractd/internal/store"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

// Registry provides access to all extractd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Orchestrator() *orchestrator.Orchestrator
	Files() *file.Service
	Molds() *mold.Service
	Questions() *question.Service
	Versions() *training.Service
	PostPipe() *postpipe.Pipeline
	Migrator() *migrate.Migrator
	Hooks() *hooks.HookManager
	// Search is nil when answer indexing is disabled.
	Search() *search.Indexer
	FileStore() *store.FileRepo
	MoldStore() *store.MoldRepo
	// Close releases every connection opened by Build.
	Close() error
}

// Options configures the registry with service instances.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Files        *file.Service
	Molds        *mold.Service
	Questions    *question.Service
	Versions     *training.Service
	PostPipe     *postpipe.Pipeline
	Migrator     *migrate.Migrator
	Hooks        *hooks.HookManager
	Search       *search.Indexer
	FileStore    *store.FileRepo
	MoldStore    *store.MoldRepo
	// Closers run in reverse order on Close.
	Closers []func() error
}

// registry is the concrete implementation of Registry.
type registry struct {
	orchestrator *orchestrator.Orchestrator
	files        *file.Service
	molds        *mold.Service
	questions    *question.Service
	versions     *training.Service
	postPipe     *postpipe.Pipeline
	migrator     *migrate.Migrator
	hooks        *hooks.HookManager
	search       *search.Indexer
	fileStore    *store.FileRepo
	moldStore    *store.MoldRepo
	closers      []func() error
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		orchestrator: opts.Orchestrator,
		files:        opts.Files,
		molds:        opts.Molds,
		questions:    opts.Questions,
		versions:     opts.Versions,
		postPipe:     opts.PostPipe,
		migrator:     opts.Migrator,
		hooks:        opts.Hooks,
		search:       opts.Search,
		fileStore:    opts.FileStore,
		moldStore:    opts.MoldStore,
		closers:      opts.Closers,
	}
}

func (r *registry) Orchestrator() *orchestrator.Orchestrator { return r.orchestrator }
func (r *registry) Files() *file.Service                      { return r.files }
func (r *registry) Molds() *mold.Service                      { return r.molds }
func (r *registry) Questions() *question.Service              { return r.questions }
func (r *registry) Versions() *training.Service               { return r.versions }
func (r *registry) PostPipe() *postpipe.Pipeline              { return r.postPipe }
func (r *registry) Migrator() *migrate.Migrator               { return r.migrator }
func (r *registry) Hooks() *hooks.HookManager                 { return r.hooks }
func (r *registry) Search() *search.Indexer                   { return r.search }
func (r *registry) FileStore() *store.FileRepo                { return r.fileStore }
func (r *registry) MoldStore() *store.MoldRepo                { return r.moldStore }

func (r *registry) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
