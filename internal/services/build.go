package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fyrsmithlabs/extractd/internal/audit"
	"github.com/fyrsmithlabs/extractd/internal/blob"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/embeddings"
	"github.com/fyrsmithlabs/extractd/internal/events"
	"github.com/fyrsmithlabs/extractd/internal/file"
	"github.com/fyrsmithlabs/extractd/internal/hooks"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/lock"
	"github.com/fyrsmithlabs/extractd/internal/migrate"
	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/orchestrator"
	"github.com/fyrsmithlabs/extractd/internal/parser"
	"github.com/fyrsmithlabs/extractd/internal/postpipe"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/prophet"
	"github.com/fyrsmithlabs/extractd/internal/question"
	"github.com/fyrsmithlabs/extractd/internal/reranker"
	"github.com/fyrsmithlabs/extractd/internal/search"
	"github.com/fyrsmithlabs/extractd/internal/store"
	"github.com/fyrsmithlabs/extractd/internal/studio"
	"github.com/fyrsmithlabs/extractd/internal/training"
	"github.com/fyrsmithlabs/extractd/internal/vectorindex"
)

const interdocCacheSize = 64

// Dispatcher runs tasks and training chains asynchronously. The Temporal
// dispatcher implements it; without one every task runs inline.
type Dispatcher interface {
	orchestrator.Dispatcher
	training.Dispatcher
	training.Repredictor
}

// BuildOption tunes Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	dispatcher Dispatcher
	db         *gorm.DB
	migrate    bool
}

// WithDispatcher hands tasks and training chains to d.
func WithDispatcher(d Dispatcher) BuildOption {
	return func(o *buildOptions) { o.dispatcher = d }
}

// WithDB reuses an open database instead of opening cfg.Database.
func WithDB(db *gorm.DB) BuildOption {
	return func(o *buildOptions) { o.db = db }
}

// WithMigrate runs the schema migration after connecting, regardless of
// database.auto_migrate.
func WithMigrate() BuildOption {
	return func(o *buildOptions) { o.migrate = true }
}

// Build connects every backend named by cfg and assembles the services.
// On error every connection opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (reg Registry, err error) {
	if cfg == nil {
		return nil, errors.New("services: config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	db := o.db
	if db == nil {
		if db, err = store.Open(cfg.Database, logger); err != nil {
			return nil, err
		}
		closers = append(closers, closeDB(db))
	}
	if o.migrate || cfg.Database.AutoMigrate {
		if err = store.Migrate(db); err != nil {
			return nil, err
		}
	}

	files := store.NewFileRepo(db)
	molds := store.NewMoldRepo(db)
	questions := store.NewQuestionRepo(db)
	versions := store.NewVersionRepo(db)

	locker, closeLocker := newLocker(cfg.Redis, logger)
	if closeLocker != nil {
		closers = append(closers, closeLocker)
	}

	blobs, err := newBlobs(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	docs, err := interdoc.NewLoader(blobs, interdocCacheSize, logger.Named("interdoc"))
	if err != nil {
		return nil, err
	}

	index, closeIndex, err := newElementIndex(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeIndex != nil {
		closers = append(closers, closeIndex)
	}

	publisher, closeBus, err := newPublisher(cfg.NATS, logger)
	if err != nil {
		return nil, err
	}
	if closeBus != nil {
		closers = append(closers, closeBus)
	}

	hookManager := hooks.NewHookManager()

	moldSvc, err := mold.NewService(molds, cfg.Web,
		mold.WithPredictorValidator(prophet.Validator(cfg.Feature.AllowDifferentModels)),
		mold.WithLogger(logger.Named("mold")),
	)
	if err != nil {
		return nil, err
	}
	questionSvc, err := question.NewService(questions, cfg.Web, question.WithLogger(logger.Named("question")))
	if err != nil {
		return nil, err
	}
	fileSvc := file.NewService(files, docs, file.WithLogger(logger.Named("file")))

	predictors, err := prophet.LoadRegistry(cfg.Prophet.ConfigInCode)
	if err != nil {
		return nil, fmt.Errorf("prophet registry: %w", err)
	}
	locatorOpts := []prompter.Option{prompter.WithLogger(logger.Named("prompter"))}
	if index != nil {
		locatorOpts = append(locatorOpts, prompter.WithRecaller(index))
	}
	locator := prompter.NewService(cfg.Training, locatorOpts...)
	extractor := prophet.NewService(cfg.Training, cfg.Feature,
		prophet.WithRegistry(predictors),
		prophet.WithLogger(logger.Named("prophet")),
	)

	// The orchestrator re-predicts molds when no dispatcher is given, but
	// it needs the version service first.
	repredict := &lateRepredictor{}
	trainOpts := []training.Option{training.WithLogger(logger.Named("training"))}
	if o.dispatcher != nil {
		trainOpts = append(trainOpts, training.WithDispatcher(o.dispatcher), training.WithRepredictor(o.dispatcher))
	} else {
		trainOpts = append(trainOpts, training.WithRepredictor(repredict))
	}
	if index != nil {
		trainOpts = append(trainOpts, training.WithExemplars(index))
	}
	versionSvc := training.NewService(versions, moldSvc, docs, locator, extractor, locker, cfg.Training, trainOpts...)

	searchIdx, err := search.New(cfg.Search, nil, search.WithLogger(logger.Named("search")))
	switch {
	case errors.Is(err, search.ErrDisabled):
		searchIdx = nil
	case err != nil:
		return nil, err
	}

	pipeOpts := []postpipe.Option{
		postpipe.WithHooks(hookManager),
		postpipe.WithWorkshops(postpipe.NewRegistry(cfg.Prophet.Workshops)),
		postpipe.WithLogger(logger.Named("postpipe")),
	}
	engine, err := audit.NewClient(cfg.Audit)
	switch {
	case errors.Is(err, audit.ErrDisabled):
	case err != nil:
		return nil, err
	default:
		auditor := audit.NewService(engine, store.NewAuditRepo(db), audit.WithLogger(logger.Named("audit")))
		pipeOpts = append(pipeOpts, postpipe.WithAuditor(auditor))
	}
	if searchIdx != nil {
		pipeOpts = append(pipeOpts, postpipe.WithIndexer(searchIdx))
	}
	pipeline := postpipe.New(postpipe.Config{Web: cfg.Web, DataFlow: cfg.DataFlow, Auth: cfg.App.Auth},
		questions, files, molds, store.NewSpecialAnswerRepo(db), pipeOpts...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithHooks(hookManager),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	}
	if o.dispatcher != nil {
		orchOpts = append(orchOpts, orchestrator.WithDispatcher(o.dispatcher))
	}
	if publisher != nil {
		orchOpts = append(orchOpts, orchestrator.WithPublisher(publisher))
	}
	if index != nil {
		orchOpts = append(orchOpts, orchestrator.WithElementIndex(index))
	}
	p, err := parser.New(cfg.Parser, cfg.Web.Scheme+"://"+cfg.Web.Domain, parser.WithLogger(logger.Named("parser")))
	switch {
	case errors.Is(err, parser.ErrNotConfigured):
	case err != nil:
		return nil, err
	default:
		orchOpts = append(orchOpts, orchestrator.WithParser(p))
	}
	s, err := studio.New(cfg.Studio, studio.WithLogger(logger.Named("studio")))
	switch {
	case errors.Is(err, studio.ErrNotConfigured):
	case err != nil:
		return nil, err
	default:
		orchOpts = append(orchOpts, orchestrator.WithStudio(s))
	}

	orch, err := orchestrator.New(cfg.Web, orchestrator.Deps{
		Files:         fileSvc,
		FileStore:     files,
		Questions:     questionSvc,
		QuestionStore: questions,
		Molds:         molds,
		Models:        versionSvc,
		Locator:       locator,
		Extractor:     extractor,
		PostPipe:      pipeline,
		Locker:        locker,
		Blobs:         blobs,
	}, orchOpts...)
	if err != nil {
		return nil, err
	}
	repredict.o = orch

	migrator, err := migrate.NewMigrator(questions, logger.Named("migrate"))
	if err != nil {
		return nil, err
	}

	logger.Info("services initialized",
		zap.Bool("async_dispatch", o.dispatcher != nil),
		zap.Bool("element_index", index != nil),
		zap.Bool("events", publisher != nil),
		zap.Bool("search", searchIdx != nil),
		zap.Bool("audit", engine != nil),
	)

	return NewRegistry(Options{
		Orchestrator: orch,
		Files:        fileSvc,
		Molds:        moldSvc,
		Questions:    questionSvc,
		Versions:     versionSvc,
		PostPipe:     pipeline,
		Migrator:     migrator,
		Hooks:        hookManager,
		Search:       searchIdx,
		FileStore:    files,
		MoldStore:    molds,
		Closers:      closers,
	}), nil
}

// lateRepredictor forwards to an orchestrator assigned after construction.
type lateRepredictor struct{ o *orchestrator.Orchestrator }

func (r *lateRepredictor) RepredictMold(ctx context.Context, moldID, vid int64) error {
	if r.o == nil {
		return errors.New("services: orchestrator not ready")
	}
	return r.o.RepredictMold(ctx, moldID, vid)
}

func closeDB(db *gorm.DB) func() error {
	return func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
}

// newLocker uses Redis when an address is configured and an in-process
// locker otherwise, which only serializes a single instance.
func newLocker(cfg config.RedisConfig, logger *zap.Logger) (lock.Locker, func() error) {
	if cfg.Addr == "" {
		logger.Warn("redis not configured, using in-process locks")
		return lock.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password.Value(),
		DB:       cfg.DB,
	})
	return lock.NewRedis(client, logger.Named("lock")), client.Close
}

// newBlobs uses MinIO when an endpoint is configured and memory otherwise.
func newBlobs(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (blob.Store, error) {
	if cfg.Endpoint == "" {
		logger.Warn("object storage not configured, interdocs are kept in memory")
		return blob.NewMemStore(), nil
	}
	return blob.NewMinioStore(ctx, cfg, logger.Named("blob"))
}

// newElementIndex builds the element vector index. It needs both an
// embeddings provider and a vector store.
func newElementIndex(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*vectorindex.Index, func() error, error) {
	if !cfg.Embeddings.Enabled() || cfg.VectorIndex.Provider == "" {
		return nil, nil, nil
	}
	provider, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, nil, err
	}
	embedOpts := []embeddings.Option{
		embeddings.WithLogger(logger.Named("embeddings")),
		embeddings.WithMetrics(embeddings.NewMetrics(logger)),
	}
	if cfg.Embeddings.TokenizerEncoding != "" {
		embedOpts = append(embedOpts, embeddings.WithTokenizer(
			embeddings.NewTikToken(cfg.Embeddings.TokenizerEncoding, cfg.Embeddings.CacheDir)))
	}
	embed := embeddings.NewService(provider, cfg.Embeddings, embedOpts...)

	vs, err := vectorindex.NewStore(cfg.VectorIndex, logger.Named("vectorindex"))
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	closeAll := func() error {
		return errors.Join(vs.Close(), provider.Close())
	}
	indexOpts := []vectorindex.Option{vectorindex.WithLogger(logger.Named("vectorindex"))}
	if cfg.VectorIndex.Rerank {
		indexOpts = append(indexOpts, vectorindex.WithReranker(reranker.NewLexical()))
	}
	index := vectorindex.New(vs, embed, cfg.VectorIndex, indexOpts...)
	if err := index.Init(ctx); err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return index, closeAll, nil
}

// newPublisher connects the event bus. An empty URL disables events.
func newPublisher(cfg config.NATSConfig, logger *zap.Logger) (events.Publisher, func() error, error) {
	if cfg.URL == "" {
		return nil, nil, nil
	}
	nc, err := events.Connect(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return events.NewNATS(nc, cfg.SubjectPrefix, logger.Named("events")), func() error {
		return nc.Drain()
	}, nil
}
