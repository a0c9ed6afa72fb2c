package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config holds the extractd configuration. It is built once at startup and
// passed down by value or pointer; components never reload it.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Database      DatabaseConfig      `koanf:"database"`
	Redis         RedisConfig         `koanf:"redis"`
	Storage       StorageConfig       `koanf:"storage"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	NATS          NATSConfig          `koanf:"nats"`
	VectorIndex   VectorIndexConfig   `koanf:"vectorindex"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Studio        StudioConfig        `koanf:"studio"`
	Parser        ParserConfig        `koanf:"parser"`
	Audit         AuditConfig         `koanf:"audit"`
	Search        SearchConfig        `koanf:"search"`
	Web           WebConfig           `koanf:"web"`
	Feature       FeatureConfig       `koanf:"feature"`
	DataFlow      DataFlowConfig      `koanf:"dataflow"`
	App           AppConfig           `koanf:"app"`
	Training      TrainingConfig      `koanf:"training"`
	Prophet       ProphetConfig       `koanf:"prophet"`
	Scheduler     SchedulerConfig     `koanf:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	Insecure        bool   `koanf:"insecure"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN          Secret `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RedisConfig holds the advisory lock backend settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey Secret `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	UseSSL    bool   `koanf:"use_ssl"`
	// EncryptKey enables at-rest encryption when set. The AES key is
	// derived from it.
	EncryptKey Secret `koanf:"encrypt_key"`
}

// TemporalConfig holds task orchestration settings.
type TemporalConfig struct {
	HostPort          string `koanf:"host_port"`
	Namespace         string `koanf:"namespace"`
	TaskQueue         string `koanf:"task_queue"`
	TrainingTaskQueue string `koanf:"training_task_queue"`
	DefaultPriority   int    `koanf:"default_priority"`
}

// NATSConfig holds event bus settings. Empty URL disables events.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// VectorIndexConfig selects the element vector index used to widen
// coarse locator recall. Provider is "qdrant", "chromem" or empty.
type VectorIndexConfig struct {
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`

	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantTLS    bool   `koanf:"qdrant_tls"`

	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`

	// Rerank reorders recalled elements by term overlap with the field path.
	Rerank bool `koanf:"rerank"`
}

// EmbeddingsConfig configures the embedding service client.
type EmbeddingsConfig struct {
	Provider          string `koanf:"provider"`
	BaseURL           string `koanf:"base_url"`
	Model             string `koanf:"model"`
	APIKey            Secret `koanf:"api_key"`
	CacheDir          string `koanf:"cache_dir"`
	MaxBatchTokens    int    `koanf:"max_batch_tokens"`
	TokenizerEncoding string `koanf:"tokenizer_encoding"`
}

// Enabled reports whether file embedding is configured.
func (c EmbeddingsConfig) Enabled() bool {
	return c.Provider != ""
}

// StudioConfig configures the LLM extraction service.
type StudioConfig struct {
	URL       string   `koanf:"url"`
	APIKey    Secret   `koanf:"api_key"`
	RateLimit float64  `koanf:"rate_limit"`
	Burst     int      `koanf:"burst"`
	Timeout   Duration `koanf:"timeout"`
	// HookKey is handed to the service when registering the completion
	// hook and must accompany every extract-complete callback.
	HookKey   Secret   `koanf:"hook_key"`
	Models    []string `koanf:"models"`
}

// Enabled reports whether the LLM extraction service is configured.
func (c StudioConfig) Enabled() bool {
	return c.URL != ""
}

// ParserConfig configures the interdoc producer.
type ParserConfig struct {
	URL     string       `koanf:"url"`
	AppID   string       `koanf:"app_id"`
	Secret  Secret       `koanf:"secret"`
	Timeout Duration     `koanf:"timeout"`
	Options ParseOptions `koanf:"options"`
}

// ParseOptions are forwarded to the parser on every upload.
type ParseOptions struct {
	ForceOCR          bool   `koanf:"force_ocr" json:"force_ocr"`
	Column            int    `koanf:"column" json:"column,omitempty"`
	NewlineMode       string `koanf:"newline_mode" json:"newline_mode,omitempty"`
	MaxPages          int    `koanf:"max_pages" json:"max_pages,omitempty"`
	TitleAI           bool   `koanf:"title_ai" json:"title_ai"`
	FakePrediction    bool   `koanf:"fake_prediction" json:"fake_prediction"`
	GarbledFileHandle bool   `koanf:"garbled_file_handle" json:"garbled_file_handle"`
	AsPDF             bool   `koanf:"as_pdf" json:"as_pdf"`
	KeepComment       bool   `koanf:"keep_comment" json:"keep_comment"`
}

// AuditConfig configures the rule engine.
type AuditConfig struct {
	Enabled bool     `koanf:"enabled"`
	URL     string   `koanf:"url"`
	Timeout Duration `koanf:"timeout"`
}

// SearchConfig configures answer indexing in Elasticsearch.
type SearchConfig struct {
	Enabled   bool     `koanf:"enabled"`
	Addresses []string `koanf:"addresses"`
	Username  string   `koanf:"username"`
	Password  Secret   `koanf:"password"`
	Index     string   `koanf:"index"`
}

// WebConfig holds the product switches consumed by the question state
// machine and the post-pipeline.
type WebConfig struct {
	Scheme                string                       `koanf:"scheme"`
	Domain                string                       `koanf:"domain"`
	DefaultQuestionHealth int                          `koanf:"default_question_health"`
	PresetAnswer          bool                         `koanf:"preset_answer"`
	ModeUnlimitedAnswers  bool                         `koanf:"mode_unlimited_answers"`
	ModeConflictTreatment string                       `koanf:"mode_conflict_treatment"`
	MergeEmptyItem        bool                         `koanf:"merge_empty_item"`
	PushPresetAnswer      PushConfig                   `koanf:"push_preset_answer"`
	CustomerAnswer        bool                         `koanf:"customer_answer"`
	GenDiffCache          bool                         `koanf:"gen_diff_cache"`
	DefaultMoldPublic     bool                         `koanf:"default_mold_public"`
	AnswerConvert         map[string]AnswerConvertRule `koanf:"answer_convert"`
}

// PushConfig configures the remote push of predicted answers.
type PushConfig struct {
	Enabled bool     `koanf:"enabled"`
	URL     string   `koanf:"url"`
	Timeout Duration `koanf:"timeout"`
}

// AnswerConvertRule maps the answer of one mold onto another. Fields maps
// source field paths (slash separated, root excluded) to target paths;
// fields absent from the map are not carried over.
type AnswerConvertRule struct {
	Target string            `koanf:"target"`
	Fields map[string]string `koanf:"fields"`
}

// FeatureConfig holds feature flags.
type FeatureConfig struct {
	AllowDifferentModels bool `koanf:"allow_different_models"`
}

// DataFlowConfig controls follow-up work after prediction.
type DataFlowConfig struct {
	PostPipeAfterPreset bool `koanf:"post_pipe_after_preset"`
}

// AppConfig holds credentials of external callers and callback targets.
type AppConfig struct {
	Auth map[string]AppAuth `koanf:"auth"`
}

// AppAuth is one app_id/secret_key pair.
type AppAuth struct {
	AppID     string `koanf:"app_id"`
	SecretKey Secret `koanf:"secret_key"`
}

// TrainingConfig configures model training and the coarse locator.
type TrainingConfig struct {
	CacheDir             string  `koanf:"cache_dir"`
	CrudeAnswerThreshold float64 `koanf:"crude_answer_threshold"`
	TopN                 int     `koanf:"top_n"`
	MinSampleFiles       int     `koanf:"min_sample_files"`
}

// ProphetConfig holds the per-deployment predictor registry.
type ProphetConfig struct {
	// ConfigInCode maps a mold name to a predictor config file used by the
	// config_in_code model kind.
	ConfigInCode map[string]string `koanf:"config_in_code"`
	// Workshops maps a mold name to a registered answer workshop.
	Workshops map[string]string `koanf:"workshops"`
}

// SchedulerConfig configures periodic reconcile jobs.
type SchedulerConfig struct {
	Enabled    bool     `koanf:"enabled"`
	ResetSpec  string   `koanf:"reset_spec"`
	StuckAfter Duration `koanf:"stuck_after"`
}

var (
	// ErrInvalidConfig is returned when validation fails.
	ErrInvalidConfig = errors.New("invalid config")
)

var conflictTreatments = map[string]bool{"merged": true, "manual": true, "latest": true}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Web.DefaultQuestionHealth < 0 {
		errs = append(errs, fmt.Errorf("web.default_question_health must not be negative, got %d", c.Web.DefaultQuestionHealth))
	}
	if !conflictTreatments[strings.ToLower(c.Web.ModeConflictTreatment)] {
		errs = append(errs, fmt.Errorf("web.mode_conflict_treatment must be merged, manual or latest, got %q", c.Web.ModeConflictTreatment))
	}
	if c.Web.PushPresetAnswer.Enabled && c.Web.PushPresetAnswer.URL == "" {
		errs = append(errs, errors.New("web.push_preset_answer.url is required when push is enabled"))
	}
	for name, rule := range c.Web.AnswerConvert {
		if rule.Target == "" || len(rule.Fields) == 0 {
			errs = append(errs, fmt.Errorf("web.answer_convert.%s needs a target and an explicit field mapping", name))
		}
	}
	if c.Parser.URL != "" {
		if _, err := url.ParseRequestURI(c.Parser.URL); err != nil {
			errs = append(errs, fmt.Errorf("parser.url: %w", err))
		}
	}
	if c.Training.CrudeAnswerThreshold < 0 || c.Training.CrudeAnswerThreshold >= 1 {
		errs = append(errs, fmt.Errorf("training.crude_answer_threshold must be in [0,1), got %v", c.Training.CrudeAnswerThreshold))
	}
	if c.Training.TopN <= 0 {
		errs = append(errs, errors.New("training.top_n must be positive"))
	}
	switch c.VectorIndex.Provider {
	case "", "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("vectorindex.provider must be qdrant, chromem or empty, got %q", c.VectorIndex.Provider))
	}
	switch c.Embeddings.Provider {
	case "", "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider must be openai, fastembed or empty, got %q", c.Embeddings.Provider))
	}
	if c.Search.Enabled && len(c.Search.Addresses) == 0 {
		errs = append(errs, errors.New("search.addresses is required when search is enabled"))
	}
	if c.Temporal.DefaultPriority < 1 || c.Temporal.DefaultPriority > 9 {
		errs = append(errs, fmt.Errorf("temporal.default_priority must be between 1 and 9, got %d", c.Temporal.DefaultPriority))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// QuestionHealth returns the initial label quota for new questions.
func (w WebConfig) QuestionHealth() int {
	if w.DefaultQuestionHealth == 0 {
		return 1
	}
	return w.DefaultQuestionHealth
}

// CallbackBase returns "{scheme}://{domain}" for outbound callback URLs.
func (w WebConfig) CallbackBase() string {
	scheme := w.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + w.Domain
}
