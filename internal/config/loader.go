// Package config provides configuration loading for extractd.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment overrides.
	EnvPrefix = "EXTRACTD_"
)

// defaults is loaded before the config file so unset keys keep sensible
// values and booleans that default to true stay true.
const defaults = `
server:
  http_host: localhost
  http_port: 9090
  shutdown_timeout: 10s
observability:
  enable_telemetry: false
  service_name: extractd
  endpoint: localhost:4317
  insecure: true
logging:
  level: info
  format: json
database:
  max_open_conns: 20
  max_idle_conns: 5
redis:
  addr: localhost:6379
storage:
  bucket: extractd
temporal:
  host_port: localhost:7233
  namespace: default
  task_queue: extractd
  training_task_queue: extractd-training
  default_priority: 5
nats:
  subject_prefix: extractd
vectorindex:
  collection: extractd
  vector_size: 384
  qdrant_host: localhost
  qdrant_port: 6334
embeddings:
  max_batch_tokens: 5000
  tokenizer_encoding: cl100k_base
studio:
  rate_limit: 2
  burst: 4
  timeout: 60s
parser:
  timeout: 10s
audit:
  timeout: 60s
search:
  index: extractd-answers
web:
  scheme: http
  default_question_health: 1
  preset_answer: true
  mode_conflict_treatment: merged
  push_preset_answer:
    timeout: 30s
dataflow:
  post_pipe_after_preset: true
training:
  cache_dir: /var/lib/extractd/training_cache
  crude_answer_threshold: 0
  top_n: 10
  min_sample_files: 3
scheduler:
  enabled: true
  reset_spec: "*/10 * * * *"
  stuck_after: 2h
`

// Load builds a Config from defaults and environment variables only.
func Load() (*Config, error) {
	return load(nil)
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (EXTRACTD_SERVER_HTTP_PORT, EXTRACTD_WEB_PRESET_ANSWER, ...)
//  2. YAML config file (~/.config/extractd/config.yaml)
//  3. Built-in defaults
//
// # Security Considerations
//
// The file must have 0600 or 0400 permissions, live under
// ~/.config/extractd/ or /etc/extractd/, and be at most 1MB.
//
// # Environment Variable Mapping
//
// The EXTRACTD_ prefix is stripped and the rest splits on the first
// underscore into section and field:
//
//	EXTRACTD_SERVER_HTTP_PORT -> server.http_port
//	EXTRACTD_WEB_DEFAULT_QUESTION_HEALTH -> web.default_question_health
func LoadWithFile(configPath string) (*Config, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "extractd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	var content []byte
	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid TOCTOU.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return load(content)
}

func load(fileContent []byte) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if len(fileContent) > 0 {
		if err := k.Load(rawbytes.Provider(fileContent), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps EXTRACTD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Follow symlinks so they cannot escape the allowed directories.
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "extractd") + string(filepath.Separator),
		"/etc/extractd/",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/extractd/ or /etc/extractd/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("config file is not a regular file")
	}

	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults fills values that depend on other fields.
func applyDefaults(cfg *Config) {
	cfg.Web.ModeConflictTreatment = strings.ToLower(strings.TrimSpace(cfg.Web.ModeConflictTreatment))
	if cfg.Web.Domain == "" {
		cfg.Web.Domain = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.VectorIndex.ChromemPath == "" && cfg.VectorIndex.Provider == "chromem" {
		cfg.VectorIndex.ChromemPath = filepath.Join(cfg.Training.CacheDir, "vectors")
	}
	if cfg.Embeddings.CacheDir == "" {
		cfg.Embeddings.CacheDir = filepath.Join(cfg.Training.CacheDir, "tokenizer")
	}
}
