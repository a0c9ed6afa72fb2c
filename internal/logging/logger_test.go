package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestContextFields_WorkItem(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithFileID(context.Background(), 12)
	ctx = WithQuestionID(ctx, 34)
	ctx = WithMoldID(ctx, 5)
	ctx = WithTaskID(ctx, "preset-12")
	ctx = WithRequestID(ctx, "req-1")

	tl.Info(ctx, "preset answer written", zap.Int("items", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "preset answer written")
	tl.AssertField(t, "preset answer written", "file.id", int64(12))
	tl.AssertField(t, "preset answer written", "question.id", int64(34))
	tl.AssertField(t, "preset answer written", "mold.id", int64(5))
	tl.AssertField(t, "preset answer written", "task.id", "preset-12")
	tl.AssertField(t, "preset answer written", "request.id", "req-1")
}

func TestContextFields_OmitsZero(t *testing.T) {
	fields := ContextFields(WithQuestionID(context.Background(), 7))
	require.Len(t, fields, 1)
	assert.Equal(t, "question.id", fields[0].Key)
}

func TestWorkItem_Accumulates(t *testing.T) {
	ctx := WithFileID(context.Background(), 1)
	child := WithQuestionID(ctx, 2)

	assert.Equal(t, WorkItem{FileID: 1}, WorkItemFromContext(ctx))
	assert.Equal(t, WorkItem{FileID: 1, QuestionID: 2}, WorkItemFromContext(child))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "lock contended")
	tl.AssertLogged(t, zapcore.WarnLevel, "lock contended")
}

func TestRedactingEncoder(t *testing.T) {
	cfg := NewDefaultConfig()
	enc, err := NewRedactingEncoder(newEncoder("json"), cfg.Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	logger := zap.New(core).With(zap.String("api_key", "abc"))

	logger.Info("signing callback",
		zap.String("secret_key", "plain"),
		zap.String("url", "https://cb.example.com?token=xyz"),
		zap.String("fid", "42"),
		Secret("app_secret", config.Secret("12345")),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "[REDACTED]", entry["api_key"])
	assert.Equal(t, "[REDACTED]", entry["secret_key"])
	assert.Equal(t, "[REDACTED:pattern]", entry["url"])
	assert.Equal(t, "42", entry["fid"])
	assert.Equal(t, "[REDACTED]", entry["app_secret"])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad format", mutate: func(c *Config) { c.Format = "xml" }, wantErr: true},
		{name: "no outputs", mutate: func(c *Config) { c.Output.Stdout = false }, wantErr: true},
		{name: "bad pattern", mutate: func(c *Config) { c.Redaction.Patterns = []string{"("} }, wantErr: true},
		{name: "zero tick", mutate: func(c *Config) { c.Sampling.Tick = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "trace", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestSampledCore_ErrorsNeverDropped(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.zap.Core(), SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(60e9),
		Initial:    1,
		Thereafter: 0,
	})
	z := zap.New(core)
	for i := 0; i < 5; i++ {
		z.Info("repeated")
		z.Error("failure")
	}

	var infos, errs int
	for _, e := range tl.All() {
		switch e.Level {
		case zapcore.InfoLevel:
			infos++
		case zapcore.ErrorLevel:
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}
