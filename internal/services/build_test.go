package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/extractd/internal/blob"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/lock"
)

func TestBuild_RequiresConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestNewLocker(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("memory without redis", func(t *testing.T) {
		l, closeFn := newLocker(config.RedisConfig{}, logger)
		assert.IsType(t, &lock.Memory{}, l)
		assert.Nil(t, closeFn)
	})

	t.Run("redis when addressed", func(t *testing.T) {
		l, closeFn := newLocker(config.RedisConfig{Addr: "127.0.0.1:6379", DB: 2}, logger)
		assert.IsType(t, &lock.Redis{}, l)
		require.NotNil(t, closeFn)
		assert.NoError(t, closeFn())
	})
}

func TestNewBlobs_MemoryWithoutEndpoint(t *testing.T) {
	s, err := newBlobs(context.Background(), config.StorageConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &blob.MemStore{}, s)
}

func TestOptionalBackendsDisabled(t *testing.T) {
	logger := zaptest.NewLogger(t)

	pub, closeBus, err := newPublisher(config.NATSConfig{}, logger)
	require.NoError(t, err)
	assert.Nil(t, pub)
	assert.Nil(t, closeBus)

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "nothing configured"},
		{name: "no embeddings", cfg: config.Config{VectorIndex: config.VectorIndexConfig{Provider: "chromem"}}},
		{name: "no vector store", cfg: config.Config{Embeddings: config.EmbeddingsConfig{Provider: "openai"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, closeIndex, err := newElementIndex(context.Background(), &tt.cfg, logger)
			require.NoError(t, err)
			assert.Nil(t, index)
			assert.Nil(t, closeIndex)
		})
	}
}

func TestLateRepredictor_NotReady(t *testing.T) {
	r := &lateRepredictor{}
	assert.Error(t, r.RepredictMold(context.Background(), 1, 2))
}
