package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/interdoc/interdoctest"
)

// runeTokenizer counts one token per rune.
type runeTokenizer struct{}

func (runeTokenizer) Count(text string) int { return len([]rune(text)) }

type fakeProvider struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	short   bool
}

func (p *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.batches = append(p.batches, texts)
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, []float32{float32(len([]rune(t)))})
	}
	if p.short {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, p.err
}

func (p *fakeProvider) Dimension() int { return 1 }
func (p *fakeProvider) Close() error   { return nil }

func TestSplitByTokens(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		max   int
		want  [][]string
	}{
		{"empty", nil, 10, nil},
		{"one group", []string{"ab", "cd"}, 10, [][]string{{"ab", "cd"}}},
		{"budget is exclusive", []string{"abcde", "fghij", "k"}, 10, [][]string{{"abcde"}, {"fghij", "k"}}},
		{"oversized text alone", []string{"a", "bbbbbbbbbbbb", "c"}, 10, [][]string{{"a"}, {"bbbbbbbbbbbb"}, {"c"}}},
		{"default budget", []string{"a", "b"}, 0, [][]string{{"a", "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitByTokens(runeTokenizer{}, tt.texts, tt.max))
		})
	}
}

func TestService_Embed(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	svc := NewService(p, config.EmbeddingsConfig{Provider: "fake", MaxBatchTokens: 6}, WithTokenizer(runeTokenizer{}))

	vectors, err := svc.Embed(ctx, []string{"abc", "de", "fghi", "j"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}, {2}, {4}, {1}}, vectors)
	assert.Equal(t, [][]string{{"abc", "de"}, {"fghi", "j"}}, p.batches)

	_, err = svc.Embed(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	p.short = true
	_, err = svc.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	p.short, p.err = false, errors.New("down")
	_, err = svc.Embed(ctx, []string{"x"})
	assert.EqualError(t, err, "down")
}

func TestService_EmbedReader(t *testing.T) {
	b := interdoctest.New()
	b.Para(1, "第一条")
	b.Para(1, "   ")
	tbl := b.Table(2, [][]string{{"项目", "金额"}, {"合计", "100"}})
	r := b.Reader()

	contents := Contents(r)
	require.Len(t, contents, 2)
	assert.Equal(t, "第一条", contents[0].Text)
	assert.Equal(t, tbl, contents[1].Index)
	assert.Equal(t, interdoc.ClassTable, contents[1].Class)
	assert.Equal(t, "项目\t金额\n合计\t100", contents[1].Text)
	assert.Nil(t, Contents(nil))

	svc := NewService(&fakeProvider{}, config.EmbeddingsConfig{Provider: "fake"}, WithTokenizer(runeTokenizer{}))
	got, err := svc.EmbedReader(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{3}, got[0].Vector)
	assert.Equal(t, 2, got[1].Page)

	got, err = svc.EmbedReader(context.Background(), interdoctest.New().Reader())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenAIProvider(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = req.Model
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			data[i] = item{Object: "embedding", Embedding: []float32{float32(i), 0.5, 1}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.EmbeddingsConfig{BaseURL: srv.URL, Model: "text-embedding-3-small"})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Dimension())

	vectors, err := p.EmbedDocuments(context.Background(), []string{"甲方", "乙方"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, "text-embedding-3-small", gotModel)
	assert.Equal(t, 3, p.Dimension())

	_, err = p.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmbeddingsConfig
	}{
		{"unknown provider", config.EmbeddingsConfig{Provider: "tei"}},
		{"openai without base url", config.EmbeddingsConfig{Provider: "openai", Model: "m"}},
		{"openai without model", config.EmbeddingsConfig{Provider: "openai", BaseURL: "http://x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
