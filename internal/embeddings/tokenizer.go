package embeddings

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxBatchTokens caps the tokens sent in one embeddings request.
const DefaultMaxBatchTokens = 5000

// DefaultEncoding is the BPE encoding used to count tokens.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts the BPE tokens of a text.
type Tokenizer interface {
	Count(text string) int
}

// TikToken counts tokens with a tiktoken encoding. The encoding is loaded
// lazily; its rank file is cached under the directory given to NewTikToken.
type TikToken struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	err      error
}

var cacheDirOnce sync.Once

// NewTikToken creates a tokenizer for encoding. A non-empty cacheDir is
// exported as TIKTOKEN_CACHE_DIR, once per process.
func NewTikToken(encoding, cacheDir string) *TikToken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if cacheDir != "" {
		cacheDirOnce.Do(func() {
			if os.Getenv("TIKTOKEN_CACHE_DIR") == "" {
				_ = os.Setenv("TIKTOKEN_CACHE_DIR", cacheDir)
			}
		})
	}
	return &TikToken{encoding: encoding}
}

// Load fetches the encoding, returning the error it failed with.
func (t *TikToken) Load() error {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding(t.encoding)
		if t.err != nil {
			t.err = fmt.Errorf("loading %s encoding: %w", t.encoding, t.err)
		}
	})
	return t.err
}

// Count returns the token length of text. Without a loaded encoding it
// falls back to one token per rune, which over-counts for latin text.
func (t *TikToken) Count(text string) int {
	if t.Load() != nil {
		return len([]rune(text))
	}
	return len(t.enc.Encode(text, nil, nil))
}

// SplitByTokens groups texts in order so that each group stays under
// maxTokens. A single text longer than the budget forms its own group.
func SplitByTokens(tok Tokenizer, texts []string, maxTokens int) [][]string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxBatchTokens
	}
	var (
		groups [][]string
		start  int
		sum    int
	)
	for i, text := range texts {
		n := tok.Count(text)
		if i > start && sum+n >= maxTokens {
			groups = append(groups, texts[start:i])
			start, sum = i, 0
		}
		sum += n
	}
	if start < len(texts) {
		groups = append(groups, texts[start:])
	}
	return groups
}
