package interdoc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/blob"
)

const defaultCacheSize = 32

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Loader reads interdocs from blob storage by file hash. Interdocs never
// change once written, so decoded readers are cached by hash.
type Loader struct {
	blobs  blob.Store
	cache  *lru.Cache[string, *Reader]
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *zap.Logger
}

// NewLoader creates a Loader keeping up to cacheSize decoded documents.
func NewLoader(blobs blob.Store, cacheSize int, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *Reader](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating interdoc cache: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Loader{blobs: blobs, cache: cache, enc: enc, dec: dec, logger: logger}, nil
}

// Load returns the reader for the file hash. It fails with
// ErrInterdocMissing when nothing was stored and ErrInvalidInterdoc when
// the payload does not decode.
func (l *Loader) Load(ctx context.Context, hash string) (*Reader, error) {
	if r, ok := l.cache.Get(hash); ok {
		return r, nil
	}
	raw, err := l.blobs.Get(ctx, blob.InterdocKey(hash))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInterdocMissing, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("reading interdoc %s: %w", hash, err)
	}
	r, err := l.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("interdoc %s: %w", hash, err)
	}
	l.cache.Add(hash, r)
	return r, nil
}

// Decode parses a plain, gzip or zstd encoded payload.
func (l *Loader) Decode(raw []byte) (*Reader, error) {
	body, err := l.inflate(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInterdoc, err)
	}
	var doc Interdoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInterdoc, err)
	}
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("%w: no pages", ErrInvalidInterdoc)
	}
	return NewReader(&doc)
}

func (l *Loader) inflate(raw []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		return l.dec.DecodeAll(raw, nil)
	case bytes.HasPrefix(raw, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		return raw, nil
	}
}

// Store validates payload and writes it zstd-compressed under the file
// hash. Payloads that do not decode are rejected before writing.
func (l *Loader) Store(ctx context.Context, hash string, payload []byte) (*Reader, error) {
	r, err := l.Decode(payload)
	if err != nil {
		return nil, err
	}
	body, err := l.inflate(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInterdoc, err)
	}
	if err := l.blobs.Put(ctx, blob.InterdocKey(hash), l.enc.EncodeAll(body, nil)); err != nil {
		return nil, fmt.Errorf("writing interdoc %s: %w", hash, err)
	}
	l.cache.Add(hash, r)
	l.logger.Debug("interdoc stored", zap.String("hash", hash), zap.Int("bytes", len(body)))
	return r, nil
}

// Check reports whether a usable interdoc exists for the hash. It returns
// ErrInterdocMissing or ErrInvalidInterdoc otherwise.
func (l *Loader) Check(ctx context.Context, hash string) error {
	if l.cache.Contains(hash) {
		return nil
	}
	_, err := l.Load(ctx, hash)
	return err
}
