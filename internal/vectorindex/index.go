package vectorindex

import (
	"cmp"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
	"github.com/fyrsmithlabs/extractd/internal/embeddings"
	"github.com/fyrsmithlabs/extractd/internal/interdoc"
	"github.com/fyrsmithlabs/extractd/internal/prompter"
	"github.com/fyrsmithlabs/extractd/internal/reranker"
	"github.com/fyrsmithlabs/extractd/internal/sanitize"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/vectorindex"

// DefaultCollection prefixes the collection names.
const DefaultCollection = "extractd"

// Embedder turns texts and documents into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedReader(ctx context.Context, r *interdoc.Reader) ([]embeddings.Embedding, error)
	Dimension() int
}

var _ prompter.Recaller = (*Index)(nil)

// Index keeps file elements and field exemplars searchable.
type Index struct {
	store      Store
	embed      Embedder
	elements   string
	exemplars  string
	vectorSize int
	minScore   float32
	rerank     reranker.Reranker
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// WithMinScore drops recalled candidates below the similarity s.
func WithMinScore(s float32) Option {
	return func(i *Index) { i.minScore = s }
}

// WithReranker reorders the recalled candidates of each path by r, with
// the path itself as the query.
func WithReranker(r reranker.Reranker) Option {
	return func(i *Index) { i.rerank = r }
}

// New creates an index over store.
func New(store Store, embed Embedder, cfg config.VectorIndexConfig, opts ...Option) *Index {
	prefix := cfg.Collection
	if prefix == "" {
		prefix = DefaultCollection
	}
	i := &Index{
		store:      store,
		embed:      embed,
		elements:   sanitize.CollectionName(prefix, "elements"),
		exemplars:  sanitize.CollectionName(prefix, "exemplars"),
		vectorSize: cfg.VectorSize,
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	return i
}

// Init creates both collections.
func (i *Index) Init(ctx context.Context) error {
	dim := i.vectorSize
	if dim <= 0 {
		dim = i.embed.Dimension()
	}
	for _, name := range []string{i.elements, i.exemplars} {
		if err := i.store.EnsureCollection(ctx, name, dim); err != nil {
			return err
		}
	}
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return fmt.Errorf("vectorindex: %w", err)
}

func fileFilter(fileID int64) Filter { return Filter{"file_id": strconv.FormatInt(fileID, 10)} }

func moldFilter(moldID int64) Filter { return Filter{"mold_id": strconv.FormatInt(moldID, 10)} }

// IndexFile replaces the element vectors of a file and returns how many
// elements were stored.
func (i *Index) IndexFile(ctx context.Context, fileID int64, r *interdoc.Reader) (int, error) {
	ctx, span := i.tracer.Start(ctx, "vectorindex.index_file", trace.WithAttributes(attribute.Int64("file.id", fileID)))
	defer span.End()

	embedded, err := i.embed.EmbedReader(ctx, r)
	if err != nil {
		return 0, fail(span, err)
	}
	if err := i.store.Delete(ctx, i.elements, fileFilter(fileID)); err != nil {
		return 0, fail(span, err)
	}
	points := make([]Point, len(embedded))
	for n, e := range embedded {
		points[n] = Point{
			ID:     fmt.Sprintf("f%d:%d", fileID, e.Index),
			Vector: e.Vector,
			Payload: map[string]string{
				"file_id": strconv.FormatInt(fileID, 10),
				"index":   strconv.Itoa(e.Index),
				"page":    strconv.Itoa(e.Page),
				"class":   string(e.Class),
			},
		}
	}
	if err := i.store.Upsert(ctx, i.elements, points); err != nil {
		return 0, fail(span, err)
	}
	span.SetAttributes(attribute.Int("elements", len(points)))
	i.logger.Info("file elements indexed", zap.Int64("file_id", fileID), zap.Int("elements", len(points)))
	return len(points), nil
}

// RemoveFile drops the element vectors of a file.
func (i *Index) RemoveFile(ctx context.Context, fileID int64) error {
	return i.store.Delete(ctx, i.elements, fileFilter(fileID))
}

// exemplar is one labeled text of a field path.
type exemplar struct {
	path string
	text string
}

func exemplarsOf(answers []*answer.Answer) []exemplar {
	seen := map[exemplar]bool{}
	var out []exemplar
	for _, a := range answers {
		if a == nil {
			continue
		}
		for _, it := range a.UserAnswer.Items {
			p, err := it.Path()
			if err != nil || len(p) < 2 {
				continue
			}
			text := strings.TrimSpace(it.PlainText())
			if text == "" {
				continue
			}
			e := exemplar{path: strings.Join(p.Names()[1:], "/"), text: text}
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	return out
}

// IndexExemplars replaces the exemplars of a mold with the labeled texts
// of answers.
func (i *Index) IndexExemplars(ctx context.Context, moldID, vid int64, answers []*answer.Answer) error {
	ctx, span := i.tracer.Start(ctx, "vectorindex.index_exemplars", trace.WithAttributes(
		attribute.Int64("mold.id", moldID),
		attribute.Int64("model_version.id", vid),
	))
	defer span.End()

	ex := exemplarsOf(answers)
	if err := i.store.Delete(ctx, i.exemplars, moldFilter(moldID)); err != nil {
		return fail(span, err)
	}
	if len(ex) == 0 {
		return nil
	}
	texts := make([]string, len(ex))
	for n, e := range ex {
		texts[n] = e.text
	}
	vectors, err := i.embed.Embed(ctx, texts)
	if err != nil {
		return fail(span, err)
	}
	points := make([]Point, len(ex))
	for n, e := range ex {
		sum := md5.Sum([]byte(e.path + "\x00" + e.text))
		points[n] = Point{
			ID:     fmt.Sprintf("m%d:%s", moldID, hex.EncodeToString(sum[:])),
			Vector: vectors[n],
			Payload: map[string]string{
				"mold_id": strconv.FormatInt(moldID, 10),
				"vid":     strconv.FormatInt(vid, 10),
				"path":    e.path,
			},
		}
	}
	if err := i.store.Upsert(ctx, i.exemplars, points); err != nil {
		return fail(span, err)
	}
	i.logger.Info("exemplars indexed", zap.Int64("mold_id", moldID), zap.Int64("vid", vid), zap.Int("exemplars", len(points)))
	return nil
}

// covers reports whether an exemplar of path hit counts for the wanted
// path; a group collects the hits of its members.
func covers(want, hit string) bool {
	return hit == want || strings.HasPrefix(hit, want+"/")
}

// Recall scores every element of r by its best similarity to the
// exemplars of each wanted path and keeps the top limit per path.
func (i *Index) Recall(ctx context.Context, moldID int64, paths []string, r *interdoc.Reader, limit int) (prompter.CrudeAnswer, error) {
	ctx, span := i.tracer.Start(ctx, "vectorindex.recall", trace.WithAttributes(attribute.Int64("mold.id", moldID)))
	defer span.End()

	out := prompter.CrudeAnswer{}
	if r == nil || len(paths) == 0 {
		return out, nil
	}
	embedded, err := i.embed.EmbedReader(ctx, r)
	if err != nil {
		return nil, fail(span, err)
	}
	k := max(limit, len(paths))
	best := map[string]map[int]float32{}
	for _, e := range embedded {
		hits, err := i.store.Search(ctx, i.exemplars, e.Vector, k, moldFilter(moldID))
		if err != nil {
			return nil, fail(span, err)
		}
		for _, h := range hits {
			if h.Score < i.minScore {
				continue
			}
			for _, want := range paths {
				if !covers(want, h.Payload["path"]) {
					continue
				}
				if best[want] == nil {
					best[want] = map[int]float32{}
				}
				if s, ok := best[want][e.Index]; !ok || h.Score > s {
					best[want][e.Index] = h.Score
				}
			}
		}
	}
	for path, scores := range best {
		cands := make([]prompter.Candidate, 0, len(scores))
		for idx, score := range scores {
			el, ok := r.Element(idx)
			if !ok {
				continue
			}
			cands = append(cands, prompter.Candidate{
				Index:   el.Index,
				Page:    el.Page,
				Class:   el.Class,
				Outline: el.Outline,
				Text:    truncate(el.PlainText(), 200),
				Score:   float64(score),
			})
		}
		slices.SortFunc(cands, func(a, b prompter.Candidate) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.Index, b.Index)
		})
		if i.rerank != nil {
			if cands, err = i.reorder(ctx, path, cands); err != nil {
				return nil, fail(span, err)
			}
		}
		if limit > 0 && len(cands) > limit {
			cands = cands[:limit]
		}
		out[path] = cands
	}
	span.SetAttributes(attribute.Int("paths", len(out)))
	return out, nil
}

// reorder reranks cands against path and replaces their scores with the
// blended ones.
func (i *Index) reorder(ctx context.Context, path string, cands []prompter.Candidate) ([]prompter.Candidate, error) {
	docs := make([]reranker.Document, len(cands))
	for n, c := range cands {
		docs[n] = reranker.Document{Index: n, Text: c.Text, Score: float32(c.Score)}
	}
	ranked, err := i.rerank.Rerank(ctx, path, docs, 0)
	if err != nil {
		return nil, err
	}
	out := make([]prompter.Candidate, len(ranked))
	for n, r := range ranked {
		c := cands[r.Index]
		c.Score = float64(r.Combined)
		out[n] = c
	}
	return out, nil
}

func truncate(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
