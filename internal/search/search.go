// Package search indexes answered questions in Elasticsearch so labeled
// values can be found across files.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/extractd/internal/answer"
	"github.com/fyrsmithlabs/extractd/internal/config"
)

const instrumentationName = "github.com/fyrsmithlabs/extractd/internal/search"

var (
	// ErrDisabled is returned when search is not configured.
	ErrDisabled = errors.New("search: disabled")
	// ErrResponse wraps error responses of the cluster.
	ErrResponse = errors.New("search: error response")
)

const mapping = `{
  "settings": {"number_of_shards": 1, "number_of_replicas": 0},
  "mappings": {
    "properties": {
      "qid":         {"type": "long"},
      "fid":         {"type": "long"},
      "mold_id":     {"type": "long"},
      "mold_name":   {"type": "keyword"},
      "file_name":   {"type": "keyword"},
      "content":     {"type": "text"},
      "items": {
        "type": "nested",
        "properties": {
          "path":  {"type": "keyword"},
          "text":  {"type": "text"},
          "value": {"type": "keyword"}
        }
      },
      "updated_utc": {"type": "long"}
    }
  }
}`

// Field is one indexed answer item.
type Field struct {
	Path  string   `json:"path"`
	Text  string   `json:"text"`
	Value []string `json:"value,omitempty"`
}

// Document is the indexed form of a question answer.
type Document struct {
	QID        int64   `json:"qid"`
	FileID     int64   `json:"fid"`
	MoldID     int64   `json:"mold_id"`
	MoldName   string  `json:"mold_name"`
	FileName   string  `json:"file_name"`
	Content    string  `json:"content"`
	Items      []Field `json:"items"`
	UpdatedUTC int64   `json:"updated_utc"`
}

// NewDocument flattens the items of a into a document. Items without
// text or value are left out.
func NewDocument(qid, fileID, moldID int64, moldName, fileName string, a *answer.Answer, updated int64) Document {
	doc := Document{
		QID:        qid,
		FileID:     fileID,
		MoldID:     moldID,
		MoldName:   moldName,
		FileName:   fileName,
		Items:      []Field{},
		UpdatedUTC: updated,
	}
	if a == nil {
		return doc
	}
	var texts []string
	for _, e := range answer.Flat(a) {
		if e.Text == "" && len(e.Value) == 0 {
			continue
		}
		doc.Items = append(doc.Items, Field{Path: e.Field, Text: e.Text, Value: e.Value})
		if e.Text != "" {
			texts = append(texts, e.Text)
		}
	}
	doc.Content = strings.Join(texts, "\n")
	return doc
}

// Hit is one search result.
type Hit struct {
	QID      int64   `json:"qid"`
	FileID   int64   `json:"fid"`
	MoldID   int64   `json:"mold_id"`
	FileName string  `json:"file_name"`
	Score    float64 `json:"score"`
}

// Query narrows a search. Zero ids match everything.
type Query struct {
	Text   string
	MoldID int64
	FileID int64
	Size   int
}

// Indexer writes and queries the answer index.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Indexer) { i.logger = l }
}

// New creates an indexer. transport may be nil.
func New(cfg config.SearchConfig, transport http.RoundTripper, opts ...Option) (*Indexer, error) {
	if !cfg.Enabled || len(cfg.Addresses) == 0 {
		return nil, ErrDisabled
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password.Value(),
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	i := &Indexer{
		client: client,
		index:  cfg.Index,
		logger: zap.NewNop(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	return i, nil
}

// EnsureIndex creates the index with its mapping when it is missing.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithBody(strings.NewReader(mapping)),
		i.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: create index: %s", ErrResponse, res.String())
	}
	i.logger.Info("search index created", zap.String("index", i.index))
	return nil
}

func docID(qid int64) string { return "q" + strconv.FormatInt(qid, 10) }

// IndexAnswer upserts the document of a question.
func (i *Indexer) IndexAnswer(ctx context.Context, doc Document) error {
	ctx, span := i.tracer.Start(ctx, "search.index_answer", trace.WithAttributes(
		attribute.Int64("question.id", doc.QID),
		attribute.Int("items", len(doc.Items)),
	))
	defer span.End()

	body, err := json.Marshal(doc)
	if err != nil {
		return fail(span, err)
	}
	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: docID(doc.QID),
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fail(span, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fail(span, fmt.Errorf("%w: index q%d: %s", ErrResponse, doc.QID, res.String()))
	}
	return nil
}

// DeleteFile removes every document of a file.
func (i *Indexer) DeleteFile(ctx context.Context, fileID int64) error {
	q, err := json.Marshal(map[string]any{"query": map[string]any{"term": map[string]any{"fid": fileID}}})
	if err != nil {
		return err
	}
	res, err := i.client.DeleteByQuery([]string{i.index}, bytes.NewReader(q),
		i.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("search: delete file %d: %w", fileID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: delete file %d: %s", ErrResponse, fileID, res.String())
	}
	return nil
}

func buildQuery(q Query) map[string]any {
	var must []any
	if q.Text != "" {
		must = append(must, map[string]any{"multi_match": map[string]any{
			"query":  q.Text,
			"fields": []string{"content", "file_name"},
		}})
	}
	var filter []any
	if q.MoldID != 0 {
		filter = append(filter, map[string]any{"term": map[string]any{"mold_id": q.MoldID}})
	}
	if q.FileID != 0 {
		filter = append(filter, map[string]any{"term": map[string]any{"fid": q.FileID}})
	}
	size := q.Size
	if size <= 0 {
		size = 20
	}
	boolQ := map[string]any{}
	if len(must) > 0 {
		boolQ["must"] = must
	}
	if len(filter) > 0 {
		boolQ["filter"] = filter
	}
	return map[string]any{
		"size":    size,
		"query":   map[string]any{"bool": boolQ},
		"_source": []string{"qid", "fid", "mold_id", "file_name"},
	}
}

// Search runs a query and returns the matching questions by score.
func (i *Indexer) Search(ctx context.Context, q Query) ([]Hit, error) {
	body, err := json.Marshal(buildQuery(q))
	if err != nil {
		return nil, err
	}
	req := esapi.SearchRequest{Index: []string{i.index}, Body: bytes.NewReader(body)}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: query: %s", ErrResponse, res.String())
	}
	var out struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source Hit     `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode: %w", err)
	}
	hits := make([]Hit, len(out.Hits.Hits))
	for n, h := range out.Hits.Hits {
		hits[n] = h.Source
		hits[n].Score = h.Score
	}
	return hits, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, ErrResponse) {
		return err
	}
	return fmt.Errorf("search: %w", err)
}
