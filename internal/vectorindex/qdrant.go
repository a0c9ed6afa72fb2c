package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pointIDKey holds the caller's point id; qdrant ids must be UUIDs.
const pointIDKey = "point_id"

// QdrantConfig addresses a qdrant server over gRPC.
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxMessageSize int
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Qdrant is a remote store.
type Qdrant struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger
}

// NewQdrant connects to the server. The connection is lazy; the first
// call reports an unreachable server.
func NewQdrant(cfg QdrantConfig, logger *zap.Logger) (*Qdrant, error) {
	cfg.ApplyDefaults()
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, cfg.Port)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC uses plaintext", zap.String("host", cfg.Host))
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	return &Qdrant{client: client, config: cfg, logger: logger}, nil
}

// IsTransientError reports whether a gRPC failure is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	}
	return false
}

func (q *Qdrant) retry(ctx context.Context, op string, fn func() error) error {
	backoff := q.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		if attempt == q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, q.config.MaxRetries, err)
		}
		q.logger.Debug("retrying qdrant call", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection creates a cosine collection of size dim if missing.
func (q *Qdrant) EnsureCollection(ctx context.Context, name string, dim int) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	var exists bool
	if err := q.retry(ctx, "collection_exists", func() (err error) {
		exists, err = q.client.CollectionExists(ctx, name)
		return err
	}); err != nil {
		return err
	}
	if exists {
		return nil
	}
	return q.retry(ctx, "create_collection", func() error {
		return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
}

// qdrantID derives a stable UUID from a point id.
func qdrantID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func toQdrantPoints(points []Point) []*qdrant.PointStruct {
	out := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[pointIDKey] = p.ID
		out[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(qdrantID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}
	return out
}

// toQdrantFilter turns exact matches into keyword conditions, sorted by key.
func toQdrantFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]*qdrant.Condition, len(keys))
	for i, k := range keys {
		must[i] = qdrant.NewMatch(k, f[k])
	}
	return &qdrant.Filter{Must: must}
}

func fromQdrantPoint(sp *qdrant.ScoredPoint) Hit {
	payload := make(map[string]string, len(sp.GetPayload()))
	for k, v := range sp.GetPayload() {
		payload[k] = v.GetStringValue()
	}
	id := payload[pointIDKey]
	delete(payload, pointIDKey)
	if id == "" {
		id = sp.GetId().GetUuid()
	}
	return Hit{ID: id, Score: sp.GetScore(), Payload: payload}
}

// Upsert stores points, replacing those with the same id.
func (q *Qdrant) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	return q.retry(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         toQdrantPoints(points),
		})
		return err
	})
}

// Search returns the k closest points.
func (q *Qdrant) Search(ctx context.Context, name string, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	var res []*qdrant.ScoredPoint
	err := q.retry(ctx, "query", func() (err error) {
		res, err = q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         toQdrantFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		return nil, err
	}
	hits := make([]Hit, len(res))
	for i, sp := range res {
		hits[i] = fromQdrantPoint(sp)
	}
	return hits, nil
}

// Delete removes the points matching filter. An empty filter is refused.
func (q *Qdrant) Delete(ctx context.Context, name string, filter Filter) error {
	f := toQdrantFilter(filter)
	if f == nil {
		return fmt.Errorf("vectorindex: delete needs a filter")
	}
	return q.retry(ctx, "delete", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(f),
		})
		return err
	})
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error { return q.client.Close() }
