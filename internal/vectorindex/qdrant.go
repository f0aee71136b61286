package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	// vectorName is the named vector holding chunk embeddings.
	vectorName = "content"

	// upsertBatchSize bounds points per upsert request.
	upsertBatchSize = 100

	// tieSlack is how many extra candidates each search page fetches beyond
	// top-K. Further pages are read while the K-th score is still tied.
	tieSlack = 16
)

// pointsAPI is the subset of the Qdrant client used for point operations.
type pointsAPI interface {
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
}

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimensions int
	Metric     Metric
}

// Qdrant is an Index backed by a Qdrant collection. Each point carries the
// caller's identifier and an insertion sequence in its payload so results can
// be ordered with the same tie-break rule as Flat.
type Qdrant struct {
	client     *qdrant.Client
	points     pointsAPI
	retry      func() backoff.BackOff
	collection string
	dims       int
	metric     Metric

	seqMu   sync.Mutex
	lastSeq uint64
}

// NewQdrant connects to Qdrant, waits for it to become healthy, and ensures the
// collection exists with matching vector parameters. It fails fast with
// ErrUnreachable if Qdrant does not answer within the retry window.
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*Qdrant, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("index dimensions must be positive, got %d", cfg.Dimensions)
	}
	metric, err := ParseMetric(string(cfg.Metric))
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	q := &Qdrant{
		client:     client,
		points:     client,
		retry:      func() backoff.BackOff { return newBackoff() },
		collection: cfg.Collection,
		dims:       cfg.Dimensions,
		metric:     metric,
	}
	if q.collection == "" {
		q.collection = "chunks"
	}

	if err := q.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return q, nil
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (q *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return q.Health(ctx) }, backoff.WithContext(newBackoff(), ctx))
}

// Health performs a single health check against Qdrant.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

func (q *Qdrant) distance() qdrant.Distance {
	if q.metric == Dot {
		return qdrant.Distance_Dot
	}
	return qdrant.Distance_Cosine
}

// ensureCollection creates the collection, or verifies an existing one was
// created for the same dimensions and distance.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if exists {
		info, err := q.client.GetCollectionInfo(ctx, q.collection)
		if err != nil {
			return fmt.Errorf("failed to get collection: %w", err)
		}
		params := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[vectorName]
		if params == nil {
			return fmt.Errorf("%w: collection %q has no %q vector", ErrIncompatible, q.collection, vectorName)
		}
		if int(params.GetSize()) != q.dims || params.GetDistance() != q.distance() {
			return fmt.Errorf("%w: collection %q stores %d-dim %s vectors, expected %d-dim %s",
				ErrIncompatible, q.collection, params.GetSize(), params.GetDistance(), q.dims, q.distance())
		}
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(q.dims),
				Distance: q.distance(),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "ref",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field ref: %w", err)
	}
	return nil
}

func (q *Qdrant) Dimensions() int { return q.dims }

func (q *Qdrant) Metric() Metric { return q.metric }

// pointID maps an identifier to a Qdrant point ID. UUIDs are used as-is;
// anything else gets a stable name-based UUID.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (q *Qdrant) nextSeq() uint64 {
	q.seqMu.Lock()
	defer q.seqMu.Unlock()
	q.lastSeq = max(q.lastSeq+1, uint64(time.Now().UnixNano()))
	return q.lastSeq
}

// Insert upserts entries in batches of 100. Identifiers must be new: a
// repeated or already stored ID fails with ErrDuplicateID before anything is
// written, and every point of the call is deleted again if a batch fails.
func (q *Qdrant) Insert(ctx context.Context, entries ...Entry) error {
	seen := make(map[string]struct{}, len(entries))
	pids := make([]*qdrant.PointId, len(entries))
	for i, e := range entries {
		if err := checkDims(q.dims, e.Vector, fmt.Sprintf("vector %q", e.ID)); err != nil {
			return err
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = struct{}{}
		pids[i] = pointID(e.ID)
	}
	if len(entries) == 0 {
		return nil
	}

	existing, err := q.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayloadInclude("ref"),
	})
	if err != nil {
		return fmt.Errorf("failed to look up points: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateID, existing[0].GetPayload()["ref"].GetStringValue())
	}

	for i := 0; i < len(entries); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(entries))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for j, e := range entries[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id: pids[i+j],
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(e.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"ref": e.ID,
					"seq": int64(q.nextSeq()),
				}),
			})
		}

		if err := q.upsertWithRetry(ctx, points); err != nil {
			q.deletePoints(context.WithoutCancel(ctx), pids[:end])
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// deletePoints removes points written by a failed Insert.
func (q *Qdrant) deletePoints(ctx context.Context, pids []*qdrant.PointId) {
	operation := func() error {
		_, err := q.points.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(pids...),
		})
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(q.retry(), ctx)); err != nil {
		slog.Error("Failed to delete points of a failed insert",
			"collection", q.collection, "points", len(pids), "error", err)
	}
}

func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(q.retry(), ctx))
}

// Search pages through Qdrant's score-ordered results until the score after
// the K-th candidate drops, so every point tied at the boundary is ranked by
// insertion sequence.
func (q *Qdrant) Search(ctx context.Context, query []float32, topK int, threshold float32) ([]Hit, error) {
	if err := checkDims(q.dims, query, "query"); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	using := vectorName
	page := uint64(topK + tieSlack)
	var cands []ranked
	for offset := uint64(0); ; offset += page {
		results, err := q.points.Query(ctx, &qdrant.QueryPoints{
			CollectionName: q.collection,
			Query:          qdrant.NewQuery(query...),
			Using:          &using,
			ScoreThreshold: qdrant.PtrOf(threshold),
			Limit:          qdrant.PtrOf(page),
			Offset:         qdrant.PtrOf(offset),
			WithPayload:    qdrant.NewWithPayloadInclude("ref", "seq"),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search vectors: %w", err)
		}

		for _, r := range results {
			if r.Score < threshold {
				continue
			}
			cands = append(cands, ranked{
				id:    r.Payload["ref"].GetStringValue(),
				seq:   uint64(r.Payload["seq"].GetIntegerValue()),
				score: r.Score,
			})
		}

		if uint64(len(results)) < page || len(cands) < topK {
			break
		}
		if results[len(results)-1].Score < cands[topK-1].score {
			break
		}
	}
	return rank(cands, topK), nil
}

func (q *Qdrant) Remove(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = pointID(id)
	}

	found, err := q.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            pids,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to look up points: %w", err)
	}
	if len(found) == 0 {
		return 0, nil
	}

	_, err = q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pids...),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete points: %w", err)
	}
	return len(found), nil
}

func (q *Qdrant) Len(ctx context.Context) (int, error) {
	n, err := q.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Reset drops and recreates the collection.
func (q *Qdrant) Reset(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return q.ensureCollection(ctx)
}

// Persist is a no-op: Qdrant makes upserts durable once acknowledged.
func (q *Qdrant) Persist(ctx context.Context) error { return nil }

// Close closes the Qdrant client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
