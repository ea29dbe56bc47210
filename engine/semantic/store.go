// Package semantic owns every Qdrant interaction: collection provisioning,
// batch point insertion with per-record fallback, filtered similarity
// search, and re-index cleanup. Nothing else in the codebase imports the
// Qdrant client.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vidgrep/vidgrep/engine/domain"
	"github.com/vidgrep/vidgrep/pkg/fn"
	"github.com/vidgrep/vidgrep/pkg/resilience"
)

// Batch sizes per modality. Text embeddings are larger payloads per point,
// frames are mostly path metadata.
const (
	TextBatchSize  = 10
	FrameBatchSize = 50
)

const (
	readinessAttempts = 60
	readinessInterval = time.Second
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store is the sole owner of all Qdrant operations.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	limiter     *resilience.Limiter
	logger      *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr string, logger *slog.Logger) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), logger)
	s.conn = conn
	return s, nil
}

// NewWithClients creates a Store over pre-built clients. Tests use this
// with fakes.
func NewWithClients(points pointsAPI, collections collectionsAPI, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		points:      points,
		collections: collections,
		limiter:     resilience.NewLimiter(resilience.LimiterOpts{Rate: 10, Burst: 10}),
		logger:      logger,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection makes the collection exist with the spec's dimension.
// A dimension mismatch deletes and recreates the collection, losing its
// points. That beats silently inserting vectors the index cannot compare.
func (s *Store) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}

	exists := false
	for _, c := range list.GetCollections() {
		if c.GetName() == spec.Name {
			exists = true
			break
		}
	}

	if exists {
		dim, err := s.collectionDimension(ctx, spec.Name)
		if err != nil {
			return err
		}
		if dim == spec.Dimension {
			return nil
		}
		s.logger.Warn("semantic: collection dimension mismatch, recreating (existing points are dropped)",
			"collection", spec.Name, "have", dim, "want", spec.Dimension)
		if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: spec.Name}); err != nil {
			return fmt.Errorf("%w: drop %s: %v", domain.ErrSchemaMismatch, spec.Name, err)
		}
	}

	if err := s.create(ctx, spec); err != nil {
		return err
	}
	s.awaitReady(ctx, spec.Name)
	return nil
}

func (s *Store) create(ctx context.Context, spec CollectionSpec) error {
	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		// Concurrent callers can race the List check. The collection
		// being there already is the outcome we wanted.
		if dim, derr := s.collectionDimension(ctx, spec.Name); derr == nil && dim == spec.Dimension {
			return nil
		}
		return fmt.Errorf("semantic: create collection %s: %w", spec.Name, err)
	}
	return nil
}

func (s *Store) collectionDimension(ctx context.Context, name string) (int, error) {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return 0, fmt.Errorf("semantic: get collection %s: %w", name, err)
	}
	size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	return int(size), nil
}

// awaitReady polls until the collection reports green, giving up after a
// bounded number of attempts. Qdrant accepts writes before reporting
// green, so exhaustion is logged and tolerated.
func (s *Store) awaitReady(ctx context.Context, name string) {
	for i := 0; i < readinessAttempts; i++ {
		info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
		if err == nil && info.GetResult().GetStatus() == pb.CollectionStatus_Green {
			return
		}
		if s.sleep(ctx, readinessInterval) != nil {
			return
		}
	}
	s.logger.Warn("semantic: collection not green after readiness window, proceeding", "collection", name)
}

// InsertBatches upserts records in fixed-size batches. A failed batch falls
// back to per-record upserts so one poisoned point cannot sink its
// batchmates. The report carries per-record outcomes either way.
func (s *Store) InsertBatches(ctx context.Context, collection string, records []Record, batchSize int) (InsertReport, error) {
	report := InsertReport{Requested: len(records)}
	if len(records) == 0 {
		return report, nil
	}
	if batchSize <= 0 {
		batchSize = TextBatchSize
	}

	for i, batch := range fn.Batch(records, batchSize) {
		if i > 0 {
			if err := s.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		if err := s.upsert(ctx, collection, batch); err == nil {
			report.Inserted += len(batch)
			continue
		} else {
			s.logger.Warn("semantic: batch upsert failed, retrying per record",
				"collection", collection, "batch", i, "size", len(batch), "err", err)
		}

		for _, r := range batch {
			if err := s.upsert(ctx, collection, []Record{r}); err != nil {
				report.Failed++
				report.FailedIDs = append(report.FailedIDs, r.ID)
				s.logger.Error("semantic: record upsert failed", "collection", collection, "id", r.ID, "err", err)
				continue
			}
			report.Inserted++
			report.Fallbacks++
		}
	}

	if report.Inserted == 0 {
		return report, fmt.Errorf("%w: all %d records failed for %s", domain.ErrInsertion, report.Requested, collection)
	}
	return report, nil
}

func (s *Store) upsert(ctx context.Context, collection string, records []Record) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			switch tv := val.(type) {
			case string:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
			case int:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
			case int64:
				payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
			case float64:
				payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
			case bool:
				payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
			default:
				payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
			}
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

// CountByVideoID returns the exact number of stored points for a video.
// The orchestrator reads this back after insertion to verify persistence.
func (s *Store) CountByVideoID(ctx context.Context, collection, videoID string) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("video_id", videoID)},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("semantic: count %s in %s: %w", videoID, collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// ProbeSearch runs a one-hit filtered search to confirm the video's points
// are retrievable. Failures are reported, not fatal.
func (s *Store) ProbeSearch(ctx context.Context, collection, videoID string, vector []float32) error {
	results, err := s.SearchFiltered(ctx, collection, vector, 1, map[string]string{"video_id": videoID})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("semantic: probe search returned no points for video %s in %s", videoID, collection)
	}
	return nil
}

// SearchFiltered performs similarity search with optional keyword filters
// and maps hits into the canonical SearchResult.
func (s *Store) SearchFiltered(ctx context.Context, collection string, vector []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search %s: %w", collection, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
			Meta:  make(map[string]string),
		}
		for k, val := range r.GetPayload() {
			switch k {
			case "chunk":
				sr.Chunk = val.GetStringValue()
			case "video_id":
				sr.VideoID = val.GetStringValue()
			case "chunk_index":
				sr.ChunkIndex = int(val.GetIntegerValue())
			case "start_time", "timestamp":
				ts := val.GetDoubleValue()
				sr.Timestamp = &ts
			default:
				if sv := val.GetStringValue(); sv != "" {
					sr.Meta[k] = sv
				}
			}
		}
		results[i] = sr
	}
	return results, nil
}

// DeleteByVideoID removes every point for a video. Re-indexing calls this
// first so stale chunks from a previous run cannot survive a strategy or
// model change.
func (s *Store) DeleteByVideoID(ctx context.Context, collection, videoID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch("video_id", videoID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete video %s from %s: %w", videoID, collection, err)
	}
	return nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
