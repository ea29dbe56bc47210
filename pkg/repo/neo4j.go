package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

// Neo4jStore persists videos as (:Video) nodes.
type Neo4jStore struct {
	driver     neo4j.DriverWithContext
	newSession func(ctx context.Context) runner // for testing
}

// NewNeo4jStore creates a VideoStore backed by the given driver.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{driver: driver}
}

var _ VideoStore = (*Neo4jStore)(nil)

type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

func (s *Neo4jStore) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{})}
}

// videoProps flattens a Video into node properties. Frames are stored as a
// JSON string; Neo4j properties cannot hold nested maps.
func videoProps(v domain.Video) map[string]any {
	frames, _ := json.Marshal(v.Frames)
	return map[string]any{
		"id":          v.ID,
		"title":       v.Title,
		"source_path": v.SourcePath,
		"status":      string(v.Status),
		"transcript":  v.Transcript,
		"frames":      string(frames),
		"duration":    v.Duration,
		"error":       v.Error,
		"created_at":  v.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":  v.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func videoFromRecord(rec *neo4j.Record) (domain.Video, error) {
	var v domain.Video
	raw, ok := rec.Get("n")
	if !ok {
		return v, fmt.Errorf("repo: record missing node")
	}
	node, ok := raw.(neo4j.Node)
	if !ok {
		return v, fmt.Errorf("repo: unexpected record shape %T", raw)
	}
	p := node.Props

	str := func(key string) string {
		if s, ok := p[key].(string); ok {
			return s
		}
		return ""
	}

	v.ID = str("id")
	v.Title = str("title")
	v.SourcePath = str("source_path")
	v.Status = domain.Status(str("status"))
	v.Transcript = str("transcript")
	v.Error = str("error")
	if d, ok := p["duration"].(float64); ok {
		v.Duration = d
	}
	if frames := str("frames"); frames != "" {
		_ = json.Unmarshal([]byte(frames), &v.Frames)
	}
	if t, err := time.Parse(time.RFC3339Nano, str("created_at")); err == nil {
		v.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, str("updated_at")); err == nil {
		v.UpdatedAt = t
	}
	return v, nil
}

// Create inserts a new video node.
func (s *Neo4jStore) Create(ctx context.Context, v domain.Video) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, "CREATE (n:Video $props) RETURN n", map[string]any{"props": videoProps(v)})
	if err != nil {
		return fmt.Errorf("repo: create video %s: %w", v.ID, err)
	}
	if !res.Next(ctx) {
		return fmt.Errorf("repo: create video %s: no node returned", v.ID)
	}
	return nil
}

// Get fetches one video by id.
func (s *Neo4jStore) Get(ctx context.Context, id string) (domain.Video, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, "MATCH (n:Video {id: $id}) RETURN n", map[string]any{"id": id})
	if err != nil {
		return domain.Video{}, fmt.Errorf("repo: get video %s: %w", id, err)
	}
	if !res.Next(ctx) {
		return domain.Video{}, domain.ErrNotFound
	}
	return videoFromRecord(res.Record())
}

// List returns videos with pagination.
func (s *Neo4jStore) List(ctx context.Context, offset, limit int) ([]domain.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		"MATCH (n:Video) RETURN n ORDER BY n.created_at DESC SKIP $offset LIMIT $limit",
		map[string]any{"offset": offset, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("repo: list videos: %w", err)
	}

	var out []domain.Video
	for res.Next(ctx) {
		v, err := videoFromRecord(res.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UpdateStatus transitions a video's status and error message.
func (s *Neo4jStore) UpdateStatus(ctx context.Context, id string, status domain.Status, errMsg string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		"MATCH (n:Video {id: $id}) SET n.status = $status, n.error = $error, n.updated_at = $now RETURN n",
		map[string]any{
			"id":     id,
			"status": string(status),
			"error":  errMsg,
			"now":    time.Now().UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("repo: update status %s: %w", id, err)
	}
	if !res.Next(ctx) {
		return domain.ErrNotFound
	}
	return nil
}

// SaveResults persists the indexing outputs onto the video node.
func (s *Neo4jStore) SaveResults(ctx context.Context, id string, transcript string, frames []domain.Frame, duration float64) error {
	data, _ := json.Marshal(frames)
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx,
		"MATCH (n:Video {id: $id}) SET n.transcript = $transcript, n.frames = $frames, n.duration = $duration, n.updated_at = $now RETURN n",
		map[string]any{
			"id":         id,
			"transcript": transcript,
			"frames":     string(data),
			"duration":   duration,
			"now":        time.Now().UTC().Format(time.RFC3339Nano),
		})
	if err != nil {
		return fmt.Errorf("repo: save results %s: %w", id, err)
	}
	if !res.Next(ctx) {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a video node.
func (s *Neo4jStore) Delete(ctx context.Context, id string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.Run(ctx, "MATCH (n:Video {id: $id}) DELETE n", map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("repo: delete video %s: %w", id, err)
	}
	return nil
}
