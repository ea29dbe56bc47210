package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// --- fakes ---

type fakeResult struct {
	records []*neo4j.Record
	pos     int
}

func (r *fakeResult) Next(context.Context) bool {
	if r.pos >= len(r.records) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeResult) Record() *neo4j.Record {
	return r.records[r.pos-1]
}

type fakeSession struct {
	lastCypher string
	lastParams map[string]any
	result     *fakeResult
	err        error
}

func (s *fakeSession) Run(_ context.Context, cypher string, params map[string]any) (result, error) {
	s.lastCypher = cypher
	s.lastParams = params
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *fakeSession) Close(context.Context) error { return nil }

func videoRecord(props map[string]any) *neo4j.Record {
	node := neo4j.Node{Props: props}
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{node}}
}

func storeWith(sess *fakeSession) *Neo4jStore {
	return &Neo4jStore{newSession: func(context.Context) runner { return sess }}
}

// --- Neo4j store ---

func TestNeo4jGet(t *testing.T) {
	sess := &fakeSession{result: &fakeResult{records: []*neo4j.Record{videoRecord(map[string]any{
		"id":          "vid-1",
		"title":       "demo",
		"source_path": "/data/vid-1.mp4",
		"status":      "completed",
		"transcript":  "hello world",
		"frames":      `[{"timestamp":0,"path":"/frames/vid-1/0.jpg"}]`,
		"duration":    12.5,
		"created_at":  time.Now().UTC().Format(time.RFC3339Nano),
		"updated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	})}}}

	v, err := storeWith(sess).Get(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Status != domain.StatusCompleted || v.Duration != 12.5 {
		t.Errorf("unexpected video: %+v", v)
	}
	if len(v.Frames) != 1 || v.Frames[0].Path != "/frames/vid-1/0.jpg" {
		t.Errorf("frames not decoded: %+v", v.Frames)
	}
}

func TestNeo4jGet_NotFound(t *testing.T) {
	sess := &fakeSession{result: &fakeResult{}}
	_, err := storeWith(sess).Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNeo4jUpdateStatus(t *testing.T) {
	sess := &fakeSession{result: &fakeResult{records: []*neo4j.Record{videoRecord(map[string]any{"id": "vid-1"})}}}
	err := storeWith(sess).UpdateStatus(context.Background(), "vid-1", domain.StatusFailed, "no frames")
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if sess.lastParams["status"] != "failed" || sess.lastParams["error"] != "no frames" {
		t.Errorf("params = %v", sess.lastParams)
	}
}

func TestNeo4jCreate_SendsProps(t *testing.T) {
	sess := &fakeSession{result: &fakeResult{records: []*neo4j.Record{videoRecord(map[string]any{"id": "vid-9"})}}}
	v := domain.Video{ID: "vid-9", Title: "t", SourcePath: "/p", Status: domain.StatusPending, CreatedAt: time.Now()}
	if err := storeWith(sess).Create(context.Background(), v); err != nil {
		t.Fatalf("Create: %v", err)
	}
	props, ok := sess.lastParams["props"].(map[string]any)
	if !ok || props["id"] != "vid-9" || props["status"] != "pending" {
		t.Errorf("props = %v", sess.lastParams["props"])
	}
}

// --- Memory store ---

func TestMemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	v := domain.Video{ID: "vid-1", Title: "demo", SourcePath: "/p", Status: domain.StatusPending, CreatedAt: time.Now()}
	if err := m.Create(ctx, v); err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateStatus(ctx, "vid-1", domain.StatusProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveResults(ctx, "vid-1", "spoken words", []domain.Frame{{Timestamp: 0, Path: "/f.jpg"}}, 12); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateStatus(ctx, "vid-1", domain.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get(ctx, "vid-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCompleted || got.Transcript != "spoken words" || got.Duration != 12 {
		t.Errorf("got %+v", got)
	}

	if _, err := m.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := m.Delete(ctx, "vid-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, "vid-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("deleted video should be gone")
	}
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		m.Create(ctx, domain.Video{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	all, err := m.List(ctx, 0, 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("List = (%v, %v)", all, err)
	}
	if all[0].ID != "c" {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}

	page, _ := m.List(ctx, 2, 10)
	if len(page) != 1 {
		t.Errorf("offset paging broken: %v", page)
	}
}
