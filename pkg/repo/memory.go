package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vidgrep/vidgrep/engine/domain"
)

// Memory is an in-memory VideoStore for tests and development.
type Memory struct {
	mu     sync.RWMutex
	videos map[string]domain.Video
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{videos: make(map[string]domain.Video)}
}

var _ VideoStore = (*Memory)(nil)

func (m *Memory) Create(_ context.Context, v domain.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[v.ID] = v
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Video, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	if !ok {
		return domain.Video{}, domain.ErrNotFound
	}
	return v, nil
}

func (m *Memory) List(_ context.Context, offset, limit int) ([]domain.Video, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]domain.Video, 0, len(m.videos))
	for _, v := range m.videos {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status domain.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return domain.ErrNotFound
	}
	v.Status = status
	v.Error = errMsg
	v.UpdatedAt = time.Now()
	m.videos[id] = v
	return nil
}

func (m *Memory) SaveResults(_ context.Context, id string, transcript string, frames []domain.Frame, duration float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return domain.ErrNotFound
	}
	v.Transcript = transcript
	v.Frames = frames
	v.Duration = duration
	v.UpdatedAt = time.Now()
	m.videos[id] = v
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.videos, id)
	return nil
}
