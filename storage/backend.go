// Package storage implements the persistence gateway boards synchronise with:
// task documents in Azure Table Storage, PostgreSQL or memory, per-user
// revisions, a snapshot cache and change notification over Redis or an
// Azure queue.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Modar-SAD/task-nest/domain"
)

// Backend stores task records partitioned by user. List returns records in
// id order. Update returns a NotFoundError for unknown ids; Delete of an
// unknown id succeeds.
type Backend interface {
	List(ctx context.Context, userID string) ([]domain.Record, error)
	Insert(ctx context.Context, userID string, rec domain.Record) error
	Update(ctx context.Context, userID, id string, patch domain.Patch, updatedAt time.Time) error
	Delete(ctx context.Context, userID, id string) error
}

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	users map[string]map[string]domain.Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{users: map[string]map[string]domain.Record{}}
}

func (m *MemoryBackend) List(_ context.Context, userID string) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := m.users[userID]
	out := make([]domain.Record, 0, len(tasks))
	for _, rec := range tasks {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryBackend) Insert(_ context.Context, userID string, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks, ok := m.users[userID]
	if !ok {
		tasks = map[string]domain.Record{}
		m.users[userID] = tasks
	}
	tasks[rec.ID] = rec
	return nil
}

func (m *MemoryBackend) Update(_ context.Context, userID, id string, patch domain.Patch, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID][id]
	if !ok {
		return &domain.NotFoundError{ID: id}
	}
	rec = patch.Apply(rec)
	rec.UpdatedAt = updatedAt
	m.users[userID][id] = rec
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users[userID], id)
	return nil
}
