package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Modar-SAD/task-nest/domain"
)

// fakeGateway keeps records in memory and pushes a snapshot to the
// subscriber after every successful write.
type fakeGateway struct {
	mu       sync.Mutex
	order    []string
	records  map[string]domain.Record
	revision int64
	nextID   int
	now      time.Time
	onUpdate func(domain.Snapshot)

	createErr error
	updateErr error
	deleteErr error

	creates []domain.NewTask
	updates []domain.Patch
	deletes []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{records: map[string]domain.Record{}, now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (g *fakeGateway) Subscribe(_ context.Context, _ string, onUpdate func(domain.Snapshot), _ func(error)) (func(), error) {
	g.mu.Lock()
	g.onUpdate = onUpdate
	snap := g.snapshotLocked()
	g.mu.Unlock()
	onUpdate(snap)
	return func() {
		g.mu.Lock()
		g.onUpdate = nil
		g.mu.Unlock()
	}, nil
}

func (g *fakeGateway) Create(_ context.Context, _ string, task domain.NewTask) (string, error) {
	g.mu.Lock()
	g.creates = append(g.creates, task)
	if g.createErr != nil {
		g.mu.Unlock()
		return "", g.createErr
	}
	g.nextID++
	id := fmt.Sprintf("t%d", g.nextID)
	g.records[id] = domain.Record{
		ID:          id,
		Title:       task.Title,
		Description: task.Description,
		Deadline:    task.Deadline,
		Status:      string(task.Status),
		CreatedAt:   g.now,
		UpdatedAt:   g.now,
	}
	g.order = append(g.order, id)
	g.pushLocked()
	return id, nil
}

func (g *fakeGateway) Update(_ context.Context, _ string, id string, patch domain.Patch) error {
	g.mu.Lock()
	g.updates = append(g.updates, patch)
	if g.updateErr != nil {
		g.mu.Unlock()
		return g.updateErr
	}
	rec, ok := g.records[id]
	if !ok {
		g.mu.Unlock()
		return &domain.NotFoundError{ID: id}
	}
	rec = patch.Apply(rec)
	rec.UpdatedAt = g.now
	g.records[id] = rec
	g.pushLocked()
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, _ string, id string) error {
	g.mu.Lock()
	g.deletes = append(g.deletes, id)
	if g.deleteErr != nil {
		g.mu.Unlock()
		return g.deleteErr
	}
	delete(g.records, id)
	for i, v := range g.order {
		if v == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.pushLocked()
	return nil
}

// seed stores records without pushing.
func (g *fakeGateway) seed(records ...domain.Record) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range records {
		g.records[rec.ID] = rec
		g.order = append(g.order, rec.ID)
	}
}

// pushLocked releases the lock and delivers the snapshot.
func (g *fakeGateway) pushLocked() {
	snap := g.snapshotLocked()
	onUpdate := g.onUpdate
	g.mu.Unlock()
	if onUpdate != nil {
		onUpdate(snap)
	}
}

func (g *fakeGateway) snapshotLocked() domain.Snapshot {
	g.revision++
	snap := domain.Snapshot{Revision: g.revision}
	for _, id := range g.order {
		snap.Records = append(snap.Records, g.records[id])
	}
	return snap
}
