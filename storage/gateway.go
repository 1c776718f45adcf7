package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/domain"
)

// Gateway persists tasks through a Backend and pushes full snapshots to
// subscribers after every write.
type Gateway struct {
	backend   Backend
	revisions Revisions
	cache     *Cache
	notifier  Notifier
	logger    *log.Logger
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
}

type subscriber struct {
	mu       sync.Mutex
	onUpdate func(domain.Snapshot)
	onError  func(error)
}

func (s *subscriber) deliver(snap domain.Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		return
	}
	s.onUpdate(snap)
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRevisions sets the revision counter. Defaults to MemoryRevisions.
func WithRevisions(r Revisions) GatewayOption {
	return func(g *Gateway) { g.revisions = r }
}

// WithCache enables the snapshot cache.
func WithCache(c *Cache) GatewayOption {
	return func(g *Gateway) { g.cache = c }
}

// WithNotifier sets where change notifications go. Defaults to refreshing
// subscribers in process.
func WithNotifier(n Notifier) GatewayOption {
	return func(g *Gateway) { g.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithClock sets the clock stamping createdAt and updatedAt.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a gateway over backend.
func NewGateway(backend Backend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend:   backend,
		revisions: NewMemoryRevisions(),
		logger:    log.StandardLogger(),
		now:       time.Now,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
		subs:      map[string]map[uint64]*subscriber{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.notifier == nil {
		g.notifier = LocalNotifier{Refresher: g}
	}
	return g
}

// Subscribe registers the callbacks and pushes the current snapshot before
// returning. A failed initial read is reported through onError.
func (g *Gateway) Subscribe(ctx context.Context, userID string, onUpdate func(domain.Snapshot), onError func(error)) (func(), error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	sub := &subscriber{onUpdate: onUpdate, onError: onError}

	g.mu.Lock()
	g.nextID++
	id := g.nextID
	if g.subs[userID] == nil {
		g.subs[userID] = map[uint64]*subscriber{}
	}
	g.subs[userID][id] = sub
	g.mu.Unlock()

	sub.deliver(g.Snapshot(ctx, userID))

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs[userID], id)
			if len(g.subs[userID]) == 0 {
				delete(g.subs, userID)
			}
			g.mu.Unlock()
		})
	}, nil
}

// Subscribers returns the number of live subscriptions of a user.
func (g *Gateway) Subscribers(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs[userID])
}

// Refresh reads a fresh snapshot and pushes it to the user's subscribers.
func (g *Gateway) Refresh(ctx context.Context, userID string) error {
	g.mu.Lock()
	subs := make([]*subscriber, 0, len(g.subs[userID]))
	for _, s := range g.subs[userID] {
		subs = append(subs, s)
	}
	g.mu.Unlock()
	if len(subs) == 0 {
		return nil
	}

	snap, err := g.Snapshot(ctx, userID)
	for _, s := range subs {
		s.deliver(snap, err)
	}
	return err
}

// Snapshot returns all records of the user. The revision is read before
// the records so the content is never older than its tag.
func (g *Gateway) Snapshot(ctx context.Context, userID string) (domain.Snapshot, error) {
	rev, err := g.revisions.Current(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if snap, ok := g.cache.Load(ctx, userID, rev); ok {
		return snap, nil
	}
	records, err := g.backend.List(ctx, userID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{Revision: rev, Records: records}
	g.cache.Store(ctx, userID, snap)
	return snap, nil
}

// Create stores a new task with a time-ordered id.
func (g *Gateway) Create(ctx context.Context, userID string, task domain.NewTask) (string, error) {
	if strings.TrimSpace(task.Title) == "" {
		return "", &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if task.Status == "" {
		task.Status = domain.StatusTodo
	}
	if _, ok := domain.ParseStatus(string(task.Status)); !ok {
		return "", &domain.ValidationError{Field: "status", Reason: "unknown column"}
	}
	now := g.stamp()
	rec := domain.Record{
		ID:          g.newID(),
		Title:       task.Title,
		Description: task.Description,
		Deadline:    task.Deadline,
		Status:      string(task.Status),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.backend.Insert(ctx, userID, rec); err != nil {
		return "", err
	}
	g.changed(ctx, userID)
	return rec.ID, nil
}

// Update merges patch into the task.
func (g *Gateway) Update(ctx context.Context, userID, id string, patch domain.Patch) error {
	if patch.Empty() {
		return &domain.ValidationError{Field: "patch", Reason: "nothing to update"}
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if patch.Status != nil {
		if _, ok := domain.ParseStatus(string(*patch.Status)); !ok {
			return &domain.ValidationError{Field: "status", Reason: "unknown column"}
		}
	}
	if err := g.backend.Update(ctx, userID, id, patch, g.stamp()); err != nil {
		return err
	}
	g.changed(ctx, userID)
	return nil
}

// Delete removes the task.
func (g *Gateway) Delete(ctx context.Context, userID, id string) error {
	if err := g.backend.Delete(ctx, userID, id); err != nil {
		return err
	}
	g.changed(ctx, userID)
	return nil
}

func (g *Gateway) stamp() time.Time {
	return g.now().UTC().Truncate(time.Microsecond)
}

// changed runs after a successful write. Failures here are logged only:
// the write itself already happened.
func (g *Gateway) changed(ctx context.Context, userID string) {
	entry := g.logger.WithField("userId", userID)
	rev, err := g.revisions.Bump(ctx, userID)
	if err != nil {
		entry.WithError(err).Warn("bump revision")
	}
	g.cache.Evict(ctx, userID)
	if err := g.notifier.Notify(ctx, Change{UserID: userID, Revision: rev}); err != nil {
		entry.WithError(err).Warn("notify change")
	}
}
