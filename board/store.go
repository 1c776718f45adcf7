package board

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Modar-SAD/task-nest/domain"
	"github.com/Modar-SAD/task-nest/observability"
)

const malformedRecordEvent = "board.record.malformed"

// Store is the in-memory projection of gateway snapshots into board columns.
// Every snapshot replaces the board wholesale; readers always see either the
// previous or the next board, never a partial rebuild.
type Store struct {
	logger   *log.Logger
	onChange func()

	mu         sync.RWMutex
	board      domain.Board
	revision   int64
	generation uint64
	loaded     bool
	err        error
}

// NewStore creates an empty store. onChange, if set, runs after every
// visible change of the board.
func NewStore(logger *log.Logger, onChange func()) *Store {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{logger: logger, onChange: onChange}
}

// Apply rebuilds the board from snap. Once a board is loaded, snapshots
// not newer than the applied one are discarded and Apply returns false; a
// discarded snapshot at the applied revision still clears the subscription
// error.
func (s *Store) Apply(ctx context.Context, snap domain.Snapshot) bool {
	ctx, span := observability.Tracer().Start(ctx, "board.store.apply")
	defer span.End()
	span.SetAttributes(attribute.Int64("board.revision", snap.Revision), attribute.Int("board.records", len(snap.Records)))

	next, dropped := buildBoard(snap.Records)

	s.mu.Lock()
	if s.loaded && snap.Revision <= s.revision {
		current := s.revision
		recovered := snap.Revision == current && s.err != nil
		if recovered {
			s.err = nil
		}
		s.mu.Unlock()
		s.logger.WithFields(log.Fields{"revision": snap.Revision, "current": current}).Debug("discarding stale snapshot")
		span.SetAttributes(attribute.Bool("board.stale", true))
		if recovered {
			s.changed()
		}
		return false
	}
	s.board = next
	s.revision = snap.Revision
	s.generation++
	s.loaded = true
	s.err = nil
	s.mu.Unlock()

	for _, bad := range dropped {
		observability.Emit(ctx, s.logger, observability.Event{
			Name:     malformedRecordEvent,
			Severity: observability.SeverityWarn,
			Attributes: map[string]any{
				"task.id":        bad.ID,
				"task.status":    bad.Status,
				"board.revision": snap.Revision,
			},
			Err: bad,
		})
	}
	s.changed()
	return true
}

func buildBoard(records []domain.Record) (domain.Board, []*domain.MalformedRecordError) {
	var (
		b       domain.Board
		dropped []*domain.MalformedRecordError
	)
	for _, rec := range records {
		task, err := rec.Task()
		if err != nil {
			dropped = append(dropped, err.(*domain.MalformedRecordError))
			continue
		}
		b.SetBucket(task.Status, append(b.Bucket(task.Status), task))
	}
	return b, dropped
}

// Board returns a copy of the current board.
func (s *Store) Board() domain.Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Clone()
}

// Revision returns the revision of the applied snapshot.
func (s *Store) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Loaded reports whether a snapshot has been applied yet.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Err returns the last subscription error, cleared by the next snapshot.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SetErr records a subscription failure.
func (s *Store) SetErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.changed()
}

// Find returns the task with the given id. Its Status names the column.
func (s *Store) Find(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range domain.Statuses {
		for _, t := range s.board.Bucket(status) {
			if t.ID == id {
				return t, true
			}
		}
	}
	return domain.Task{}, false
}

// Reorder moves a task to toIndex within its column. The new position is
// local only and is lost with the next snapshot.
func (s *Store) Reorder(column domain.Status, id string, fromIndex, toIndex int) error {
	s.mu.Lock()
	tasks := s.board.Bucket(column)
	idx := locate(tasks, id, fromIndex)
	if idx < 0 {
		s.mu.Unlock()
		return &domain.NotFoundError{ID: id}
	}
	task := tasks[idx]
	tasks = remove(tasks, idx)
	s.board.SetBucket(column, insert(tasks, clamp(toIndex, len(tasks)), task))
	s.mu.Unlock()
	s.changed()
	return nil
}

// pendingMove is a cross-column move applied locally before the gateway
// confirmed it.
type pendingMove struct {
	store      *Store
	task       domain.Task
	from, to   domain.Status
	fromIndex  int
	generation uint64
}

func (s *Store) moveLocal(id string, from, to domain.Status, fromIndex, toIndex int) (*pendingMove, error) {
	s.mu.Lock()
	src := s.board.Bucket(from)
	idx := locate(src, id, fromIndex)
	if idx < 0 {
		s.mu.Unlock()
		return nil, &domain.NotFoundError{ID: id}
	}
	original := src[idx]
	moved := original
	moved.Status = to

	s.board.SetBucket(from, remove(src, idx))
	dst := s.board.Bucket(to)
	s.board.SetBucket(to, insert(dst, clamp(toIndex, len(dst)), moved))
	pm := &pendingMove{
		store:      s,
		task:       original,
		from:       from,
		to:         to,
		fromIndex:  idx,
		generation: s.generation,
	}
	s.mu.Unlock()
	s.changed()
	return pm, nil
}

// Revert undoes the move. It does nothing once a newer snapshot replaced
// the board, since that snapshot already reflects the gateway state.
func (pm *pendingMove) Revert() bool {
	s := pm.store
	s.mu.Lock()
	if s.generation != pm.generation {
		s.mu.Unlock()
		return false
	}
	dst := s.board.Bucket(pm.to)
	idx := locate(dst, pm.task.ID, -1)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.board.SetBucket(pm.to, remove(dst, idx))
	src := s.board.Bucket(pm.from)
	s.board.SetBucket(pm.from, insert(src, clamp(pm.fromIndex, len(src)), pm.task))
	s.mu.Unlock()
	s.changed()
	return true
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}

// locate returns the index of id in tasks, trying hint first.
func locate(tasks []domain.Task, id string, hint int) int {
	if hint >= 0 && hint < len(tasks) && tasks[hint].ID == id {
		return hint
	}
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

func remove(tasks []domain.Task, i int) []domain.Task {
	out := make([]domain.Task, 0, len(tasks)-1)
	out = append(out, tasks[:i]...)
	out = append(out, tasks[i+1:]...)
	if len(out) == 0 {
		return nil
	}
	return out
}

func insert(tasks []domain.Task, i int, t domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks)+1)
	out = append(out, tasks[:i]...)
	out = append(out, t)
	return append(out, tasks[i:]...)
}
