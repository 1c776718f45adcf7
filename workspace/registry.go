// Package workspace hosts one live board per signed-in user: its store fed by
// a gateway subscription, its controller and the listeners of its changes.
package workspace

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/board"
	"github.com/Modar-SAD/task-nest/domain"
)

// Workspace is the live board of one user.
type Workspace struct {
	userID     string
	store      *board.Store
	controller *board.Controller
	broker     *broker
	done       chan struct{}

	unsubscribe func()
	refs        int
	lastUsed    time.Time
}

func (w *Workspace) UserID() string                { return w.userID }
func (w *Workspace) Store() *board.Store           { return w.store }
func (w *Workspace) Controller() *board.Controller { return w.controller }

// Updates returns a channel signalled whenever the board changes and a
// function to stop listening.
func (w *Workspace) Updates() (<-chan struct{}, func()) {
	ch := w.broker.subscribe()
	return ch, func() { w.broker.unsubscribe(ch) }
}

// Done is closed when the workspace is shut down.
func (w *Workspace) Done() <-chan struct{} { return w.done }

// Registry creates workspaces on first use and drops them on logout or
// after they sat unused for the idle timeout.
type Registry struct {
	gateway   board.Gateway
	logger    *log.Logger
	script    board.Script
	responder board.Responder
	idleTTL   time.Duration
	now       func() time.Time

	mu     sync.Mutex
	spaces map[string]*Workspace
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l *log.Logger) Option { return func(r *Registry) { r.logger = l } }
func WithScript(s board.Script) Option { return func(r *Registry) { r.script = s } }
func WithResponder(rs board.Responder) Option { return func(r *Registry) { r.responder = rs } }
func WithIdleTTL(d time.Duration) Option { return func(r *Registry) { r.idleTTL = d } }
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func NewRegistry(gateway board.Gateway, opts ...Option) *Registry {
	r := &Registry{
		gateway: gateway,
		logger:  log.StandardLogger(),
		script:  board.DefaultScript(),
		idleTTL: 10 * time.Minute,
		now:     time.Now,
		spaces:  map[string]*Workspace{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the workspace of the session's user, subscribing to the
// gateway if it does not exist yet. Every Acquire needs a Release.
func (r *Registry) Acquire(ctx context.Context, session board.Session) (*Workspace, error) {
	if session == nil || !session.Authenticated() || session.UserID() == "" {
		return nil, domain.ErrUnauthenticated
	}
	userID := session.UserID()

	r.mu.Lock()
	if w, ok := r.spaces[userID]; ok {
		w.refs++
		w.lastUsed = r.now()
		r.mu.Unlock()
		return w, nil
	}
	r.mu.Unlock()

	w, err := r.open(ctx, session)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.spaces[userID]; ok {
		existing.refs++
		existing.lastUsed = r.now()
		r.mu.Unlock()
		w.unsubscribe()
		return existing, nil
	}
	w.refs = 1
	w.lastUsed = r.now()
	r.spaces[userID] = w
	r.mu.Unlock()
	r.logger.WithField("userId", userID).Debug("workspace opened")
	return w, nil
}

func (r *Registry) open(ctx context.Context, session board.Session) (*Workspace, error) {
	userID := session.UserID()
	b := newBroker()
	store := board.NewStore(r.logger, b.notify)
	chat := board.NewChat(r.script, r.responder, r.now)
	w := &Workspace{
		userID:     userID,
		store:      store,
		controller: board.NewController(session, r.gateway, store, board.WithClock(r.now), board.WithLogger(r.logger), board.WithChat(chat)),
		broker:     b,
		done:       make(chan struct{}),
	}
	// the subscription outlives the request that opened it
	unsubscribe, err := r.gateway.Subscribe(context.WithoutCancel(ctx), userID,
		func(snap domain.Snapshot) { store.Apply(context.Background(), snap) },
		func(err error) {
			r.logger.WithError(err).WithField("userId", userID).Error("board subscription")
			store.SetErr(err)
		},
	)
	if err != nil {
		return nil, err
	}
	w.unsubscribe = unsubscribe
	return w, nil
}

// Release marks one use of the workspace as finished.
func (r *Registry) Release(w *Workspace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.refs > 0 {
		w.refs--
	}
	w.lastUsed = r.now()
}

// Close drops the user's workspace at once and cancels its subscription.
func (r *Registry) Close(userID string) bool {
	r.mu.Lock()
	w, ok := r.spaces[userID]
	if ok {
		delete(r.spaces, userID)
	}
	r.mu.Unlock()
	if ok {
		w.shutdown()
		r.logger.WithField("userId", userID).Debug("workspace closed")
	}
	return ok
}

// Reap closes workspaces unused for longer than the idle timeout and
// returns how many were closed.
func (r *Registry) Reap() int {
	now := r.now()
	var idle []*Workspace
	r.mu.Lock()
	for id, w := range r.spaces {
		if w.refs == 0 && now.Sub(w.lastUsed) >= r.idleTTL {
			idle = append(idle, w)
			delete(r.spaces, id)
		}
	}
	r.mu.Unlock()
	for _, w := range idle {
		w.shutdown()
	}
	return len(idle)
}

// Run reaps idle workspaces until ctx is cancelled, then closes the rest.
func (r *Registry) Run(ctx context.Context) {
	interval := r.idleTTL / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				r.logger.WithField("count", n).Debug("reaped idle workspaces")
			}
		}
	}
}

// Shutdown closes every workspace.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	spaces := r.spaces
	r.spaces = map[string]*Workspace{}
	r.mu.Unlock()
	for _, w := range spaces {
		w.shutdown()
	}
}

// Len returns the number of open workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}

func (w *Workspace) shutdown() {
	w.unsubscribe()
	close(w.done)
}
