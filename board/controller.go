package board

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Modar-SAD/task-nest/domain"
	"github.com/Modar-SAD/task-nest/observability"
)

const gatewayFailureEvent = "board.gateway.failure"

// EditFields are the user-editable fields of a task. Nil fields are kept.
type EditFields struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Move describes a drag of a task between or within columns.
type Move struct {
	ID        string        `json:"id"`
	From      domain.Status `json:"from"`
	To        domain.Status `json:"to"`
	FromIndex int           `json:"fromIndex"`
	ToIndex   int           `json:"toIndex"`
}

// Controller applies user actions to a board: it validates them, issues the
// gateway writes and reports failures as notifications.
type Controller struct {
	session Session
	gateway Gateway
	store   *Store
	chat    *Chat
	logger  *log.Logger
	now     func() time.Time
	notes   *notifications

	mu      sync.Mutex
	staged  string
	lastErr error
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for notifications and chat timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithChat replaces the default scripted chat.
func WithChat(chat *Chat) Option {
	return func(c *Controller) { c.chat = chat }
}

// NewController binds a controller to session, gateway and store.
func NewController(session Session, gateway Gateway, store *Store, opts ...Option) *Controller {
	c := &Controller{
		session: session,
		gateway: gateway,
		store:   store,
		logger:  log.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chat == nil {
		c.chat = NewChat(DefaultScript(), nil, c.now)
	}
	c.notes = &notifications{now: c.now}
	return c
}

// Store returns the store the controller writes through.
func (c *Controller) Store() *Store { return c.store }

// Chat returns the assistant conversation.
func (c *Controller) Chat() *Chat { return c.chat }

// CreateTask asks the gateway to create a task in the todo column. The task
// shows up on the board with the next snapshot.
func (c *Controller) CreateTask(ctx context.Context, title, description string, deadline time.Time) (string, error) {
	userID, err := c.user()
	if err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	ctx, span := c.start(ctx, "board.create")
	defer span.End()

	id, err := c.gateway.Create(ctx, userID, domain.NewTask{
		Title:       title,
		Description: description,
		Deadline:    deadline,
		Status:      domain.StatusTodo,
	})
	if err != nil {
		return "", c.fail(ctx, span, "create", msgCreateFailed, err)
	}
	c.clearErr()
	c.chat.taskCreated()
	span.SetAttributes(attribute.String("task.id", id))
	return id, nil
}

// EditTask updates the title, description or deadline of a task.
func (c *Controller) EditTask(ctx context.Context, id string, fields EditFields) error {
	userID, err := c.user()
	if err != nil {
		return err
	}
	patch := domain.Patch{Title: fields.Title, Description: fields.Description, Deadline: fields.Deadline}
	if patch.Empty() {
		return &domain.ValidationError{Field: "fields", Reason: "nothing to update"}
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return &domain.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		patch.Title = &title
	}

	ctx, span := c.start(ctx, "board.edit", attribute.String("task.id", id))
	defer span.End()

	if err := c.gateway.Update(ctx, userID, id, patch); err != nil {
		return c.fail(ctx, span, "update", msgEditFailed, err)
	}
	c.clearErr()
	c.notes.show(msgEditSucceeded)
	return nil
}

// MoveTask handles a drag. Within a column the new position is local only.
// Across columns the board changes at once and the status update is sent to
// the gateway; if that fails the move is undone.
func (c *Controller) MoveTask(ctx context.Context, m Move) error {
	userID, err := c.user()
	if err != nil {
		return err
	}
	if _, ok := domain.ParseStatus(string(m.From)); !ok {
		return &domain.ValidationError{Field: "from", Reason: "unknown column"}
	}
	if _, ok := domain.ParseStatus(string(m.To)); !ok {
		return &domain.ValidationError{Field: "to", Reason: "unknown column"}
	}
	if m.From == m.To {
		return c.store.Reorder(m.From, m.ID, m.FromIndex, m.ToIndex)
	}

	pending, err := c.store.moveLocal(m.ID, m.From, m.To, m.FromIndex, m.ToIndex)
	if err != nil {
		return err
	}

	ctx, span := c.start(ctx, "board.move",
		attribute.String("task.id", m.ID),
		attribute.String("task.from", string(m.From)),
		attribute.String("task.to", string(m.To)),
	)
	defer span.End()

	status := m.To
	if err := c.gateway.Update(ctx, userID, m.ID, domain.Patch{Status: &status}); err != nil {
		reverted := pending.Revert()
		span.SetAttributes(attribute.Bool("board.move.reverted", reverted))
		return c.fail(ctx, span, "update", msgMoveFailed, err)
	}
	c.clearErr()
	return nil
}

// StageDelete marks a task for deletion pending confirmation.
func (c *Controller) StageDelete(id string) error {
	if _, err := c.user(); err != nil {
		return err
	}
	if _, ok := c.store.Find(id); !ok {
		return &domain.NotFoundError{ID: id}
	}
	c.mu.Lock()
	c.staged = id
	c.mu.Unlock()
	return nil
}

// Staged returns the id of the task awaiting delete confirmation.
func (c *Controller) Staged() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staged, c.staged != ""
}

// CancelDelete drops the staged deletion.
func (c *Controller) CancelDelete() {
	c.mu.Lock()
	c.staged = ""
	c.mu.Unlock()
}

// ErrNotStaged is returned by ConfirmDelete when the task is not the one
// awaiting confirmation.
var ErrNotStaged = errors.New("task is not staged for deletion")

// ConfirmDelete deletes id if it is the staged task. The task leaves the
// board with the next snapshot. On failure the task is staged again unless
// another one was staged meanwhile.
func (c *Controller) ConfirmDelete(ctx context.Context, id string) error {
	userID, err := c.user()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.staged == "" || c.staged != id {
		c.mu.Unlock()
		return ErrNotStaged
	}
	c.staged = ""
	c.mu.Unlock()

	ctx, span := c.start(ctx, "board.delete", attribute.String("task.id", id))
	defer span.End()

	if err := c.gateway.Delete(ctx, userID, id); err != nil {
		c.mu.Lock()
		if c.staged == "" {
			c.staged = id
		}
		c.mu.Unlock()
		return c.fail(ctx, span, "delete", msgDeleteFailed, err)
	}
	c.clearErr()
	c.notes.show(msgDeleted)
	return nil
}

// SendMessage posts a user message to the assistant.
func (c *Controller) SendMessage(ctx context.Context, content string) ([]Message, error) {
	if _, err := c.user(); err != nil {
		return nil, err
	}
	return c.chat.Send(ctx, content)
}

// LastError returns the error of the last failed gateway write, cleared by
// the next successful one.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Notification returns the notification currently visible, if any.
func (c *Controller) Notification() (Notification, bool) {
	return c.notes.active()
}

func (c *Controller) user() (string, error) {
	if c.session == nil || !c.session.Authenticated() || c.session.UserID() == "" {
		return "", domain.ErrUnauthenticated
	}
	return c.session.UserID(), nil
}

func (c *Controller) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := observability.Tracer().Start(ctx, name)
	span.SetAttributes(append(attrs, attribute.String("user.id", c.session.UserID()))...)
	return ctx, span
}

// fail records a gateway failure and returns it wrapped as a GatewayError.
func (c *Controller) fail(ctx context.Context, span trace.Span, op, message string, err error) error {
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		gwErr = &domain.GatewayError{Op: op, Err: err}
	}
	span.RecordError(gwErr)
	span.SetStatus(codes.Error, message)

	c.mu.Lock()
	c.lastErr = gwErr
	c.mu.Unlock()
	c.notes.show(message)

	observability.Emit(ctx, c.logger, observability.Event{
		Name:     gatewayFailureEvent,
		Severity: observability.SeverityError,
		Attributes: map[string]any{
			"gateway.op": op,
			"user.id":    c.session.UserID(),
		},
		Err: err,
	})
	return gwErr
}

func (c *Controller) clearErr() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}
