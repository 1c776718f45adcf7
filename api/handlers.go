// Package api exposes the boards of signed-in users over HTTP: board reads
// with derived statuses, task writes, the assistant chat and an SSE stream of
// board changes.
package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Modar-SAD/task-nest/board"
	"github.com/Modar-SAD/task-nest/domain"
	"github.com/Modar-SAD/task-nest/workspace"
)

const (
	userIDKey         = "userId"
	maxBodySize       = 64 << 10
	idempotencyHeader = "Idempotency-Key"
)

// Server serves the board API.
type Server struct {
	registry  *workspace.Registry
	auth      Authenticator
	deduper   Deduper
	logger    *log.Logger
	now       func() time.Time
	heartbeat time.Duration
}

// NewServer creates a Server. deduper may be nil, which disables
// Idempotency-Key handling.
func NewServer(registry *workspace.Registry, auth Authenticator, deduper Deduper, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Server{
		registry:  registry,
		auth:      auth,
		deduper:   deduper,
		logger:    logger,
		now:       time.Now,
		heartbeat: 25 * time.Second,
	}
}

// Register wires up all API routes on the provided Echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", healthz)
	e.GET("/api/board", s.withBoard(s.getBoard))
	e.POST("/api/tasks", s.withBoard(s.createTask))
	e.PATCH("/api/tasks/:id", s.withBoard(s.editTask))
	e.POST("/api/tasks/:id/move", s.withBoard(s.moveTask))
	e.POST("/api/tasks/:id/delete", s.withBoard(s.stageDelete))
	e.POST("/api/tasks/:id/delete/confirm", s.withBoard(s.confirmDelete))
	e.DELETE("/api/tasks/:id/delete", s.withBoard(s.cancelDelete))
	e.GET("/api/notification", s.withBoard(s.getNotification))
	e.GET("/api/assistant/messages", s.withBoard(s.getMessages))
	e.POST("/api/assistant/messages", s.withBoard(s.postMessage))
	e.POST("/api/logout", s.logout)
	e.GET("/stream", s.stream)
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type boardHandler func(c echo.Context, w *workspace.Workspace) error

// withBoard authenticates the request and hands the user's workspace to fn.
func (s *Server) withBoard(fn boardHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		c.Set(userIDKey, userID)
		w, err := s.registry.Acquire(c.Request().Context(), session(userID))
		if err != nil {
			return s.fail(c, err)
		}
		defer s.registry.Release(w)
		return fn(c, w)
	}
}

type taskView struct {
	domain.Task
	Derived            domain.DerivedStatus `json:"derivedStatus"`
	DerivedDescription string               `json:"derivedDescription"`
}

type columnsView struct {
	Todo       []taskView `json:"todo"`
	InProgress []taskView `json:"inProgress"`
	Done       []taskView `json:"done"`
}

type boardView struct {
	Filter       domain.FilterMode   `json:"filter"`
	Revision     int64               `json:"revision"`
	Loaded       bool                `json:"loaded"`
	SyncError    string              `json:"syncError,omitempty"`
	LastError    string              `json:"lastError,omitempty"`
	Columns      columnsView         `json:"columns"`
	StagedDelete string              `json:"stagedDelete,omitempty"`
	Notification *board.Notification `json:"notification,omitempty"`
}

func views(tasks []domain.Task, now time.Time) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		d := domain.Classify(t.Deadline, t.Status, now)
		out = append(out, taskView{Task: t, Derived: d, DerivedDescription: d.Description()})
	}
	return out
}

func renderBoard(w *workspace.Workspace, mode domain.FilterMode, now time.Time) boardView {
	store := w.Store()
	ctrl := w.Controller()
	b := domain.Filter(store.Board(), mode)
	v := boardView{
		Filter:   mode,
		Revision: store.Revision(),
		Loaded:   store.Loaded(),
		Columns: columnsView{
			Todo:       views(b.Todo, now),
			InProgress: views(b.InProgress, now),
			Done:       views(b.Done, now),
		},
	}
	if err := store.Err(); err != nil {
		v.SyncError = err.Error()
	}
	if err := ctrl.LastError(); err != nil {
		v.LastError = err.Error()
	}
	if id, ok := ctrl.Staged(); ok {
		v.StagedDelete = id
	}
	if n, ok := ctrl.Notification(); ok {
		v.Notification = &n
	}
	return v
}

func (s *Server) getBoard(c echo.Context, w *workspace.Workspace) error {
	mode, ok := domain.ParseFilterMode(c.QueryParam("filter"))
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid filter"})
	}
	return c.JSON(http.StatusOK, renderBoard(w, mode, s.now()))
}

type createRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
}

type createResponse struct {
	ID string `json:"id"`
}

func (s *Server) createTask(c echo.Context, w *workspace.Workspace) error {
	var req createRequest
	if err := decode(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if req.Deadline.IsZero() {
		return s.fail(c, &domain.ValidationError{Field: "deadline", Reason: "required"})
	}

	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key != "" && s.deduper != nil {
		added, err := s.deduper.Add(ctx, w.UserID(), key)
		if err != nil {
			s.logger.WithError(err).Warn("idempotency check failed; processing anyway")
		} else if !added {
			return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
		}
	}

	id, err := w.Controller().CreateTask(ctx, req.Title, req.Description, req.Deadline)
	if err != nil {
		if key != "" && s.deduper != nil {
			if rmErr := s.deduper.Remove(ctx, w.UserID(), key); rmErr != nil {
				s.logger.WithError(rmErr).Warn("release idempotency key")
			}
		}
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, createResponse{ID: id})
}

func (s *Server) editTask(c echo.Context, w *workspace.Workspace) error {
	var fields board.EditFields
	if err := decode(c, &fields); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if err := w.Controller().EditTask(c.Request().Context(), c.Param("id"), fields); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type moveRequest struct {
	From      domain.Status `json:"from"`
	To        domain.Status `json:"to"`
	FromIndex int           `json:"fromIndex"`
	ToIndex   int           `json:"toIndex"`
}

func (s *Server) moveTask(c echo.Context, w *workspace.Workspace) error {
	var req moveRequest
	if err := decode(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	err := w.Controller().MoveTask(c.Request().Context(), board.Move{
		ID:        c.Param("id"),
		From:      req.From,
		To:        req.To,
		FromIndex: req.FromIndex,
		ToIndex:   req.ToIndex,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) stageDelete(c echo.Context, w *workspace.Workspace) error {
	if err := w.Controller().StageDelete(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) confirmDelete(c echo.Context, w *workspace.Workspace) error {
	if err := w.Controller().ConfirmDelete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) cancelDelete(c echo.Context, w *workspace.Workspace) error {
	ctrl := w.Controller()
	if staged, ok := ctrl.Staged(); ok && staged == c.Param("id") {
		ctrl.CancelDelete()
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getNotification(c echo.Context, w *workspace.Workspace) error {
	n, ok := w.Controller().Notification()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) getMessages(c echo.Context, w *workspace.Workspace) error {
	return c.JSON(http.StatusOK, w.Controller().Chat().Messages())
}

type messageRequest struct {
	Content string `json:"content"`
}

func (s *Server) postMessage(c echo.Context, w *workspace.Workspace) error {
	var req messageRequest
	if err := decode(c, &req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	msgs, err := w.Controller().SendMessage(c.Request().Context(), req.Content)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, msgs)
}

func (s *Server) logout(c echo.Context) error {
	userID, err := s.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	c.Set(userIDKey, userID)
	s.registry.Close(userID)
	return c.NoContent(http.StatusNoContent)
}

func decode(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	var gwErr *domain.GatewayError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, board.ErrNotStaged):
		return http.StatusConflict
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &gwErr):
		if domain.IsNotFound(gwErr) {
			return http.StatusNotFound
		}
		return http.StatusBadGateway
	case domain.IsNotFound(err):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}
