package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Modar-SAD/task-nest/domain"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestController(t *testing.T, records ...domain.Record) (*Controller, *fakeGateway, *clock) {
	t.Helper()
	gw := newFakeGateway()
	gw.seed(records...)
	clk := &clock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	logger, _ := test.NewNullLogger()
	store := NewStore(logger, nil)
	ctrl := NewController(StaticSession{ID: "u1"}, gw, store, WithClock(clk.Now), WithLogger(logger))
	if _, err := gw.Subscribe(context.Background(), "u1", func(s domain.Snapshot) {
		store.Apply(context.Background(), s)
	}, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return ctrl, gw, clk
}

func TestCreateTaskValidation(t *testing.T) {
	ctrl, gw, _ := newTestController(t)
	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := ctrl.CreateTask(context.Background(), title, "", deadline)
		if !domain.IsValidation(err) {
			t.Fatalf("title %q: expected validation error, got %v", title, err)
		}
	}
	if len(gw.creates) != 0 {
		t.Fatalf("gateway must not be called on invalid input")
	}
}

func TestCreateTaskSendsTodoAndAcknowledges(t *testing.T) {
	ctrl, gw, _ := newTestController(t)
	before := len(ctrl.Chat().Messages())

	id, err := ctrl.CreateTask(context.Background(), "  Write report ", "q3", deadline)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(gw.creates) != 1 || gw.creates[0].Status != domain.StatusTodo || gw.creates[0].Title != "Write report" {
		t.Fatalf("unexpected create: %#v", gw.creates)
	}
	msgs := ctrl.Chat().Messages()
	if len(msgs) != before+1 || msgs[len(msgs)-1].Content != DefaultScript().TaskCreated {
		t.Fatalf("expected exactly one acknowledgement, got %#v", msgs)
	}
	if !equalIDs(ctrl.Store().Board().Todo, id) {
		t.Fatalf("task should arrive through the snapshot")
	}
}

func TestCreateTaskDoesNotInsertLocally(t *testing.T) {
	ctrl, gw, _ := newTestController(t)
	gw.onUpdate = nil
	if _, err := ctrl.CreateTask(context.Background(), "t", "", deadline); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ctrl.Store().Board().Len() != 0 {
		t.Fatalf("board changed without a snapshot")
	}
}

func TestCreateTaskFailure(t *testing.T) {
	ctrl, gw, _ := newTestController(t)
	gw.createErr = errors.New("unavailable")
	before := len(ctrl.Chat().Messages())

	_, err := ctrl.CreateTask(context.Background(), "t", "", deadline)
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || gwErr.Op != "create" {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if n, ok := ctrl.Notification(); !ok || n.Message != "Failed to add task" {
		t.Fatalf("unexpected notification: %#v", n)
	}
	if ctrl.LastError() == nil {
		t.Fatalf("expected error state")
	}
	if len(ctrl.Chat().Messages()) != before {
		t.Fatalf("no acknowledgement on failure")
	}
}

func TestEditTask(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))
	title := " New title "
	if err := ctrl.EditTask(context.Background(), "a", EditFields{Title: &title}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if len(gw.updates) != 1 || *gw.updates[0].Title != "New title" || gw.updates[0].Status != nil {
		t.Fatalf("unexpected patch: %#v", gw.updates)
	}
	if n, ok := ctrl.Notification(); !ok || n.Message != "Task updated successfully" {
		t.Fatalf("unexpected notification: %#v", n)
	}
	if got := ctrl.Store().Board().Todo[0].Title; got != "New title" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestEditTaskValidation(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))
	blank := "  "
	if err := ctrl.EditTask(context.Background(), "a", EditFields{Title: &blank}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := ctrl.EditTask(context.Background(), "a", EditFields{}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty edit, got %v", err)
	}
	if len(gw.updates) != 0 {
		t.Fatalf("gateway must not be called")
	}
}

func TestEditUnknownTask(t *testing.T) {
	ctrl, _, _ := newTestController(t)
	desc := "x"
	err := ctrl.EditTask(context.Background(), "missing", EditFields{Description: &desc})
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) || !domain.IsNotFound(err) {
		t.Fatalf("expected wrapped not found, got %v", err)
	}
	if n, _ := ctrl.Notification(); n.Message != "Failed to update task" {
		t.Fatalf("unexpected notification %q", n.Message)
	}
}

func TestMoveSameColumnIsLocal(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"), rec("b", "todo"))
	err := ctrl.MoveTask(context.Background(), Move{ID: "b", From: domain.StatusTodo, To: domain.StatusTodo, FromIndex: 1, ToIndex: 0})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(gw.updates) != 0 {
		t.Fatalf("reorder must not reach the gateway")
	}
	if !equalIDs(ctrl.Store().Board().Todo, "b", "a") {
		t.Fatalf("unexpected order %v", ids(ctrl.Store().Board().Todo))
	}
}

func TestMoveAcrossColumns(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))
	err := ctrl.MoveTask(context.Background(), Move{ID: "a", From: domain.StatusTodo, To: domain.StatusDone})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(gw.updates) != 1 || *gw.updates[0].Status != domain.StatusDone {
		t.Fatalf("unexpected patch: %#v", gw.updates)
	}
	b := ctrl.Store().Board()
	if len(b.Todo) != 0 || !equalIDs(b.Done, "a") {
		t.Fatalf("unexpected board: %+v", b)
	}
}

func TestMoveFailureReverts(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"), rec("b", "todo"))
	gw.updateErr = errors.New("timeout")

	err := ctrl.MoveTask(context.Background(), Move{ID: "a", From: domain.StatusTodo, To: domain.StatusInProgress})
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	b := ctrl.Store().Board()
	if !equalIDs(b.Todo, "a", "b") || len(b.InProgress) != 0 {
		t.Fatalf("move not reverted: %+v", b)
	}
	if n, _ := ctrl.Notification(); n.Message != "Failed to update task status" {
		t.Fatalf("unexpected notification %q", n.Message)
	}
}

func TestMoveValidation(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))
	err := ctrl.MoveTask(context.Background(), Move{ID: "a", From: domain.StatusTodo, To: "archived"})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	err = ctrl.MoveTask(context.Background(), Move{ID: "zzz", From: domain.StatusTodo, To: domain.StatusDone})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(gw.updates) != 0 {
		t.Fatalf("gateway must not be called")
	}
}

func TestDeleteTwoStep(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))

	if err := ctrl.ConfirmDelete(context.Background(), "a"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("expected ErrNotStaged without staged task, got %v", err)
	}
	if err := ctrl.StageDelete("missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := ctrl.StageDelete("a"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if len(gw.deletes) != 0 {
		t.Fatalf("staging must not delete")
	}
	ctrl.CancelDelete()
	if _, ok := ctrl.Staged(); ok {
		t.Fatalf("expected nothing staged")
	}

	_ = ctrl.StageDelete("a")
	if err := ctrl.ConfirmDelete(context.Background(), "a"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(gw.deletes) != 1 || gw.deletes[0] != "a" {
		t.Fatalf("unexpected deletes: %v", gw.deletes)
	}
	if _, ok := ctrl.Staged(); ok {
		t.Fatalf("staged task should be cleared")
	}
	if n, _ := ctrl.Notification(); n.Message != "Task deleted successfully" {
		t.Fatalf("unexpected notification %q", n.Message)
	}
	if ctrl.Store().Board().Len() != 0 {
		t.Fatalf("task should leave with the snapshot")
	}
}

func TestConfirmDeleteOnlyDeletesConfirmedTask(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"), rec("b", "todo"))
	ctx := context.Background()

	_ = ctrl.StageDelete("a")
	_ = ctrl.StageDelete("b")
	if err := ctrl.ConfirmDelete(ctx, "a"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("expected ErrNotStaged, got %v", err)
	}
	if len(gw.deletes) != 0 {
		t.Fatalf("unconfirmed task deleted: %v", gw.deletes)
	}
	if id, ok := ctrl.Staged(); !ok || id != "b" {
		t.Fatalf("expected b to stay staged, got %q", id)
	}

	if err := ctrl.ConfirmDelete(ctx, "b"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(gw.deletes) != 1 || gw.deletes[0] != "b" {
		t.Fatalf("unexpected deletes: %v", gw.deletes)
	}
	if err := ctrl.ConfirmDelete(ctx, "b"); !errors.Is(err, ErrNotStaged) {
		t.Fatalf("second confirm must not delete again, got %v", err)
	}
	if len(gw.deletes) != 1 {
		t.Fatalf("unexpected deletes: %v", gw.deletes)
	}
}

func TestDeleteFailureKeepsStaged(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))
	gw.deleteErr = errors.New("boom")
	_ = ctrl.StageDelete("a")
	if err := ctrl.ConfirmDelete(context.Background(), "a"); err == nil {
		t.Fatalf("expected error")
	}
	if id, ok := ctrl.Staged(); !ok || id != "a" {
		t.Fatalf("task should stay staged")
	}
	if n, _ := ctrl.Notification(); n.Message != "Failed to delete task" {
		t.Fatalf("unexpected notification %q", n.Message)
	}
}

func TestNotificationExpires(t *testing.T) {
	ctrl, _, clk := newTestController(t, rec("a", "todo"))
	desc := "d"
	_ = ctrl.EditTask(context.Background(), "a", EditFields{Description: &desc})

	clk.now = clk.now.Add(NotificationTTL - time.Millisecond)
	if _, ok := ctrl.Notification(); !ok {
		t.Fatalf("notification should still be visible")
	}
	clk.now = clk.now.Add(time.Millisecond)
	if _, ok := ctrl.Notification(); ok {
		t.Fatalf("notification should have expired")
	}
}

func TestSuccessClearsLastError(t *testing.T) {
	ctrl, gw, _ := newTestController(t, rec("a", "todo"))
	gw.updateErr = errors.New("down")
	desc := "d"
	_ = ctrl.EditTask(context.Background(), "a", EditFields{Description: &desc})
	if ctrl.LastError() == nil {
		t.Fatalf("expected error state")
	}
	gw.updateErr = nil
	_ = ctrl.EditTask(context.Background(), "a", EditFields{Description: &desc})
	if ctrl.LastError() != nil {
		t.Fatalf("expected error state cleared")
	}
}

func TestUnauthenticatedSession(t *testing.T) {
	gw := newFakeGateway()
	ctrl := NewController(StaticSession{}, gw, NewStore(nil, nil))
	ctx := context.Background()
	desc := "d"

	checks := map[string]error{}
	_, checks["create"] = ctrl.CreateTask(ctx, "t", "", deadline)
	checks["edit"] = ctrl.EditTask(ctx, "a", EditFields{Description: &desc})
	checks["move"] = ctrl.MoveTask(ctx, Move{ID: "a", From: domain.StatusTodo, To: domain.StatusDone})
	checks["stage"] = ctrl.StageDelete("a")
	checks["confirm"] = ctrl.ConfirmDelete(ctx, "a")
	_, checks["chat"] = ctrl.SendMessage(ctx, "hi")
	for op, err := range checks {
		if !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("%s: expected ErrUnauthenticated, got %v", op, err)
		}
	}
	if len(gw.creates)+len(gw.updates)+len(gw.deletes) != 0 {
		t.Fatalf("gateway must not be called")
	}
}

func TestBoardLifecycle(t *testing.T) {
	ctrl, _, clk := newTestController(t)
	ctx := context.Background()

	id, err := ctrl.CreateTask(ctx, "Write report", "", clk.now.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b := ctrl.Store().Board()
	if !equalIDs(b.Todo, id) {
		t.Fatalf("expected task in todo: %+v", b)
	}
	if got := domain.Classify(b.Todo[0].Deadline, b.Todo[0].Status, clk.now); got != domain.DerivedWarning {
		t.Fatalf("expected warning, got %s", got)
	}

	if err := ctrl.MoveTask(ctx, Move{ID: id, From: domain.StatusTodo, To: domain.StatusInProgress}); err != nil {
		t.Fatalf("move to inProgress: %v", err)
	}
	b = ctrl.Store().Board()
	if !equalIDs(b.InProgress, id) || len(b.Todo) != 0 {
		t.Fatalf("expected task in inProgress: %+v", b)
	}
	if b.InProgress[0].Status != domain.StatusInProgress {
		t.Fatalf("expected status inProgress, got %s", b.InProgress[0].Status)
	}
	if got := domain.Classify(b.InProgress[0].Deadline, b.InProgress[0].Status, clk.now); got != domain.DerivedWarning {
		t.Fatalf("expected warning in progress, got %s", got)
	}

	if err := ctrl.MoveTask(ctx, Move{ID: id, From: domain.StatusInProgress, To: domain.StatusDone}); err != nil {
		t.Fatalf("move: %v", err)
	}
	b = ctrl.Store().Board()
	if !equalIDs(b.Done, id) || len(b.InProgress) != 0 {
		t.Fatalf("expected task in done: %+v", b)
	}
	if got := domain.Classify(b.Done[0].Deadline, b.Done[0].Status, clk.now); got != domain.DerivedDone {
		t.Fatalf("expected done, got %s", got)
	}
	if got := domain.Filter(b, domain.FilterPending); got.Len() != 0 {
		t.Fatalf("pending filter should be empty")
	}
	if got := domain.Filter(b, domain.FilterCompleted); !equalIDs(got.Done, id) {
		t.Fatalf("completed filter should keep the task")
	}

	if err := ctrl.StageDelete(id); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := ctrl.ConfirmDelete(ctx, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ctrl.Store().Board().Len() != 0 {
		t.Fatalf("expected empty board")
	}
}
