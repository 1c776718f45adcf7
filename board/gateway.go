// Package board holds the per-user board state and the operations a user can
// run against it: the snapshot-driven task store, the controller that turns
// user actions into gateway writes, and the scripted assistant chat.
package board

import (
	"context"

	"github.com/Modar-SAD/task-nest/domain"
)

// Gateway is the persistence service boards are synchronised with.
type Gateway interface {
	// Subscribe pushes the full current snapshot of the user's tasks on
	// every change. The returned function releases the subscription.
	Subscribe(ctx context.Context, userID string, onUpdate func(domain.Snapshot), onError func(error)) (func(), error)
	// Create stores a new task and returns the id assigned to it.
	Create(ctx context.Context, userID string, task domain.NewTask) (string, error)
	// Update merges patch into the task. Unknown ids yield a NotFoundError.
	Update(ctx context.Context, userID, id string, patch domain.Patch) error
	Delete(ctx context.Context, userID, id string) error
}

// Session identifies the user a board belongs to.
type Session interface {
	UserID() string
	Authenticated() bool
}

// StaticSession is a Session with fixed values.
type StaticSession struct {
	ID string
}

func (s StaticSession) UserID() string      { return s.ID }
func (s StaticSession) Authenticated() bool { return s.ID != "" }
