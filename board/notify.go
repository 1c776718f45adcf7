package board

import (
	"sync"
	"time"
)

// NotificationTTL is how long a transient notification stays visible.
const NotificationTTL = 3 * time.Second

const (
	msgMoveFailed    = "Failed to update task status"
	msgCreateFailed  = "Failed to add task"
	msgEditSucceeded = "Task updated successfully"
	msgEditFailed    = "Failed to update task"
	msgDeleted       = "Task deleted successfully"
	msgDeleteFailed  = "Failed to delete task"
)

// Notification is a short message shown to the user after an operation.
type Notification struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type notifications struct {
	now func() time.Time

	mu      sync.Mutex
	current Notification
}

func (n *notifications) show(message string) {
	n.mu.Lock()
	n.current = Notification{Message: message, ExpiresAt: n.now().Add(NotificationTTL)}
	n.mu.Unlock()
}

// active returns the current notification unless it has expired.
func (n *notifications) active() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current.Message == "" || !n.now().Before(n.current.ExpiresAt) {
		return Notification{}, false
	}
	return n.current, true
}
