package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// Status is the persisted column of a task.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inProgress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = [...]Status{StatusTodo, StatusInProgress, StatusDone}

// ParseStatus validates a raw status value coming from the gateway or a client.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusTodo, StatusInProgress, StatusDone:
		return Status(raw), true
	}
	return "", false
}

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Record is a task document as stored by the gateway. Status is kept raw so
// documents with an unknown column can be detected when the board is rebuilt.
type Record struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Task converts the record into a board task.
func (r Record) Task() (Task, error) {
	status, ok := ParseStatus(r.Status)
	if !ok {
		return Task{}, &MalformedRecordError{ID: r.ID, Status: r.Status}
	}
	return Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Deadline:    r.Deadline,
		Status:      status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// NewTask carries the client-authored fields of a task creation.
type NewTask struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	Status      Status    `json:"status"`
}

// Patch carries a partial task update. Nil fields are left untouched.
type Patch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Status      *Status    `json:"status,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Deadline == nil && p.Status == nil
}

// Apply returns a copy of rec with the patch applied.
func (p Patch) Apply(rec Record) Record {
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.Deadline != nil {
		rec.Deadline = *p.Deadline
	}
	if p.Status != nil {
		rec.Status = string(*p.Status)
	}
	return rec
}

// Board holds the three ordered columns.
type Board struct {
	Todo       []Task `json:"todo"`
	InProgress []Task `json:"inProgress"`
	Done       []Task `json:"done"`
}

// Bucket returns the column for the given status.
func (b Board) Bucket(s Status) []Task {
	switch s {
	case StatusTodo:
		return b.Todo
	case StatusInProgress:
		return b.InProgress
	case StatusDone:
		return b.Done
	}
	return nil
}

// SetBucket replaces the column for the given status.
func (b *Board) SetBucket(s Status, tasks []Task) {
	switch s {
	case StatusTodo:
		b.Todo = tasks
	case StatusInProgress:
		b.InProgress = tasks
	case StatusDone:
		b.Done = tasks
	}
}

// Len returns the number of tasks on the board.
func (b Board) Len() int {
	return len(b.Todo) + len(b.InProgress) + len(b.Done)
}

// Clone returns a deep copy of the board. Empty columns stay nil.
func (b Board) Clone() Board {
	return Board{
		Todo:       cloneTasks(b.Todo),
		InProgress: cloneTasks(b.InProgress),
		Done:       cloneTasks(b.Done),
	}
}

// MarshalJSON always renders the three columns as arrays.
func (b Board) MarshalJSON() ([]byte, error) {
	type columns Board
	out := b
	for _, s := range Statuses {
		if out.Bucket(s) == nil {
			out.SetBucket(s, []Task{})
		}
	}
	return sonic.Marshal(columns(out))
}

func cloneTasks(tasks []Task) []Task {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// Snapshot is the full set of a user's task records, tagged with the
// gateway revision it was read at. Revisions increase with every write.
type Snapshot struct {
	Revision int64    `json:"revision"`
	Records  []Record `json:"records"`
}
