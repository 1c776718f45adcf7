package domain

// FilterMode selects which columns of the board are visible.
type FilterMode string

const (
	FilterAll       FilterMode = "all"
	FilterPending   FilterMode = "pending"
	FilterCompleted FilterMode = "completed"
)

// ParseFilterMode validates a filter mode. An empty value means FilterAll.
func ParseFilterMode(raw string) (FilterMode, bool) {
	switch FilterMode(raw) {
	case "", FilterAll:
		return FilterAll, true
	case FilterPending, FilterCompleted:
		return FilterMode(raw), true
	}
	return "", false
}

// Filter returns a fresh board holding the tasks visible under mode.
// The input board is never modified.
func Filter(b Board, mode FilterMode) Board {
	var out Board
	for _, s := range Statuses {
		var kept []Task
		for _, t := range b.Bucket(s) {
			if visible(t, s, mode) {
				kept = append(kept, t)
			}
		}
		out.SetBucket(s, kept)
	}
	return out
}

func visible(t Task, column Status, mode FilterMode) bool {
	switch mode {
	case FilterAll:
		return true
	case FilterPending:
		return column != StatusDone && t.Status != StatusDone
	case FilterCompleted:
		return column == StatusDone && t.Status == StatusDone
	}
	return false
}
