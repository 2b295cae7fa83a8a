package tracing

// A TaskStep represents a milestone in the processing of task
type TaskStep struct {
	Time VTimeInSec `json:"time"`
	What string     `json:"what"`
}

// A Task is a unit of work that a component performs, such as resolving one
// page fault or evicting one frame.
type Task struct {
	ID        string      `json:"id"`
	ParentID  string      `json:"parent_id"`
	Kind      string      `json:"kind"`
	What      string      `json:"what"`
	Where     string      `json:"where"`
	StartTime VTimeInSec  `json:"start_time"`
	EndTime   VTimeInSec  `json:"end_time"`
	Steps     []TaskStep  `json:"steps"`
	Detail    interface{} `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// KindFilter returns a filter that selects the tasks of one kind.
func KindFilter(kind string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind
	}
}
