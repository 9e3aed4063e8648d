package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/doc-digitizer/constants"
	"github.com/joseph-ayodele/doc-digitizer/internal/async"
)

type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskRejected   TaskStatus = "rejected"
)

// Task is the externally visible progress of one submitted file.
type Task struct {
	ID        string             `json:"task_id"`
	Filename  string             `json:"filename"`
	Kind      async.JobKind      `json:"kind"`
	Status    TaskStatus         `json:"status"`
	State     constants.DocState `json:"state,omitempty"`
	Score     int                `json:"score,omitempty"`
	Passed    bool               `json:"passed"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`

	path string
	temp bool
}

// TaskRegistry keeps every task of this process in memory.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: map[string]*Task{}}
}

func (r *TaskRegistry) Create(path, filename string, kind async.JobKind, temp bool) Task {
	now := time.Now().UTC()
	t := &Task{
		ID:        uuid.New().String(),
		Filename:  filename,
		Kind:      kind,
		Status:    TaskQueued,
		CreatedAt: now,
		UpdatedAt: now,
		path:      path,
		temp:      temp,
	}
	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()
	return *t
}

func (r *TaskRegistry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Update applies fn under the lock and returns the updated copy.
func (r *TaskRegistry) Update(id string, fn func(t *Task)) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return *t, true
}

func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
