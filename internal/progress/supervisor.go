package progress

import (
	"fmt"
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of one supervised background task
// (§9: "a supervised task set that records {startedAt, completedAt,
// status, error?} and prevents overlapping starts").
type TaskStatus string

const (
	TaskIdle    TaskStatus = "idle"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "error"
)

// TaskState is one named background task's current lifecycle record.
type TaskState struct {
	Name        string
	Status      TaskStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

// Supervisor replaces the ad-hoc "fire-and-forget goroutine" pattern with
// a registry of named background tasks, each of which can only be running
// once at a time (§9).
type Supervisor struct {
	mu    sync.Mutex
	tasks map[string]*TaskState
}

func NewSupervisor() *Supervisor {
	return &Supervisor{tasks: make(map[string]*TaskState)}
}

// TryStart marks name as running and returns true, or returns false
// without changing state if name is already running — callers use this
// to report "in_progress" and return rather than blocking (§7.3).
func (s *Supervisor) TryStart(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.tasks[name]; ok && st.Status == TaskRunning {
		return false
	}
	s.tasks[name] = &TaskState{Name: name, Status: TaskRunning, StartedAt: time.Now()}
	return true
}

// Finish records the outcome of a task started with TryStart.
func (s *Supervisor) Finish(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[name]
	if !ok {
		st = &TaskState{Name: name}
		s.tasks[name] = st
	}
	st.CompletedAt = time.Now()
	if err != nil {
		st.Status = TaskFailed
		st.Error = err.Error()
	} else {
		st.Status = TaskSuccess
		st.Error = ""
	}
}

// Run is a convenience wrapper: it calls TryStart, and if successful runs
// fn synchronously (the caller decides whether to invoke it in its own
// goroutine), recording the outcome via Finish. It returns false if
// another run of name was already in progress.
func (s *Supervisor) Run(name string, fn func() error) (started bool) {
	if !s.TryStart(name) {
		return false
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	s.Finish(name, err)
	return true
}

// State returns a copy of name's current lifecycle record.
func (s *Supervisor) State(name string) (TaskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[name]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}

// All returns a snapshot of every known task's state.
func (s *Supervisor) All() []TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskState, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, *st)
	}
	return out
}
