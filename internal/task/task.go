// Package task tracks long-running operations so a front end can show them.
package task

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Task is a progress-reporting handle. Its subtitle is mutated by the
// operation that owns it.
type Task struct {
	registry *Registry
	title    string
	subtitle string
	mu       sync.Mutex
	id       uint64
}

// New creates a detached task with the given title.
func New(title string) *Task {
	return &Task{title: title}
}

// ID returns the registry id, or 0 if the task was never added.
func (t *Task) ID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Title returns the task title.
func (t *Task) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.title
}

// Subtitle returns the current subtitle.
func (t *Task) Subtitle() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subtitle
}

// SetSubtitle updates the subtitle and notifies the owning registry.
func (t *Task) SetSubtitle(s string) {
	t.mu.Lock()
	changed := t.subtitle != s
	t.subtitle = s
	r := t.registry
	t.mu.Unlock()

	if changed && r != nil {
		r.notify(t)
	}
}

// Listener observes registry changes. removed is true when t left the registry.
type Listener func(t *Task, removed bool)

// Registry holds the tasks currently in flight.
type Registry struct {
	tasks     map[uint64]*Task
	listeners []Listener
	nextID    atomic.Uint64
	mu        sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uint64]*Task)}
}

// OnChange registers a listener invoked on every add, update and removal.
// Listeners run on the goroutine that caused the change.
func (r *Registry) OnChange(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Add registers t and returns its id.
func (r *Registry) Add(t *Task) uint64 {
	id := r.nextID.Add(1)

	t.mu.Lock()
	t.id = id
	t.registry = r
	t.mu.Unlock()

	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()

	r.notify(t)
	return id
}

// Remove drops the task with the given id. Unknown ids are ignored.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	delete(r.tasks, id)
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	if !ok {
		return
	}
	t.mu.Lock()
	t.registry = nil
	t.mu.Unlock()

	for _, l := range listeners {
		l(t, true)
	}
}

// Get returns the task with the given id.
func (r *Registry) Get(id uint64) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// List returns the in-flight tasks ordered by id.
func (r *Registry) List() []*Task {
	r.mu.Lock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) notify(t *Task) {
	r.mu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		l(t, false)
	}
}
