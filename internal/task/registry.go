package task

import (
	"errors"
	"fmt"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

var (
	// ErrNotATask is returned when a value implements none of Setupable,
	// Timed or Checkable.
	ErrNotATask = errors.New("task implements no task capability")

	// ErrEmptyName is returned when a task has no name.
	ErrEmptyName = errors.New("task name is empty")
)

// Registry holds the tasks of one supervisor in registration order.
// Registering a name that is already present replaces the earlier task in
// its original slot, so a derived definition overrides a base one without
// duplicating it.
type Registry struct {
	order []string
	tasks map[string]domain.Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]domain.Task),
	}
}

// NewRegistryWithTasks creates a registry holding tasks in order.
func NewRegistryWithTasks(tasks ...domain.Task) (*Registry, error) {
	r := NewRegistry()
	if err := r.Extend(tasks...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds t, or replaces the task already registered under t.Name().
func (r *Registry) Register(t domain.Task) error {
	if t == nil {
		return ErrNotATask
	}
	name := t.Name()
	if name == "" {
		return ErrEmptyName
	}
	if !hasCapability(t) {
		return fmt.Errorf("%w: %s (%T)", ErrNotATask, name, t)
	}

	if _, exists := r.tasks[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tasks[name] = t
	return nil
}

// Extend registers every task in order.
func (r *Registry) Extend(tasks ...domain.Task) error {
	for _, t := range tasks {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a task by name.
func (r *Registry) Get(name string) (domain.Task, bool) {
	t, ok := r.tasks[name]
	return t, ok
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	return len(r.order)
}

// Names returns all task names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Tasks returns every registered task.
func (r *Registry) Tasks() []domain.Task {
	result := make([]domain.Task, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tasks[name])
	}
	return result
}

// SetupTasks returns the tasks with startup work.
func (r *Registry) SetupTasks() []domain.Setupable {
	var result []domain.Setupable
	for _, name := range r.order {
		if t, ok := r.tasks[name].(domain.Setupable); ok {
			result = append(result, t)
		}
	}
	return result
}

// TimeTasks returns the tasks run on every tick.
func (r *Registry) TimeTasks() []domain.Timed {
	var result []domain.Timed
	for _, name := range r.order {
		if t, ok := r.tasks[name].(domain.Timed); ok {
			result = append(result, t)
		}
	}
	return result
}

// CheckTasks returns the tasks that validate output lines.
func (r *Registry) CheckTasks() []domain.Checkable {
	var result []domain.Checkable
	for _, name := range r.order {
		if t, ok := r.tasks[name].(domain.Checkable); ok {
			result = append(result, t)
		}
	}
	return result
}

func hasCapability(t domain.Task) bool {
	switch t.(type) {
	case domain.Setupable, domain.Timed, domain.Checkable:
		return true
	}
	return false
}
