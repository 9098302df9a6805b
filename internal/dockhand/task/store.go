package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the authoritative in-memory task map with wholesale JSON snapshot
// persistence. All methods are safe for concurrent use; the snapshot write
// happens while the lock is held so two updates to the same map can never
// interleave their persists.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	// order preserves insertion order for List and for deterministic
	// reconciler sweeps. Rebuilt from createdAt on reload, since the
	// persisted object carries no order of its own.
	order []string
	path  string

	now func() time.Time
}

// Open loads the snapshot at path if it exists and is well-formed, otherwise
// starts with an empty map. A malformed snapshot is logged by loadSnapshot
// and never fails startup.
func Open(path string) (*Store, error) {
	s := &Store{
		tasks: make(map[string]*Task),
		path:  path,
		now:   func() time.Time { return time.Now().UTC() },
	}
	tasks, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	for id, t := range tasks {
		tt := t
		s.tasks[id] = &tt
		s.order = append(s.order, id)
	}
	sort.Slice(s.order, func(i, j int) bool {
		a, b := s.tasks[s.order[i]], s.tasks[s.order[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return s, nil
}

// Create validates the spec, allocates a fresh id, inserts the task as
// stopped, and persists the snapshot.
func (s *Store) Create(spec Spec) (Task, error) {
	if err := spec.Validate(); err != nil {
		return Task{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t := &Task{
		ID:          uuid.New().String(),
		Name:        spec.Name,
		Image:       spec.Image,
		Command:     spec.Command,
		Env:         spec.Env,
		Ports:       spec.Ports,
		Volumes:     spec.Volumes,
		Status:      StatusStopped,
		AutoRestart: spec.AutoRestart,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)

	if err := s.saveLocked(); err != nil {
		return t.clone(), fmt.Errorf("persist created task: %w", err)
	}
	return t.clone(), nil
}

// Get returns a copy of the task with the given id.
func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t.clone(), nil
}

// List returns copies of all tasks in insertion order.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].clone())
	}
	return out
}

// Count returns the number of tracked tasks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Update applies mutate to the task, refreshes updatedAt, and persists the
// snapshot. The returned Task reflects the applied mutation even when the
// persist fails; the write error is reported so callers can surface it.
func (s *Store) Update(id string, mutate func(*Task)) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	mutate(t)
	t.UpdatedAt = s.now()

	if err := s.saveLocked(); err != nil {
		return t.clone(), fmt.Errorf("persist task %s: %w", id, err)
	}
	return t.clone(), nil
}

// Stage applies mutate like Update but does not persist. Callers batching
// several mutations (the reconciler's status sweep) follow up with Save to
// bound write volume to one snapshot per sweep.
func (s *Store) Stage(id string, mutate func(*Task)) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	mutate(t)
	t.UpdatedAt = s.now()
	return t.clone(), nil
}

// Save writes the current snapshot to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// Delete removes the task from the map and persists the snapshot.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(s.tasks, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("persist after delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) saveLocked() error {
	tasks := make(map[string]Task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t.clone()
	}
	return writeSnapshot(s.path, tasks, s.now())
}
