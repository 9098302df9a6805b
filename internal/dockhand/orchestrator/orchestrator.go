// Package orchestrator is the single entry point the boundary layer uses to
// act on tasks. It composes the task store and the container runtime into
// atomic-looking lifecycle operations: every state transition is persisted
// and every runtime side effect is recorded in the event log.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5/middleware"

	"dockhand/internal/dockhand/events"
	"dockhand/internal/dockhand/runtime"
	"dockhand/internal/dockhand/task"
)

// ErrNoContainer is returned by Stop and Logs when the task has never been
// started (no container reference).
var ErrNoContainer = errors.New("task has no container")

// Orchestrator implements the task lifecycle state machine over a store and
// a runtime. Operations on the same task id are serialized by a per-id
// mutex held across the whole read → runtime call → persist sequence;
// different ids proceed concurrently.
type Orchestrator struct {
	store   *task.Store
	runtime runtime.Runtime
	events  *events.Log

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator. log may be nil (events are then dropped).
func New(store *task.Store, rt runtime.Runtime, log *events.Log) *Orchestrator {
	return &Orchestrator{
		store:   store,
		runtime: rt,
		events:  log,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Create validates and inserts a new stopped task.
func (o *Orchestrator) Create(ctx context.Context, spec task.Spec) (task.Task, error) {
	t, err := o.store.Create(spec)
	if err != nil {
		return task.Task{}, err
	}
	o.record(ctx, t.ID, "create", events.OutcomeOK, "image "+t.Image)
	return t, nil
}

// Get returns the task with the given id.
func (o *Orchestrator) Get(id string) (task.Task, error) {
	return o.store.Get(id)
}

// List returns all tasks.
func (o *Orchestrator) List() []task.Task {
	return o.store.List()
}

// Start drives stopped/error → pending → running|error. The pending state
// is persisted before the runtime is invoked, so a crash mid-start is
// observable after a reload. Exactly one persist follows the runtime call,
// whatever its outcome. Runtime failures are never retried here.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	unlock := o.lockTask(id)
	defer unlock()

	t, err := o.store.Get(id)
	if err != nil {
		return err
	}

	if _, err := o.store.Update(id, func(t *task.Task) {
		t.Status = task.StatusPending
	}); err != nil {
		return err
	}

	// The container name is a stable function of the task id, so a previous
	// dead container squats on the name slot until it is cleared.
	if t.ContainerID != "" {
		if err := o.runtime.Remove(ctx, t.ContainerID); err != nil {
			slog.Warn("start: could not clear previous container",
				"task", id, "container", t.ContainerID, "err", err)
		}
	}

	containerID, runErr := o.runtime.Run(ctx, containerSpec(t))
	if runErr != nil {
		if _, err := o.store.Update(id, func(t *task.Task) {
			t.Status = task.StatusError
		}); err != nil {
			slog.Error("start: persist error status failed", "task", id, "err", err)
		}
		o.record(ctx, id, "start", events.OutcomeFailed, runErr.Error())
		return fmt.Errorf("start task %s: %w", id, runErr)
	}

	if _, err := o.store.Update(id, func(t *task.Task) {
		t.ContainerID = containerID
		t.Status = task.StatusRunning
	}); err != nil {
		return err
	}
	o.record(ctx, id, "start", events.OutcomeOK, "container "+containerID)
	return nil
}

// Stop drives running → stopped. It requires a container reference; on a
// runtime failure the stored status is left unchanged and the failure is
// surfaced to the caller.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	unlock := o.lockTask(id)
	defer unlock()

	t, err := o.store.Get(id)
	if err != nil {
		return err
	}
	if t.ContainerID == "" {
		return fmt.Errorf("task %s: %w", id, ErrNoContainer)
	}

	if err := o.runtime.Stop(ctx, t.ContainerID); err != nil {
		o.record(ctx, id, "stop", events.OutcomeFailed, err.Error())
		return fmt.Errorf("stop task %s: %w", id, err)
	}

	if _, err := o.store.Update(id, func(t *task.Task) {
		t.Status = task.StatusStopped
	}); err != nil {
		return err
	}
	o.record(ctx, id, "stop", events.OutcomeOK, "")
	return nil
}

// Remove deletes the task. Stopping a running container and removing it
// from the runtime are best-effort by policy: their failures are collected,
// logged, and recorded, but never block deletion of the record.
func (o *Orchestrator) Remove(ctx context.Context, id string) error {
	unlock := o.lockTask(id)
	defer unlock()

	t, err := o.store.Get(id)
	if err != nil {
		return err
	}

	var subFailures []error
	if t.Status == task.StatusRunning && t.ContainerID != "" {
		if err := o.runtime.Stop(ctx, t.ContainerID); err != nil {
			subFailures = append(subFailures, fmt.Errorf("stop: %w", err))
		}
	}
	if t.ContainerID != "" {
		if err := o.runtime.Remove(ctx, t.ContainerID); err != nil {
			subFailures = append(subFailures, fmt.Errorf("remove: %w", err))
		}
	}

	if err := o.store.Delete(id); err != nil {
		return err
	}
	o.forgetLock(id)

	if len(subFailures) > 0 {
		joined := errors.Join(subFailures...)
		slog.Warn("remove: runtime cleanup incomplete", "task", id, "err", joined)
		o.record(ctx, id, "remove", events.OutcomeOK, "cleanup incomplete: "+joined.Error())
	} else {
		o.record(ctx, id, "remove", events.OutcomeOK, "")
	}
	return nil
}

// Logs returns the last tail lines of the task's container output.
func (o *Orchestrator) Logs(ctx context.Context, id string, tail int) (string, error) {
	t, err := o.store.Get(id)
	if err != nil {
		return "", err
	}
	if t.ContainerID == "" {
		return "", fmt.Errorf("task %s: %w", id, ErrNoContainer)
	}
	logs, err := o.runtime.Logs(ctx, t.ContainerID, tail)
	if err != nil {
		return "", fmt.Errorf("logs for task %s: %w", id, err)
	}
	return logs, nil
}

// lockTask acquires the per-id mutex, creating it on first use.
func (o *Orchestrator) lockTask(id string) func() {
	o.mu.Lock()
	m, ok := o.locks[id]
	if !ok {
		m = &sync.Mutex{}
		o.locks[id] = m
	}
	o.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// forgetLock drops a removed task's mutex. Task ids are never reused, so
// the entry would otherwise linger forever.
func (o *Orchestrator) forgetLock(id string) {
	o.mu.Lock()
	delete(o.locks, id)
	o.mu.Unlock()
}

func (o *Orchestrator) record(ctx context.Context, taskID, action, outcome, detail string) {
	if o.events == nil {
		return
	}
	ev := events.Event{
		TraceID: middleware.GetReqID(ctx),
		TaskID:  taskID,
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
	}
	if err := o.events.Record(ctx, ev); err != nil {
		slog.Warn("event log write failed", "task", taskID, "action", action, "err", err)
	}
}

func containerSpec(t task.Task) runtime.ContainerSpec {
	return runtime.ContainerSpec{
		TaskID:  t.ID,
		Name:    t.Name,
		Image:   t.Image,
		Command: t.Command,
		Env:     t.Env,
		Ports:   t.Ports,
		Volumes: t.Volumes,
	}
}
