// Package task holds the task model and the authoritative task store.
//
// A Task is a desired + observed workload record: what the user asked to run
// (image, command, ports, volumes, env) plus what the orchestrator last
// observed about it (status, container reference). The store owns the only
// in-memory representation and snapshots it wholesale to disk.
package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusStopped is the initial state and the state after a clean stop.
	StatusStopped Status = "stopped"
	// StatusPending marks a start attempt in flight. It is persisted, so a
	// crash mid-start is observable after a reload.
	StatusPending Status = "pending"
	// StatusRunning means the last observation saw a live container.
	StatusRunning Status = "running"
	// StatusError means the last start attempt failed.
	StatusError Status = "error"
)

// ErrNotFound is returned when no task with the requested id exists.
var ErrNotFound = errors.New("task not found")

// ValidationError reports a malformed create request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task spec: %s %s", e.Field, e.Reason)
}

// Task is a user-defined container workload tracked by the orchestrator,
// independent of whether a container currently backs it.
type Task struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Ports are runtime-native "hostPort:containerPort" mappings.
	Ports []string `json:"ports,omitempty"`
	// Volumes are "hostPath:containerPath" mount specs.
	Volumes []string `json:"volumes,omitempty"`
	Status  Status   `json:"status"`
	// ContainerID is set once a start attempt has been issued and is only
	// cleared by removing the task.
	ContainerID string    `json:"containerId,omitempty"`
	AutoRestart bool      `json:"autoRestart"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Spec is the user-supplied part of a task, sans id/status/timestamps.
type Spec struct {
	Name        string            `json:"name"`
	Image       string            `json:"image"`
	Command     []string          `json:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Ports       []string          `json:"ports,omitempty"`
	Volumes     []string          `json:"volumes,omitempty"`
	AutoRestart bool              `json:"autoRestart"`
}

// Validate checks the required fields of a create request.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(s.Image) == "" {
		return &ValidationError{Field: "image", Reason: "must not be empty"}
	}
	return nil
}

// clone returns a deep copy so callers can never mutate the stored record
// without going through the store.
func (t *Task) clone() Task {
	out := *t
	if t.Command != nil {
		out.Command = append([]string(nil), t.Command...)
	}
	if t.Ports != nil {
		out.Ports = append([]string(nil), t.Ports...)
	}
	if t.Volumes != nil {
		out.Volumes = append([]string(nil), t.Volumes...)
	}
	if t.Env != nil {
		out.Env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			out.Env[k] = v
		}
	}
	return out
}
