package runtime

import (
	"fmt"
	"strings"
)

// ContainerSpec describes how a task's container should be created.
type ContainerSpec struct {
	// TaskID is the owning task's id; the container name is derived from it
	// so re-running the same task targets the same logical container slot.
	TaskID string
	// Name is a human-readable label attached to the container.
	Name string
	// Image is the container image reference (e.g. "nginx:latest").
	Image string
	// Command optionally overrides the image's entrypoint arguments.
	Command []string
	// Env holds environment variables to inject.
	Env map[string]string
	// Ports are "hostPort:containerPort" mappings.
	Ports []string
	// Volumes are "hostPath:containerPath" mounts.
	Volumes []string
}

// ContainerState mirrors the runtime's container states.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateExited   ContainerState = "exited"
	StateCreated  ContainerState = "created"
	StatePaused   ContainerState = "paused"
	StateRemoving ContainerState = "removing"
	StateDead     ContainerState = "dead"
	StateUnknown  ContainerState = "unknown"
)

// ContainerSnapshot is ground truth about a container at the instant of an
// inspect. It is never cached beyond a single reconciliation step.
type ContainerSnapshot struct {
	ID    string
	State ContainerState
	Name  string
	Image string
}

// Running reports whether the snapshot shows a live container.
func (s *ContainerSnapshot) Running() bool {
	return s != nil && s.State == StateRunning
}

// ContainerNameFor returns the stable container name for a task id.
func ContainerNameFor(taskID string) string {
	return "dockhand-task-" + taskID
}

// ParseState maps a runtime-reported state string to a ContainerState.
func ParseState(s string) ContainerState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StateRunning
	case "exited", "stopped":
		return StateExited
	case "created":
		return StateCreated
	case "paused":
		return StatePaused
	case "removing":
		return StateRemoving
	case "dead":
		return StateDead
	default:
		return StateUnknown
	}
}

// InvocationError is a failed runtime invocation: a non-zero exit or a
// launch failure, with the captured error stream attached.
type InvocationError struct {
	// Op is the lifecycle operation that failed ("run", "stop", ...).
	Op string
	// ExitCode is the subprocess exit status, or -1 when the process could
	// not be launched at all.
	ExitCode int
	// Stderr is the captured error stream, trimmed.
	Stderr string
	// Err is the underlying exec error, if any.
	Err error
}

func (e *InvocationError) Error() string {
	msg := fmt.Sprintf("docker %s failed (exit %d)", e.Op, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil && e.Stderr == "" {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvocationError) Unwrap() error { return e.Err }
