// Package runtime defines the container runtime abstraction used by the
// orchestrator and the reconciler.
package runtime

import "context"

// Runtime issues lifecycle commands against the container runtime. It is the
// only place that knows the runtime's command syntax and output format.
type Runtime interface {
	// Run creates and starts a detached container from the given spec and
	// returns the runtime-assigned container id.
	Run(ctx context.Context, spec ContainerSpec) (string, error)

	// Stop gracefully stops the container.
	Stop(ctx context.Context, containerID string) error

	// Remove force-removes the container. Removing an already-absent
	// container is not an error.
	Remove(ctx context.Context, containerID string) error

	// Inspect returns the container's ground-truth snapshot, or (nil, nil)
	// when the container unambiguously does not exist. Errors are reserved
	// for transport or command failures.
	Inspect(ctx context.Context, containerID string) (*ContainerSnapshot, error)

	// Logs returns the most recent tail lines of the container's combined
	// output. No streaming.
	Logs(ctx context.Context, containerID string, tail int) (string, error)
}
