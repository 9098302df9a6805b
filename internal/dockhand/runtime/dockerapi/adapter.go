// Package dockerapi implements runtime.Runtime against the Docker Engine
// API. Selected with runtime.driver "api"; behaves identically to the CLI
// driver but talks to the daemon socket directly.
package dockerapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"dockhand/internal/dockhand/runtime"
)

const (
	labelManagedBy = "dockhand.managed-by"
	labelTaskID    = "dockhand.task-id"
	labelTaskName  = "dockhand.task-name"
	managedByValue = "dockhand"

	// stopGrace is how long the daemon waits for a graceful stop before
	// SIGKILL.
	stopGrace = 10 * time.Second
)

// Adapter talks to the Docker Engine API.
type Adapter struct {
	client  *dockerclient.Client
	timeout time.Duration
}

// New creates an API driver. Uses DOCKER_HOST or the default socket path.
// timeout bounds each operation; zero means the CLI driver's default.
func New(timeout time.Duration) (*Adapter, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{client: cli, timeout: timeout}, nil
}

// Run creates and starts a detached container for the task.
func (a *Adapter) Run(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("dockerapi: spec.Image is required")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	exposed, bindings, err := nat.ParsePortSpecs(spec.Ports)
	if err != nil {
		return "", fmt.Errorf("parse port specs: %w", err)
	}

	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelTaskID:    spec.TaskID,
	}
	if spec.Name != "" {
		labels[labelTaskName] = spec.Name
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		Env:          envSlice(spec.Env),
		Labels:       labels,
		ExposedPorts: exposed,
	}
	// Docker's own restart policy stays unset: keep-alive is the
	// reconciler's job, and a daemon-level policy would race it.
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Volumes,
	}

	name := runtime.ContainerNameFor(spec.TaskID)
	resp, err := a.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := a.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// The created-but-not-started container would squat on the name slot.
		_ = a.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

// Stop gracefully stops the container.
func (a *Adapter) Stop(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	grace := int(stopGrace.Seconds())
	if err := a.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	return nil
}

// Remove force-removes the container; absence is success.
func (a *Adapter) Remove(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

// Inspect returns the container snapshot, or (nil, nil) when the daemon
// reports no such container.
func (a *Adapter) Inspect(ctx context.Context, containerID string) (*runtime.ContainerSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	inspect, err := a.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	snap := &runtime.ContainerSnapshot{ID: inspect.ID}
	if inspect.State != nil {
		snap.State = runtime.ParseState(inspect.State.Status)
	}
	if inspect.Name != "" {
		snap.Name = inspect.Name[1:] // daemon prefixes names with "/"
	}
	if inspect.Config != nil {
		snap.Image = inspect.Config.Image
	}
	return snap, nil
}

// Logs returns the last tail lines of combined output.
func (a *Adapter) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	rc, err := a.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", fmt.Errorf("container logs %s: %w", containerID, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read logs %s: %w", containerID, err)
	}

	// Non-TTY containers multiplex both streams; demux into one combined
	// buffer. TTY containers send raw bytes, which stdcopy rejects.
	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, bytes.NewReader(raw)); err != nil {
		return string(raw), nil
	}
	return combined.String(), nil
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
