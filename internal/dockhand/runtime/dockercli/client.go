// Package dockercli implements runtime.Runtime by invoking the docker binary
// as a subprocess and parsing its output. It is the default driver: it needs
// nothing beyond a docker CLI on PATH and works against any daemon the CLI
// can reach.
package dockercli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"dockhand/internal/dockhand/runtime"
)

const (
	labelManagedBy = "dockhand.managed-by"
	labelTaskID    = "dockhand.task-id"
	labelTaskName  = "dockhand.task-name"
	managedByValue = "dockhand"

	// inspectFormat keeps parsing trivial: one line, pipe-separated fields.
	inspectFormat = "{{.Id}}|{{.State.Status}}|{{.Name}}|{{.Config.Image}}"

	// DefaultTimeout bounds a single docker invocation. Generous enough for
	// a cold image pull on run, short enough to unstick a wedged daemon.
	DefaultTimeout = 60 * time.Second
)

// Config holds options for the CLI driver.
type Config struct {
	// Binary is the docker executable. Defaults to "docker".
	Binary string
	// Timeout bounds each invocation. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Client invokes the docker CLI. Safe for concurrent use; each call spawns
// its own subprocess.
type Client struct {
	binary  string
	timeout time.Duration
}

// New creates a CLI driver with defaults applied.
func New(cfg Config) *Client {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{binary: cfg.Binary, timeout: cfg.Timeout}
}

// Run starts a detached container and returns the id docker prints.
func (c *Client) Run(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("dockercli: spec.Image is required")
	}
	stdout, _, err := c.exec(ctx, "run", runArgs(spec)...)
	if err != nil {
		return "", err
	}
	id := firstLine(stdout)
	if id == "" {
		return "", fmt.Errorf("dockercli: docker run printed no container id")
	}
	return id, nil
}

// Stop gracefully stops the container.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	_, _, err := c.exec(ctx, "stop", "stop", containerID)
	return err
}

// Remove force-removes the container. An already-absent container is
// treated as success.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	_, _, err := c.exec(ctx, "remove", "rm", "-f", containerID)
	if err != nil && isNotFound(err) {
		return nil
	}
	return err
}

// Inspect returns the container snapshot, or (nil, nil) when docker reports
// the container does not exist.
func (c *Client) Inspect(ctx context.Context, containerID string) (*runtime.ContainerSnapshot, error) {
	stdout, _, err := c.exec(ctx, "inspect", "inspect", "--format", inspectFormat, containerID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseInspectLine(firstLine(stdout))
}

// Logs returns the last tail lines of the container's combined output.
// docker logs replays the container's stdout and stderr on the matching
// streams, so both captures are part of the result.
func (c *Client) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	if tail <= 0 {
		tail = 100
	}
	stdout, stderr, err := c.exec(ctx, "logs", "logs", "--tail", strconv.Itoa(tail), containerID)
	if err != nil {
		return "", err
	}
	if stderr == "" {
		return stdout, nil
	}
	if stdout == "" {
		return stderr, nil
	}
	return stdout + stderr, nil
}

// exec runs the docker binary under the configured deadline, capturing
// stdout and stderr separately. A non-zero exit (or a launch failure)
// becomes an InvocationError carrying the captured error stream.
func (c *Client) exec(ctx context.Context, op string, args ...string) (string, string, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if cctx.Err() != nil {
			err = fmt.Errorf("%w (after %s)", cctx.Err(), c.timeout)
		}
		return "", "", &runtime.InvocationError{
			Op:       op,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}
	return stdout.String(), stderr.String(), nil
}

// runArgs builds the argument vector for docker run. Env vars are emitted in
// sorted key order so the invocation is deterministic.
func runArgs(spec runtime.ContainerSpec) []string {
	args := []string{
		"run", "-d",
		"--name", runtime.ContainerNameFor(spec.TaskID),
		"--label", labelManagedBy + "=" + managedByValue,
		"--label", labelTaskID + "=" + spec.TaskID,
	}
	if spec.Name != "" {
		args = append(args, "--label", labelTaskName+"="+spec.Name)
	}
	for _, p := range spec.Ports {
		args = append(args, "-p", p)
	}
	for _, v := range spec.Volumes {
		args = append(args, "-v", v)
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return args
}

func parseInspectLine(line string) (*runtime.ContainerSnapshot, error) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return nil, fmt.Errorf("dockercli: unexpected inspect output %q", line)
	}
	return &runtime.ContainerSnapshot{
		ID:    parts[0],
		State: runtime.ParseState(parts[1]),
		Name:  strings.TrimPrefix(parts[2], "/"),
		Image: parts[3],
	}, nil
}

// isNotFound classifies an invocation failure as "container does not exist"
// from the daemon's stderr wording, which is stable across docker versions.
func isNotFound(err error) bool {
	var inv *runtime.InvocationError
	if !errors.As(err, &inv) {
		return false
	}
	msg := strings.ToLower(inv.Stderr)
	return strings.Contains(msg, "no such object") ||
		strings.Contains(msg, "no such container")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
