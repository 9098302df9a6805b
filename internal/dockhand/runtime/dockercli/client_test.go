package dockercli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"dockhand/internal/dockhand/runtime"
)

func TestRunArgs(t *testing.T) {
	spec := runtime.ContainerSpec{
		TaskID:  "t1",
		Name:    "web",
		Image:   "nginx:latest",
		Command: []string{"nginx", "-g", "daemon off;"},
		Env:     map[string]string{"B": "2", "A": "1"},
		Ports:   []string{"8080:80"},
		Volumes: []string{"/data:/usr/share/nginx/html"},
	}

	got := runArgs(spec)
	want := []string{
		"run", "-d",
		"--name", "dockhand-task-t1",
		"--label", "dockhand.managed-by=dockhand",
		"--label", "dockhand.task-id=t1",
		"--label", "dockhand.task-name=web",
		"-p", "8080:80",
		"-v", "/data:/usr/share/nginx/html",
		"-e", "A=1",
		"-e", "B=2",
		"nginx:latest",
		"nginx", "-g", "daemon off;",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("runArgs mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestRunArgs_Minimal(t *testing.T) {
	got := runArgs(runtime.ContainerSpec{TaskID: "t2", Image: "busybox"})
	want := []string{
		"run", "-d",
		"--name", "dockhand-task-t2",
		"--label", "dockhand.managed-by=dockhand",
		"--label", "dockhand.task-id=t2",
		"busybox",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("runArgs mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestParseInspectLine(t *testing.T) {
	snap, err := parseInspectLine("abc123|running|/dockhand-task-t1|nginx:latest")
	if err != nil {
		t.Fatalf("parseInspectLine: %v", err)
	}
	if snap.ID != "abc123" {
		t.Errorf("id: got %q", snap.ID)
	}
	if snap.State != runtime.StateRunning {
		t.Errorf("state: got %q", snap.State)
	}
	if snap.Name != "dockhand-task-t1" {
		t.Errorf("name: got %q", snap.Name)
	}
	if snap.Image != "nginx:latest" {
		t.Errorf("image: got %q", snap.Image)
	}
}

func TestParseInspectLine_Garbage(t *testing.T) {
	if _, err := parseInspectLine("not inspect output"); err == nil {
		t.Error("expected an error for malformed inspect output")
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&runtime.InvocationError{Op: "inspect", ExitCode: 1, Stderr: "Error: No such object: abc"}, true},
		{&runtime.InvocationError{Op: "remove", ExitCode: 1, Stderr: "Error response from daemon: No such container: abc"}, true},
		{&runtime.InvocationError{Op: "stop", ExitCode: 1, Stderr: "Cannot connect to the Docker daemon"}, false},
		{errors.New("plain error"), false},
	}
	for _, tc := range cases {
		if got := isNotFound(tc.err); got != tc.want {
			t.Errorf("isNotFound(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

// fakeDocker writes a shell script standing in for the docker binary.
func fakeDocker(t *testing.T, script string) *Client {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return New(Config{Binary: path, Timeout: 5 * time.Second})
}

func TestRun_ReturnsContainerID(t *testing.T) {
	c := fakeDocker(t, `echo deadbeefcafe`)
	id, err := c.Run(context.Background(), runtime.ContainerSpec{TaskID: "t1", Image: "busybox"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if id != "deadbeefcafe" {
		t.Errorf("expected container id from stdout, got %q", id)
	}
}

func TestExec_FailureCarriesStderr(t *testing.T) {
	c := fakeDocker(t, `echo "Error response from daemon: boom" >&2; exit 125`)
	err := c.Stop(context.Background(), "abc")
	var inv *runtime.InvocationError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if inv.ExitCode != 125 {
		t.Errorf("exit code: got %d, want 125", inv.ExitCode)
	}
	if inv.Stderr != "Error response from daemon: boom" {
		t.Errorf("stderr: got %q", inv.Stderr)
	}
	if inv.Op != "stop" {
		t.Errorf("op: got %q", inv.Op)
	}
}

func TestInspect_NotFoundIsNil(t *testing.T) {
	c := fakeDocker(t, `echo "Error: No such object: abc" >&2; exit 1`)
	snap, err := c.Inspect(context.Background(), "abc")
	if err != nil {
		t.Fatalf("expected nil error for absent container, got %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
}

func TestRemove_AbsentIsSuccess(t *testing.T) {
	c := fakeDocker(t, `echo "Error: No such container: abc" >&2; exit 1`)
	if err := c.Remove(context.Background(), "abc"); err != nil {
		t.Errorf("expected idempotent remove, got %v", err)
	}
}

func TestLogs_CombinesStreams(t *testing.T) {
	c := fakeDocker(t, `echo "out line"; echo "err line" >&2`)
	logs, err := c.Logs(context.Background(), "abc", 100)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if logs != "out line\nerr line\n" {
		t.Errorf("combined logs: got %q", logs)
	}
}

func TestExec_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	c := New(Config{Binary: path, Timeout: 50 * time.Millisecond})

	start := time.Now()
	err := c.Stop(context.Background(), "abc")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("invocation was not bounded by the timeout (took %s)", elapsed)
	}
	var inv *runtime.InvocationError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvocationError, got %v", err)
	}
	if !errors.Is(inv.Err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped DeadlineExceeded, got %v", inv.Err)
	}
}
