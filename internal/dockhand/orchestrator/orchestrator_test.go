package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"dockhand/internal/dockhand/events"
	"dockhand/internal/dockhand/orchestrator"
	"dockhand/internal/dockhand/runtime"
	"dockhand/internal/dockhand/task"
)

// fakeRuntime satisfies runtime.Runtime with scriptable outcomes.
type fakeRuntime struct {
	mu         sync.Mutex
	nextID     string
	runErr     error
	stopErr    error
	removeErr  error
	logsOutput string
	logsErr    error
	onRun      func(spec runtime.ContainerSpec)

	runCalls    int
	stopCalls   []string
	removeCalls []string
	containers  map[string]runtime.ContainerState
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		nextID:     "abc123",
		containers: make(map[string]runtime.ContainerState),
	}
}

func (f *fakeRuntime) Run(_ context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runCalls++
	if f.onRun != nil {
		f.onRun(spec)
	}
	if f.runErr != nil {
		return "", f.runErr
	}
	id := f.nextID
	if id == "" {
		id = fmt.Sprintf("cid-%d", f.runCalls)
	}
	f.containers[id] = runtime.StateRunning
	return id, nil
}

func (f *fakeRuntime) Stop(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, containerID)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.containers[containerID] = runtime.StateExited
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeCalls = append(f.removeCalls, containerID)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.containers, containerID)
	return nil
}

func (f *fakeRuntime) Inspect(_ context.Context, containerID string) (*runtime.ContainerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.containers[containerID]
	if !ok {
		return nil, nil
	}
	return &runtime.ContainerSnapshot{ID: containerID, State: state}, nil
}

func (f *fakeRuntime) Logs(_ context.Context, containerID string, tail int) (string, error) {
	if f.logsErr != nil {
		return "", f.logsErr
	}
	return f.logsOutput, nil
}

func newTestOrchestrator(t *testing.T, rt runtime.Runtime) (*orchestrator.Orchestrator, *task.Store) {
	t.Helper()
	store, err := task.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return orchestrator.New(store, rt, nil), store
}

func TestLifecycle_Scenario(t *testing.T) {
	rt := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, err := orch.Create(ctx, task.Spec{
		Name:  "web",
		Image: "nginx:latest",
		Ports: []string{"8080:80"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != task.StatusStopped || created.ContainerID != "" {
		t.Fatalf("fresh task should be stopped with no container: %+v", created)
	}

	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got, _ := orch.Get(created.ID)
	if got.Status != task.StatusRunning {
		t.Errorf("after start: status %q, want running", got.Status)
	}
	if got.ContainerID != "abc123" {
		t.Errorf("after start: container %q, want abc123", got.ContainerID)
	}

	if err := orch.Stop(ctx, created.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	got, _ = orch.Get(created.ID)
	if got.Status != task.StatusStopped {
		t.Errorf("after stop: status %q, want stopped", got.Status)
	}

	if err := orch.Remove(ctx, created.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(orch.List()) != 0 {
		t.Errorf("task still listed after remove")
	}
}

func TestStart_MarksPendingBeforeRuntimeCall(t *testing.T) {
	rt := newFakeRuntime()
	orch, store := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})

	var statusDuringRun task.Status
	rt.onRun = func(runtime.ContainerSpec) {
		t2, _ := store.Get(created.ID)
		statusDuringRun = t2.Status
	}

	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if statusDuringRun != task.StatusPending {
		t.Errorf("status during runtime call: %q, want pending", statusDuringRun)
	}
}

func TestStart_FailureSetsError(t *testing.T) {
	rt := newFakeRuntime()
	rt.runErr = &runtime.InvocationError{Op: "run", ExitCode: 125, Stderr: "pull access denied"}
	orch, _ := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "private/forbidden"})
	err := orch.Start(ctx, created.ID)
	if err == nil {
		t.Fatal("expected start failure")
	}
	var inv *runtime.InvocationError
	if !errors.As(err, &inv) {
		t.Errorf("expected InvocationError, got %v", err)
	}

	got, _ := orch.Get(created.ID)
	if got.Status != task.StatusError {
		t.Errorf("status after failed start: %q, want error", got.Status)
	}
	if got.Status == task.StatusPending {
		t.Error("task left in pending after start returned")
	}
	if got.ContainerID != "" {
		t.Errorf("failed first start must not set a container id, got %q", got.ContainerID)
	}
}

func TestStart_NotFound(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeRuntime())
	if err := orch.Start(context.Background(), "nope"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_ClearsStaleContainer(t *testing.T) {
	rt := newFakeRuntime()
	orch, store := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	// Container dies out-of-band; restart must clear the old name slot.
	rt.mu.Lock()
	delete(rt.containers, "abc123")
	rt.nextID = "def456"
	rt.mu.Unlock()

	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if len(rt.removeCalls) == 0 || rt.removeCalls[0] != "abc123" {
		t.Errorf("expected stale container abc123 removed before re-run, got %v", rt.removeCalls)
	}
	got, _ := store.Get(created.ID)
	if got.ContainerID != "def456" {
		t.Errorf("container id after restart: %q, want def456", got.ContainerID)
	}
}

func TestStop_NoContainer(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeRuntime())
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	err := orch.Stop(ctx, created.ID)
	if !errors.Is(err, orchestrator.ErrNoContainer) {
		t.Fatalf("expected ErrNoContainer, got %v", err)
	}
	got, _ := orch.Get(created.ID)
	if got.Status != task.StatusStopped {
		t.Errorf("status changed by failed stop: %q", got.Status)
	}
}

func TestStop_RuntimeFailureLeavesStatus(t *testing.T) {
	rt := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rt.stopErr = &runtime.InvocationError{Op: "stop", ExitCode: 1, Stderr: "daemon unreachable"}
	if err := orch.Stop(ctx, created.ID); err == nil {
		t.Fatal("expected stop failure")
	}
	got, _ := orch.Get(created.ID)
	if got.Status != task.StatusRunning {
		t.Errorf("status after failed stop: %q, want running (unchanged)", got.Status)
	}
}

func TestRemove_BestEffort(t *testing.T) {
	rt := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Both runtime calls fail; removal must still delete the record.
	rt.stopErr = errors.New("stop boom")
	rt.removeErr = errors.New("remove boom")

	if err := orch.Remove(ctx, created.ID); err != nil {
		t.Fatalf("Remove should not fail on runtime cleanup errors: %v", err)
	}
	if _, err := orch.Get(created.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("task still present after remove: %v", err)
	}
	if len(rt.stopCalls) != 1 || len(rt.removeCalls) != 1 {
		t.Errorf("expected one stop and one remove attempt, got %d/%d",
			len(rt.stopCalls), len(rt.removeCalls))
	}
}

func TestRemove_StoppedTaskSkipsStop(t *testing.T) {
	rt := newFakeRuntime()
	orch, _ := newTestOrchestrator(t, rt)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	if err := orch.Remove(ctx, created.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(rt.stopCalls) != 0 {
		t.Errorf("stop should not be issued for a never-started task, got %v", rt.stopCalls)
	}
	if len(rt.removeCalls) != 0 {
		t.Errorf("runtime remove should not be issued without a container, got %v", rt.removeCalls)
	}
}

func TestLogs(t *testing.T) {
	rt := newFakeRuntime()
	rt.logsOutput = "hello from nginx\n"
	orch, _ := newTestOrchestrator(t, rt)
	ctx := context.Background()

	if _, err := orch.Logs(ctx, "nope", 100); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	if _, err := orch.Logs(ctx, created.ID, 100); !errors.Is(err, orchestrator.ErrNoContainer) {
		t.Errorf("expected ErrNoContainer, got %v", err)
	}

	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	logs, err := orch.Logs(ctx, created.ID, 100)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if logs != "hello from nginx\n" {
		t.Errorf("logs: got %q", logs)
	}
}

func TestEvents_Recorded(t *testing.T) {
	rt := newFakeRuntime()
	store, err := task.Open(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	ev, err := events.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ev.Close() })

	orch := orchestrator.New(store, rt, ev)
	ctx := context.Background()

	created, _ := orch.Create(ctx, task.Spec{Name: "web", Image: "nginx:latest"})
	if err := orch.Start(ctx, created.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := orch.Stop(ctx, created.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := orch.Remove(ctx, created.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	recorded, err := ev.ForTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("ForTask: %v", err)
	}
	wantActions := []string{"create", "start", "stop", "remove"}
	if len(recorded) != len(wantActions) {
		t.Fatalf("expected %d events, got %d", len(wantActions), len(recorded))
	}
	for i, want := range wantActions {
		if recorded[i].Action != want {
			t.Errorf("event %d: action %q, want %q", i, recorded[i].Action, want)
		}
		if recorded[i].Outcome != events.OutcomeOK {
			t.Errorf("event %d: outcome %q, want ok", i, recorded[i].Outcome)
		}
	}
}
