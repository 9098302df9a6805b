package runtime

import (
	"context"
	"log/slog"
	"time"

	"dockhand/internal/dockhand/task"
)

// Starter issues the ordinary start procedure for a task. The orchestrator
// satisfies it; the reconciler deliberately has no start logic of its own so
// an auto-restart is the same state machine as an explicit start request.
type Starter interface {
	Start(ctx context.Context, taskID string) error
}

// ReconcilerConfig configures the reconciliation loop.
type ReconcilerConfig struct {
	// Interval is how often to sweep. Defaults to 30s.
	Interval time.Duration
}

// Reconciler periodically brings stored task status in line with runtime
// ground truth and enforces the auto-restart policy.
type Reconciler struct {
	runtime Runtime
	store   *task.Store
	starter Starter
	cfg     ReconcilerConfig
}

// NewReconciler creates a Reconciler.
func NewReconciler(rt Runtime, store *task.Store, starter Starter, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Reconciler{runtime: rt, store: store, starter: starter, cfg: cfg}
}

// Run executes the startup auto-restart sweep, then loops on the interval
// until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("reconciler starting", "interval", r.cfg.Interval)
	r.RestartSweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconciler stopping")
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs a single sweep: the auto-restart pass first, then the
// status sync. Restart must precede sync — sync would downgrade a dead
// container's task to stopped and the restart policy only fires on tasks
// still marked running. Tasks the restart pass touched are skipped by the
// sync so a failed restart's error status survives the sweep.
func (r *Reconciler) Reconcile(ctx context.Context) {
	restarted := r.RestartSweep(ctx)

	skip := make(map[string]bool, len(restarted))
	for _, id := range restarted {
		skip[id] = true
	}
	r.syncStatuses(ctx, skip)
}

// RestartSweep relaunches every auto-restart task that is marked running but
// whose container is absent or not running. It returns the ids of tasks for
// which a start was attempted. Exactly one start attempt is issued per task
// per sweep, with no backoff.
func (r *Reconciler) RestartSweep(ctx context.Context) []string {
	var attempted []string
	for _, t := range r.store.List() {
		if !t.AutoRestart || t.Status != task.StatusRunning || t.ContainerID == "" {
			continue
		}

		snap, err := r.runtime.Inspect(ctx, t.ContainerID)
		if err != nil {
			slog.Warn("reconciler: inspect failed, treating container as down",
				"task", t.ID, "container", t.ContainerID, "err", err)
		} else if snap == nil {
			slog.Info("reconciler: container gone, restarting task",
				"task", t.ID, "container", t.ContainerID)
		} else if snap.Running() {
			continue
		} else {
			slog.Info("reconciler: container not running, restarting task",
				"task", t.ID, "container", t.ContainerID, "state", snap.State)
		}

		attempted = append(attempted, t.ID)
		if err := r.starter.Start(ctx, t.ID); err != nil {
			slog.Error("reconciler: restart failed", "task", t.ID, "err", err)
		} else {
			slog.Info("reconciler: task restarted", "task", t.ID)
		}
	}
	return attempted
}

// syncStatuses inspects every task with a container reference and stages the
// observed status, persisting once at the end of the pass to bound write
// volume. A snapshot reporting anything but running (including absence)
// means stopped.
func (r *Reconciler) syncStatuses(ctx context.Context, skip map[string]bool) {
	changed := 0
	for _, t := range r.store.List() {
		if t.ContainerID == "" || skip[t.ID] {
			continue
		}

		snap, err := r.runtime.Inspect(ctx, t.ContainerID)
		observed := task.StatusStopped
		switch {
		case err != nil:
			slog.Warn("reconciler: inspect failed, treating container as down",
				"task", t.ID, "container", t.ContainerID, "err", err)
		case snap == nil:
			slog.Debug("reconciler: container missing",
				"task", t.ID, "container", t.ContainerID)
		case snap.Running():
			observed = task.StatusRunning
		}

		if t.Status == observed {
			continue
		}
		slog.Info("reconciler: status drift",
			"task", t.ID, "stored", t.Status, "observed", observed)
		if _, err := r.store.Stage(t.ID, func(t *task.Task) {
			t.Status = observed
		}); err != nil {
			slog.Warn("reconciler: stage status failed", "task", t.ID, "err", err)
			continue
		}
		changed++
	}

	if changed > 0 {
		if err := r.store.Save(); err != nil {
			slog.Error("reconciler: persist sweep failed", "err", err)
		}
	}
}
