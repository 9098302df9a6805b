// Package app wires the daemon together and owns its lifecycle:
// construct → load state → startup sweep → serve + reconcile → graceful stop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dockhand/internal/dockhand/api"
	"dockhand/internal/dockhand/config"
	"dockhand/internal/dockhand/events"
	"dockhand/internal/dockhand/orchestrator"
	rt "dockhand/internal/dockhand/runtime"
	"dockhand/internal/dockhand/runtime/dockerapi"
	"dockhand/internal/dockhand/runtime/dockercli"
	"dockhand/internal/dockhand/task"
)

// App is the assembled daemon.
type App struct {
	cfg        config.Config
	store      *task.Store
	events     *events.Log
	orch       *orchestrator.Orchestrator
	reconciler *rt.Reconciler
	api        *api.Server
}

// New constructs every component. The task snapshot is loaded here; no
// reconciliation against the runtime happens until Run.
func New(cfg config.Config) (*App, error) {
	store, err := task.Open(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	ev, err := events.Open(cfg.EventsDB)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	runtime, err := newRuntime(cfg.Runtime)
	if err != nil {
		ev.Close()
		return nil, err
	}

	orch := orchestrator.New(store, runtime, ev)
	reconciler := rt.NewReconciler(runtime, store, orch, rt.ReconcilerConfig{
		Interval: cfg.Reconcile.Interval.Std(),
	})

	return &App{
		cfg:        cfg,
		store:      store,
		events:     ev,
		orch:       orch,
		reconciler: reconciler,
		api:        api.New(orch, ev),
	}, nil
}

func newRuntime(cfg config.RuntimeConfig) (rt.Runtime, error) {
	switch cfg.Driver {
	case config.DriverAPI:
		adapter, err := dockerapi.New(cfg.Timeout.Std())
		if err != nil {
			return nil, fmt.Errorf("docker api driver: %w", err)
		}
		return adapter, nil
	default:
		return dockercli.New(dockercli.Config{
			Binary:  cfg.Binary,
			Timeout: cfg.Timeout.Std(),
		}), nil
	}
}

// Run serves the API and the reconciler until ctx is cancelled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.api.Start(ctx, a.cfg.Listen); err != nil {
		return err
	}

	// The reconciler runs its startup auto-restart sweep before the first
	// timer tick.
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.reconciler.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	<-done
	a.api.Stop()
	return nil
}

// Close releases resources. Safe to call after Run returns.
func (a *App) Close() {
	if a.events != nil {
		a.events.Close()
	}
}
