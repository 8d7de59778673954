package jobmanager

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/RezaEskandarii/gofire/app"
	"github.com/RezaEskandarii/gofire/client"
	"github.com/RezaEskandarii/gofire/types/config"
)

// Gofire is a running gofire process: the client surface plus the
// background components started for it.
type Gofire struct {
	*client.JobManager
	Cron *client.CronJobManager // nil unless cron is enabled

	container *app.Container
}

// New initializes the entire Gofire job engine using the provided GofireConfig.
//
// The function performs the following steps:
//  1. Builds the dependency container: database pool, stores, lock sessions,
//     performer, executor and one scheduler per pool in cfg.Queues.
//  2. Runs schema migrations under the migration advisory lock.
//  3. Starts the background components for cfg.ExecutionMode: notifier,
//     schedulers, cron, cleaner and the queue sync worker in async mode,
//     and the status server whenever cfg.HealthAddr is set.
//
// Parameters:
//   - ctx: context used for cancellation of startup and of the background workers.
//   - cfg: full configuration of the system.
//
// Returns:
//   - *Gofire: ready to enqueue and operate on jobs. Call Shutdown or
//     GracefulExit to stop it.
//   - error: any failure that prevents full system setup.
func New(ctx context.Context, cfg *config.GofireConfig, opts ...app.ContainerOption) (*Gofire, error) {
	logger := cfg.Logger
	if logger != nil {
		logger.Debug("booting gofire", "gomaxprocs", runtime.GOMAXPROCS(0))
	}

	// ---------------------------------------------------------------------------------------------
	// Wire every dependency once
	// ---------------------------------------------------------------------------------------------
	container, err := app.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	// ---------------------------------------------------------------------------------------------
	// Apply the schema; concurrent processes wait on the migration lock
	// ---------------------------------------------------------------------------------------------
	if err := container.Migrate(ctx); err != nil {
		_ = container.DB.Close()
		return nil, err
	}

	// ---------------------------------------------------------------------------------------------
	// Start the background components
	// ---------------------------------------------------------------------------------------------
	if err := container.Start(ctx); err != nil {
		_ = container.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}

	return &Gofire{
		JobManager: container.JobManager,
		Cron:       container.CronJobManager,
		container:  container,
	}, nil
}

// Shutdown stops the background components and closes every connection.
func (g *Gofire) Shutdown(ctx context.Context) error {
	return g.container.Shutdown(ctx)
}

// GracefulExit blocks until SIGINT or SIGTERM and then shuts down.
func (g *Gofire) GracefulExit() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	g.container.Logger.Info("gofire shutting down gracefully")
	return g.Shutdown(context.Background())
}
