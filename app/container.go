package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/RezaEskandarii/gofire/client"
	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/internal/cron"
	"github.com/RezaEskandarii/gofire/internal/db"
	"github.com/RezaEskandarii/gofire/internal/executor"
	"github.com/RezaEskandarii/gofire/internal/health"
	"github.com/RezaEskandarii/gofire/internal/lifecycle"
	"github.com/RezaEskandarii/gofire/internal/lock"
	"github.com/RezaEskandarii/gofire/internal/message_broaker"
	"github.com/RezaEskandarii/gofire/internal/notifier"
	"github.com/RezaEskandarii/gofire/internal/performer"
	"github.com/RezaEskandarii/gofire/internal/scheduler"
	"github.com/RezaEskandarii/gofire/internal/state"
	"github.com/RezaEskandarii/gofire/internal/store"
	"github.com/RezaEskandarii/gofire/internal/store/postgres"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/RezaEskandarii/gofire/types/config"
	"github.com/RezaEskandarii/gofire/web"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.GofireConfig
	Logger *slog.Logger

	// Storage connection, shared by all stores and lock sessions
	DB *sql.DB

	// Stores
	JobStore       store.JobStore
	PauseStore     store.PauseStore
	ProcessStore   store.ProcessStore
	CronStateStore store.CronStateStore

	// Infrastructure
	Sessions      lock.SessionFactory
	MessageBroker message_broaker.MessageBroker
	Health        *health.Registry
	Metrics       *scheduler.Metrics

	// Execution
	JobHandler *config.JobHandler
	Performer  *performer.Performer
	Executor   *executor.Executor
	Schedulers []*scheduler.Scheduler
	Notifier   *notifier.Notifier
	Cron       *cron.Scheduler // nil unless cron is enabled
	Cleaner    *lifecycle.Cleaner
	SyncWorker *message_broaker.SyncWorker // nil unless the queue writer is enabled
	WebServer  *web.HttpRouteHandler       // nil unless HealthAddr is set

	// Client surface
	JobManager     *client.JobManager
	CronJobManager *client.CronJobManager

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	draining bool
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Call this once per application lifecycle. Nothing runs until Start.
// Pass WithDB to inject a connection for testing.
func NewContainer(ctx context.Context, cfg *config.GofireConfig, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(opt)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pools, err := scheduler.ParsePoolSpecs(cfg.Queues, config.DefaultThreads)
	if err != nil {
		return nil, fmt.Errorf("invalid queues %q: %w", cfg.Queues, err)
	}

	sqlDB := opt.db
	if sqlDB == nil {
		maxConns := cfg.PostgresConfig.MaxOpenConns
		if maxConns == 0 {
			maxConns = poolSize(pools)
		}
		if sqlDB, err = db.Open(ctx, cfg.PostgresConfig.ConnectionUrl, maxConns); err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
	}

	jobHandler := config.NewJobHandler()
	for _, h := range cfg.Handlers {
		if err := jobHandler.Register(h.JobName, h.Func); err != nil {
			return nil, err
		}
	}

	jobStore := postgres.NewPostgresJobStore(sqlDB).
		WithStatePolicy(state.Policy{RetriedAfterExecutions: cfg.RetriedAfterExecutions})
	pauseStore := postgres.NewPostgresPauseStore(sqlDB)
	processStore := postgres.NewPostgresProcessStore(sqlDB)
	cronStateStore := postgres.NewPostgresCronStateStore(sqlDB)
	sessions := lock.NewPostgresSessionFactory(sqlDB)

	c := &Container{
		Config:         cfg,
		Logger:         logger,
		DB:             sqlDB,
		JobStore:       jobStore,
		PauseStore:     pauseStore,
		ProcessStore:   processStore,
		CronStateStore: cronStateStore,
		Sessions:       sessions,
		Health:         health.NewRegistry(),
		Metrics:        scheduler.NewMetrics(opt.registerer),
		JobHandler:     jobHandler,
	}

	c.Performer = performer.New(jobStore, sessions, cfg.MaxScan, cfg.ConcurrencyLimit, logger.With("component", "performer"))
	policy := lifecycle.DefaultPolicy(cfg.MaxAttempts)
	if cfg.RetryBackoff != nil {
		policy.Backoff = cfg.RetryBackoff
	}
	c.Executor = executor.New(jobStore, jobHandler, policy, cfg.RetainExecutionHistory, logger.With("component", "executor"))
	c.Cleaner = lifecycle.NewCleaner(jobStore, sessions, cfg.CleanupInterval, cfg.CleanupPreservedJobsBefore, logger.With("component", "cleaner"))

	names := make([]string, 0, len(pools))
	for _, pool := range pools {
		s := scheduler.New(c.Performer, c.Executor, scheduler.Options{
			Name:            pool.Raw,
			Query:           pool.Query,
			Threads:         pool.Threads,
			PollInterval:    cfg.PollInterval,
			MaxPollInterval: cfg.MaxPollInterval,
			Metrics:         c.Metrics,
			Logger:          logger,
		})
		c.Schedulers = append(c.Schedulers, s)
		names = append(names, s.Name())
	}

	newListener := opt.newListener
	if newListener == nil {
		newListener = notifier.PostgresListener(cfg.PostgresConfig.ConnectionUrl, cfg.ListenerMinReconnect, cfg.ListenerMaxReconnect)
	}
	hostname, _ := os.Hostname()
	c.Notifier = notifier.New(newListener, processStore, notifier.Options{
		Channel:             cfg.NotifyChannel,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		StaleAfterIntervals: cfg.StaleAfterIntervals,
		Process: types.ProcessState{
			Hostname:    hostname,
			PID:         os.Getpid(),
			Instance:    cfg.Instance,
			Schedulers:  names,
			CronEnabled: cfg.EnableCron,
		},
		Logger: logger,
	})
	for _, s := range c.Schedulers {
		c.Notifier.Register(s)
	}

	if cfg.EnableCron {
		c.Cron, err = cron.New(cfg.CronEntries, jobStore, cronStateStore, sessions, cron.Options{
			Interval:    cfg.CronInterval,
			GracePeriod: cfg.CronGracePeriod,
			Notify:      c.signalWork,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		c.CronJobManager = client.NewCronJobManager(c.Cron)
	}

	if cfg.UseQueueWriter {
		mBroker, err := message_broaker.NewRabbitMQ(*cfg.RabbitMQConfig)
		if err != nil {
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
		c.MessageBroker = mBroker
		c.SyncWorker = message_broaker.NewSyncWorker(mBroker, jobStore, c.signalWork, logger)
	}

	if cfg.HealthAddr != "" {
		c.WebServer = web.NewRouteHandler(c.Health, opt.gatherer, cfg.HealthAddr, logger)
	}

	c.JobManager = client.NewJobManager(jobStore, pauseStore, sqlDB, c.Performer, c.Executor, c.MessageBroker, cfg)
	return c, nil
}

func (c *Container) signalWork(ctx context.Context, queue string) {
	sig := notifier.Signal{Kind: notifier.KindWork, Queue: queue}
	if err := notifier.Publish(ctx, c.DB, c.Config.NotifyChannel, sig); err != nil {
		c.Logger.Warn("failed to signal new jobs", "queue", queue, "error", err)
	}
}

// Start launches the background components. In async mode that is the
// notifier, every scheduler, cron, the cleaner and the queue sync worker.
// The status server runs in every mode.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("container already started: %w", custom_errors.ErrInvalidState)
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true

	if c.WebServer != nil {
		c.goRun(func() {
			if err := c.WebServer.Serve(runCtx); err != nil {
				c.Logger.Error("status server stopped", "error", err)
			}
		})
	}

	if c.Config.ExecutionMode != config.ExecutionAsync {
		c.Logger.Info("gofire started without workers", "mode", c.Config.ExecutionMode)
		return nil
	}

	if err := c.Notifier.Start(runCtx); err != nil {
		return err
	}
	c.Health.RegisterNotifier(c.Notifier)

	// Handlers must outlive the cancel in Shutdown so their outcomes are
	// recorded; schedulers stop through their own Shutdown.
	jobCtx := context.WithoutCancel(runCtx)
	for _, s := range c.Schedulers {
		if err := s.Start(jobCtx); err != nil {
			return err
		}
		c.Health.RegisterScheduler(s)
	}

	if c.Cron != nil {
		if err := c.Cron.Start(runCtx); err != nil {
			return err
		}
	}

	c.goRun(func() { c.Cleaner.Run(runCtx) })

	if c.SyncWorker != nil {
		c.goRun(func() {
			if err := c.SyncWorker.Run(runCtx); err != nil {
				c.Logger.Error("queue sync worker stopped", "error", err)
			}
		})
	}

	c.Logger.Info("gofire started", "instance", c.Config.Instance, "schedulers", len(c.Schedulers), "cron", c.Cron != nil)
	return nil
}

func (c *Container) goRun(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Shutdown stops cron, drains every scheduler within the configured
// timeout, stops the notifier and the remaining goroutines and closes the
// broker and the database. Jobs still running after the timeout keep their
// locks and the database stays open until they finish and record their
// outcome.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.Cron != nil {
		c.Cron.Stop()
	}

	drained := true
	var g errgroup.Group
	for _, s := range c.Schedulers {
		g.Go(func() error {
			err := s.Shutdown(c.Config.ShutdownTimeout)
			c.Health.DeregisterScheduler(s)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
		drained = false
	}

	if err := c.Notifier.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop notifier: %w", err))
	}
	c.Health.DeregisterNotifier(c.Notifier)

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if c.MessageBroker != nil {
		if err := c.MessageBroker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close message broker: %w", err))
		}
	}
	switch {
	case c.draining:
		// closeAfterDrain owns the close.
	case drained:
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	default:
		c.draining = true
		c.Logger.Warn("jobs still running after shutdown timeout, database closes when they finish", "timeout", c.Config.ShutdownTimeout)
		go c.closeAfterDrain()
	}

	c.Logger.Info("gofire shutdown complete")
	return errors.Join(errs...)
}

func (c *Container) closeAfterDrain() {
	for _, s := range c.Schedulers {
		s.Wait()
	}
	if err := c.DB.Close(); err != nil {
		c.Logger.Error("failed to close database", "error", err)
	}
	c.Logger.Info("running jobs finished, database closed")
}

// Migrate applies the schema under the migration lock.
func (c *Container) Migrate(ctx context.Context) error {
	return db.Init(ctx, c.DB, c.Sessions, nil, c.Logger)
}
