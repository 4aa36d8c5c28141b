package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/cmdq/internal/config"
	"github.com/harun/cmdq/internal/logger"
	"github.com/harun/cmdq/internal/observability"
	"github.com/harun/cmdq/internal/tracing"
	"github.com/harun/cmdq/pkg/commandqueue"
	"github.com/harun/cmdq/pkg/gateway"
	"github.com/harun/cmdq/pkg/history"
	"github.com/harun/cmdq/pkg/hooks"
	"github.com/harun/cmdq/pkg/schedule"
	"github.com/harun/cmdq/pkg/spool"
)

// Daemon represents the cmdq daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	queue     *commandqueue.Queue
	processor *commandqueue.Processor
	history   *history.Store
	hooks     *hooks.Manager

	// Services
	gatewayServer *gateway.Server
	spool         *spool.Spool
	scheduler     *schedule.Scheduler

	// Internal
	eventLoop      *EventLoop
	pidFile        *PIDFile
	recorderHandle commandqueue.Handle
	hooksHandle    commandqueue.Handle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Status reports whether the daemon runs and for how long
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.abortInit()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.abortInit()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.pidFile = NewPIDFile(cfg.PIDFile(), d.logger.Component("daemon"))

	return d, nil
}

// initializeCoreModules builds the queue, the processor and the journal
func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if d.config.Audit.File != "" {
		if err := observability.InitAuditLogger(d.config.Audit.File); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			d.logger.Info().Str("path", d.config.Audit.File).Msg("Audit logger initialized")
		}
	}

	d.queue = commandqueue.New()
	d.processor = commandqueue.NewProcessor(d.queue)
	d.logger.Info().Msg("Command queue and processor initialized")

	if d.config.History.Enabled {
		store, err := history.Open(history.Config{
			DBPath: d.config.History.DBPath,
			Logger: d.logger.Component("history"),
		})
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		d.history = store
		d.recorderHandle = d.processor.AddObserver(history.NewRecorder(store))
		d.logger.Info().Str("path", d.config.History.DBPath).Msg("History journal initialized")
	}

	if d.config.Hooks.Enabled {
		manager, err := hooks.NewManager(hooks.Config{
			Enabled: true,
			Hooks:   d.config.Hooks.Hooks,
			Backlog: d.config.Hooks.Backlog,
			Logger:  d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to load hooks: %w", err)
		}
		d.hooks = manager
		d.hooksHandle = d.processor.AddObserver(manager.ProcessorObserver())
		d.logger.Info().Int("hooks", len(d.config.Hooks.Hooks)).Msg("Lifecycle hooks initialized")
	}

	return nil
}

// initializeServices builds the gateway, the spool and the scheduler
func (d *Daemon) initializeServices() error {
	if d.config.Gateway.Enabled {
		gwCfg := gateway.Config{
			Host:              d.config.Gateway.Host,
			Port:              d.config.Gateway.Port,
			SharedSecret:      d.config.Gateway.SharedSecret,
			TickInterval:      time.Duration(d.config.Gateway.TickIntervalSec) * time.Second,
			Processor:         d.processor,
			Queue:             d.queue,
			StartTimeout:      d.config.Processor.StartTimeout(),
			StopTimeout:       d.config.Processor.StopTimeout(),
			RequestsPerMinute: d.config.Gateway.RequestsPerMinute,
			MaxConcurrent:     d.config.Gateway.MaxConcurrent,
			Logger:            d.logger.GetZerolog(),
		}
		if d.history != nil {
			gwCfg.History = d.history
		}
		server, err := gateway.NewServer(gwCfg)
		if err != nil {
			return fmt.Errorf("failed to create gateway server: %w", err)
		}
		d.gatewayServer = server
		d.logger.Info().Int("port", d.config.Gateway.Port).Msg("Gateway server initialized")
	}

	if d.config.Spool.Enabled {
		sp, err := spool.New(spool.Config{
			Dir:                d.config.Spool.Dir,
			StabilityThreshold: time.Duration(d.config.Spool.StabilityMs) * time.Millisecond,
			Queue:              d.queue,
			Logger:             d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create spool: %w", err)
		}
		d.spool = sp
		d.logger.Info().Str("dir", d.config.Spool.Dir).Msg("Spool initialized")
	}

	if len(d.config.Schedules) > 0 {
		scheduler, err := schedule.New(schedule.Config{
			Entries: d.config.Schedules,
			Queue:   d.queue,
			Logger:  d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		d.scheduler = scheduler
		d.logger.Info().Int("schedules", len(d.config.Schedules)).Msg("Scheduler initialized")
	}

	return nil
}

// abortInit releases what New acquired before failing
func (d *Daemon) abortInit() {
	d.cancel()
	if d.processor != nil {
		_ = d.processor.Close(context.Background())
	}
	if d.history != nil {
		_ = d.history.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// Start starts the daemon and all services
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx := tracing.WithTraceID(d.ctx, tracing.NewTraceID())
	logger := tracing.LoggerFromContext(ctx, d.logger.GetZerolog())
	logger.Info().Msg("Starting cmdq daemon")

	if err := d.pidFile.Acquire(); err != nil {
		d.setStopped()
		return err
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Start(); err != nil {
			_ = d.pidFile.Release()
			d.setStopped()
			return fmt.Errorf("failed to start gateway server: %w", err)
		}
		logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")
	}

	if d.spool != nil {
		if err := d.spool.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start spool watcher")
		} else {
			logger.Info().Msg("Spool watcher started")
		}
	}

	if d.scheduler != nil {
		d.scheduler.Start()
	}

	if d.hooks != nil {
		d.hooks.Start()
		d.hooks.Enqueue(hooks.EventDaemonStartup, map[string]interface{}{
			"pid": os.Getpid(),
		})
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	if d.config.Processor.AutoStart {
		if err := d.processor.Start(d.config.Processor.StartTimeout()); err != nil {
			logger.Warn().Err(err).Msg("Processor did not confirm start")
		} else {
			logger.Info().Msg("Processor started")
		}
		observability.RecordControlAudit(ctx, "processor.start", "daemon", "auto", nil)
	}

	logger.Info().Msg("Daemon started successfully")

	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop pauses the processor cooperatively, aborts whatever is still
// running and shuts every service down
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	logger := tracing.LoggerFromContext(ctx, d.logger.GetZerolog())
	logger.Info().Msg("Stopping cmdq daemon")

	if d.spool != nil {
		if err := d.spool.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop spool watcher")
		}
	}

	if d.scheduler != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := d.scheduler.Stop(stopCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop scheduler")
		}
		cancel()
	}

	if d.gatewayServer != nil {
		if err := d.gatewayServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop gateway server")
		}
	}

	if err := d.processor.Stop(d.config.Processor.StopTimeout()); err != nil {
		logger.Warn().Err(err).Msg("Processor did not pause in time, aborting current command")
	}
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := d.processor.Close(closeCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to close processor")
	}
	cancel()
	observability.RecordControlAudit(ctx, "processor.stop", "daemon", "shutdown", map[string]interface{}{
		"queued": d.queue.Len(),
	})
	logger.Info().Int("queued", d.queue.Len()).Msg("Processor stopped")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if d.hooks != nil {
		d.processor.RemoveObserver(d.hooksHandle)
		d.hooks.Enqueue(hooks.EventDaemonShutdown, map[string]interface{}{
			"queued": d.queue.Len(),
		})
		hooksCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := d.hooks.Close(hooksCtx); err != nil {
			logger.Warn().Err(err).Msg("Pending hooks did not finish")
		}
		cancel()
	}

	if d.history != nil {
		d.processor.RemoveObserver(d.recorderHandle)
		if err := d.history.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close history")
		}
	}

	if err := d.pidFile.Release(); err != nil {
		logger.Error().Err(err).Msg("Failed to release PID file")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetQueue returns the command queue
func (d *Daemon) GetQueue() *commandqueue.Queue {
	return d.queue
}

// GetProcessor returns the queue processor
func (d *Daemon) GetProcessor() *commandqueue.Processor {
	return d.processor
}

// GetHistory returns the execution journal, nil when disabled
func (d *Daemon) GetHistory() *history.Store {
	return d.history
}

// GetHooks returns the hook manager, nil when hooks are disabled
func (d *Daemon) GetHooks() *hooks.Manager {
	return d.hooks
}

// GetGatewayServer returns the gateway, nil when disabled
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetSpool returns the spool watcher, nil when disabled
func (d *Daemon) GetSpool() *spool.Spool {
	return d.spool
}

// GetScheduler returns the scheduler, nil without schedules
func (d *Daemon) GetScheduler() *schedule.Scheduler {
	return d.scheduler
}
