// agentx-subagentd is a demo AgentX (RFC 2741) subagent: it dials a
// master, registers the subtrees declared in its configuration, and
// serves Get/GetNext/GetBulk against an in-memory snapshot that a
// per-region updater refreshes on a fixed interval. Regions marked
// writable additionally accept the two-phase SET sequence against a
// trivial in-memory scalar.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/agentx-go/subagent/agentx/oid"
	"github.com/agentx-go/subagent/agentx/pdu"
	"github.com/agentx-go/subagent/agentx/session"
	"github.com/agentx-go/subagent/agentx/settxn"
	"github.com/agentx-go/subagent/agentx/updater"
	"github.com/agentx-go/subagent/agentx/value"
	"github.com/agentx-go/subagent/internal/admin"
	"github.com/agentx-go/subagent/internal/config"
	"github.com/agentx-go/subagent/internal/metrics"
	appversion "github.com/agentx-go/subagent/internal/version"
)

// shutdownTimeout bounds how long the admin and metrics HTTP servers are
// given to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("agentx-subagentd starting",
		slog.String("version", appversion.Version),
		slog.String("master_addr", cfg.Master.Address),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	sess, err := newSubagentSession(cfg, logger, collector)
	if err != nil {
		logger.Error("failed to build subagent session", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(cfg, sess, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("agentx-subagentd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("agentx-subagentd stopped")
	return 0
}

// newSubagentSession builds a session.Session and registers every
// declarative region from cfg, wiring in a demo Updater (and, for
// writable regions, a demo settxn.Handler) against each root.
func newSubagentSession(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*session.Session, error) {
	agentID := oid.OID{}
	if cfg.Master.AgentID != "" {
		parsed, err := oid.Parse(cfg.Master.AgentID)
		if err != nil {
			return nil, fmt.Errorf("parse master.agent_id: %w", err)
		}
		agentID = parsed
	}

	sess := session.NewSession(session.Config{
		Network:     cfg.Master.Network,
		Address:     cfg.Master.Address,
		AgentID:     agentID,
		Description: cfg.Master.Description,
		OpenTimeout: cfg.Master.OpenTimeout,
		Logger:      logger,
		Metrics:     collector,
	})

	for _, rc := range cfg.Regions {
		root, err := rc.RootOID()
		if err != nil {
			return nil, fmt.Errorf("region %q: %w", rc.Root, err)
		}

		freq := rc.RefreshInterval
		if freq <= 0 {
			freq = 30 * time.Second
		}

		priority := rc.Priority
		if priority == 0 {
			priority = 127
		}

		spec := session.RegionSpec{
			Root:     root,
			Updater:  newUptimeUpdater(),
			Freq:     freq,
			Priority: priority,
		}
		if rc.Writable {
			spec.SetHandler = newScalarSetHandler(logger.With(slog.String("region", root.String())))
		}
		sess.Register(spec)
	}

	return sess, nil
}

// uptimeUpdater is a demo updater.Updater: it publishes a single TimeTicks
// scalar at the region root counting hundredths of a second since the
// updater was created, standing in for a real MIB data source.
type uptimeUpdater struct {
	started time.Time
}

func newUptimeUpdater() *uptimeUpdater {
	return &uptimeUpdater{started: time.Now()}
}

func (u *uptimeUpdater) Update(_ context.Context, b *updater.Builder) error {
	ticks := uint32(time.Since(u.started) / (10 * time.Millisecond))
	b.SetTimeTicks(oid.OID{}, ticks)
	return nil
}

// scalarSetHandler is a demo settxn.Handler backing a single writable
// Integer scalar at a region's root. Test validates the new value is an
// Integer; Commit stores it; Undo is a no-op since nothing is applied
// until Commit; Cleanup clears the pending value.
type scalarSetHandler struct {
	logger *slog.Logger

	mu      sync.Mutex
	current int32
	pending int32
	hasNew  bool
}

func newScalarSetHandler(logger *slog.Logger) *scalarSetHandler {
	return &scalarSetHandler{logger: logger}
}

func (h *scalarSetHandler) Test(_ context.Context, varbinds []pdu.VarBind) (pdu.ErrorStatus, int) {
	for i, vb := range varbinds {
		if vb.Value.Kind() != value.KindInteger {
			return pdu.ErrWrongType, i + 1
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(varbinds) > 0 {
		h.pending = varbinds[0].Value.IntegerValue()
		h.hasNew = true
	}
	return pdu.ErrNone, 0
}

func (h *scalarSetHandler) Commit(_ context.Context) pdu.ErrorStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasNew {
		h.current = h.pending
		h.logger.Info("scalar committed", slog.Int("value", int(h.current)))
	}
	return pdu.ErrNone
}

func (h *scalarSetHandler) Undo(_ context.Context) pdu.ErrorStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hasNew = false
	return pdu.ErrNone
}

func (h *scalarSetHandler) Cleanup(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hasNew = false
}

// runServers wires the session loop, the admin and metrics HTTP servers,
// the systemd watchdog, and SIGHUP log-level reload into one errgroup
// bound to a signal-aware context.
func runServers(
	cfg *config.Config,
	sess *session.Session,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	adminSrv := newAdminServer(cfg.Admin, sess, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(gCtx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	g.Go(func() error {
		return sess.StartBlocking(gCtx)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, sess, logger, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured WatchdogSec. A no-op when the watchdog is not configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only; region set is fixed at startup
// -------------------------------------------------------------------------

func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

// reloadLogLevel re-reads the configuration file and applies its log
// level through the shared LevelVar. The declarative region set cannot be
// changed without a reconnect, so reload is limited to what can safely
// take effect without tearing down the live session.
func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, sess *session.Session, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	sess.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newAdminServer(cfg config.AdminConfig, sess *session.Session, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           admin.NewRouter(sess, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
