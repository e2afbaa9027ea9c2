package daemon

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/janekbaraniewski/apiusage/internal/cache"
	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/credentials"
	"github.com/janekbaraniewski/apiusage/internal/history"
	"github.com/janekbaraniewski/apiusage/internal/logging"
	"github.com/janekbaraniewski/apiusage/internal/metrics"
	"github.com/janekbaraniewski/apiusage/internal/providers"
	"github.com/janekbaraniewski/apiusage/internal/scheduler"
	"github.com/janekbaraniewski/apiusage/internal/version"
)

// Service owns the long-lived parts of a running daemon.
type Service struct {
	cfg Config
	log *zap.Logger

	config     *config.Manager
	store      *history.Store
	maintainer *history.Maintainer
	scheduler  *scheduler.Scheduler
	server     *Server
}

// RunServer runs the daemon until SIGINT or SIGTERM.
func RunServer(cfg Config) error {
	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := Listen(cfg.Port)
	if err != nil {
		return err
	}

	svc := startService(ctx, cfg, log)
	defer svc.Close()

	err = svc.server.Serve(ctx, ln)
	log.Info("daemon_stop", zap.String("reason", "signal"))
	return err
}

// startService wires every component. Nothing here is fatal: a bad config
// file falls back to defaults and an unusable history path to memory.
func startService(ctx context.Context, cfg Config, log *zap.Logger) *Service {
	log = logging.OrNop(log)
	if strings.TrimSpace(cfg.ConfigPath) == "" {
		cfg.ConfigPath = config.ConfigPath()
	}
	if strings.TrimSpace(cfg.HistoryPath) == "" {
		path, err := history.DefaultDBPath()
		if err != nil {
			log.Warn("history_path_unresolved", zap.Error(err))
			path = ":memory:"
		}
		cfg.HistoryPath = path
	}

	manager, err := config.NewManager(cfg.ConfigPath)
	if err != nil {
		log.Warn("config_load_failed", zap.String("path", cfg.ConfigPath), zap.Error(err))
		manager = config.NewManagerWith(cfg.ConfigPath, config.DefaultConfig())
	}

	svc := &Service{cfg: cfg, log: log, config: manager}
	svc.store = svc.openHistory(ctx)

	m := metrics.New()
	opts := scheduler.Options{
		Config:   manager,
		Resolver: credentials.NewResolver(credentials.NewKeyringVault(), credentials.DefaultCookieProvider(), log),
		Adapters: providers.Default(),
		Cache:    cache.New(cache.DefaultTTL),
		Metrics:  m,
		Logger:   log,
	}
	var reader HistoryReader
	if svc.store != nil {
		opts.History = svc.store
		reader = svc.store
	}
	svc.scheduler = scheduler.New(opts)
	manager.Subscribe(svc.scheduler.Notify)
	svc.server = NewServer(manager, svc.scheduler, reader, m, log)

	current := manager.Current()
	log.Info("daemon_start",
		zap.String("version", version.Version),
		zap.String("config", cfg.ConfigPath),
		zap.String("history", cfg.HistoryPath),
		zap.Int("refresh_interval_minutes", current.RefreshIntervalMinutes),
		zap.Int("enabled_services", len(current.EnabledServices())),
	)

	go func() {
		if err := config.NewWatcher(manager, log).Run(ctx); err != nil {
			log.Warn("config_watch_error", zap.Error(err))
		}
	}()
	go func() { _ = svc.scheduler.Run(ctx) }()
	return svc
}

func (s *Service) openHistory(ctx context.Context) *history.Store {
	store, err := history.Open(ctx, s.cfg.HistoryPath, s.log)
	if err != nil {
		s.log.Warn("history_store_error", zap.String("op", "open"), zap.Error(err))
		return nil
	}

	legacy := s.cfg.LegacyHistoryPath
	if legacy == "" {
		legacy, _ = history.DefaultLegacyPath()
	}
	if legacy != "" {
		n, err := store.ImportLegacyJSON(ctx, legacy)
		switch {
		case err != nil:
			s.log.Warn("history_import_failed", zap.String("path", legacy), zap.Error(err))
		case n > 0:
			s.log.Info("history_imported", zap.String("path", legacy), zap.Int("points", n))
		}
	}

	s.maintainer = history.NewMaintainer(store, s.log)
	if err := s.maintainer.Start(ctx, history.DefaultMaintenanceSchedule); err != nil {
		s.log.Warn("history_maintenance_disabled", zap.Error(err))
	}
	return store
}

func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if s.maintainer != nil {
		s.maintainer.Stop()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
