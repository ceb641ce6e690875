package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbtools/wugsync/internal/config"
	"github.com/nbtools/wugsync/internal/event"
	"github.com/nbtools/wugsync/internal/netbox"
	"github.com/nbtools/wugsync/internal/registry"
	"github.com/nbtools/wugsync/internal/server"
	"github.com/nbtools/wugsync/internal/store"
	syncmod "github.com/nbtools/wugsync/internal/sync"
	"github.com/nbtools/wugsync/internal/version"
	"github.com/nbtools/wugsync/pkg/plugin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration before the logger so log level/format can be configured.
	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := config.New(viperCfg)

	logger, err := config.NewLogger(viperCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("wugsync starting", zap.String("version", version.Short()))

	if f := viperCfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded",
			zap.String("component", "config"),
			zap.String("source", f),
		)
	} else {
		logger.Warn("no configuration file found, using defaults",
			zap.String("component", "config"),
		)
	}

	dbPath := viperCfg.GetString("database.dsn")
	if dbPath == "" {
		dbPath = "./data/wugsync.db"
	}
	db, err := store.New(dbPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("database initialized",
		zap.String("component", "database"),
		zap.String("path", dbPath),
	)

	if err := db.CheckVersion(context.Background(), version.Short()); err != nil {
		logger.Fatal("database version check failed", zap.Error(err))
	}

	bus := event.NewBus(logger.Named("event"))

	reg := registry.New(logger.Named("registry"))

	modules := []plugin.Plugin{
		netbox.New(),
		syncmod.New(),
	}
	for _, m := range modules {
		if err := reg.Register(m); err != nil {
			logger.Fatal("failed to register module", zap.Error(err))
		}
	}

	if err := reg.Validate(); err != nil {
		logger.Fatal("module validation failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("modules." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     bus,
			Plugins: reg,
		}
	}); err != nil {
		logger.Fatal("failed to initialize modules", zap.Error(err))
	}

	// The registry resolves init order but does not touch the bus; bind
	// declared subscriptions here so modules receive each other's events.
	for _, m := range reg.All() {
		sub, ok := m.(plugin.EventSubscriber)
		if !ok {
			continue
		}
		for _, s := range sub.Subscriptions() {
			bus.Subscribe(s.Topic, s.Handler)
			logger.Debug("event subscription bound",
				zap.String("module", m.Info().Name),
				zap.String("topic", s.Topic),
			)
		}
	}

	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start modules", zap.Error(err))
	}

	addr := viperCfg.GetString("server.host") + ":" + viperCfg.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	readyCheck := server.ReadinessChecker(func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	})
	srv := server.New(addr, reg, logger, readyCheck)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("wugsync ready", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("wugsync stopped")
}
