package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guildkeeper/internal/bot"
	"guildkeeper/internal/cache"
	"guildkeeper/internal/config"
	"guildkeeper/internal/history"
	"guildkeeper/internal/kv"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/storage"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := cli.App{
		Name:  "guildkeeper",
		Usage: "discord guild automation: triggers, modlog, reaction roles and starboards",
	}
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "connect to discord and serve until interrupted",
			Action: runBot,
		},
		{
			Name:   "migrate",
			Usage:  "apply database migrations and exit",
			Action: runMigrate,
		},
	}
	app.DefaultCommand = "run"
	app.RunAndExitOnError()
}

func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func runMigrate(cctx *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if cfg.PostgresURL != "" {
		hist, err := history.NewPostgresStore(cctx.Context, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("history init: %w", err)
		}
		defer hist.Close()
		if err := hist.Migrate(cctx.Context); err != nil {
			return fmt.Errorf("history migrations: %w", err)
		}
	}
	logger.Info("migrations applied")
	return nil
}

func runBot(cctx *cli.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	kvStore, err := kv.Open(cfg.KVPath)
	if err != nil {
		logger.Fatal("kv init failed", zap.Error(err))
	}
	defer kvStore.Close()

	var shared cache.Store
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, "guildkeeper:")
		if err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		shared = redisStore
	} else {
		shared = cache.NewMemStore()
	}
	defer shared.Close()

	var hist history.Store = history.NewMemStore()
	if cfg.PostgresURL != "" {
		pg, err := history.NewPostgresStore(cctx.Context, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("history init failed", zap.Error(err))
		}
		defer pg.Close()
		if err := pg.Migrate(cctx.Context); err != nil {
			logger.Fatal("history migrations failed", zap.Error(err))
		}
		hist = pg
	}

	auditLogger := audit.NewLogger(store, logger)
	botSvc, err := bot.New(cfg, logger, bot.Services{
		Store:   store,
		KV:      kvStore,
		Cache:   shared,
		History: hist,
		Audit:   auditLogger,
	})
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("role", cfg.Role))

	var health *bot.HealthServer
	if cfg.Health.Enabled {
		health = bot.NewHealthServer(cfg.Health, logger)
		health.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if health != nil {
		_ = health.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	return nil
}
