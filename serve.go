package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"satunaskah/config"
	"satunaskah/config/database"
	"satunaskah/internal/document/repository"
	"satunaskah/internal/document/service"
	"satunaskah/internal/feed"
	"satunaskah/pkg/logger"
	"satunaskah/router"
	"satunaskah/socket"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	envErr := godotenv.Load()

	cfg := config.NewDefaultConfig()
	if err := config.Load(cmd.String("config"), cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := logger.Init(cfg.App.LogLevel); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()
	if envErr != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cmd.Bool("migrate") {
		if err := repository.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Sugar.Info("Schema is up to date")
	}

	bus, busCheck, err := openBus(cfg.Feed)
	if err != nil {
		return err
	}
	defer bus.Close()

	docs := service.NewDocumentService(repository.NewDocumentRepository(db), bus, nil)
	hub := socket.NewHub(bus, docs)
	docs.Rooms = hub
	sessions := service.NewSessionService(repository.NewSessionRepository(db), docs, bus)

	httpServer := &http.Server{
		Addr:              cfg.App.Address(),
		Handler:           router.Setup(cfg, docs, sessions, hub, db.PingContext, busCheck),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(gCtx) })

	g.Go(func() error {
		return sessions.SweepWorker(gCtx, cfg.Presence.SweepInterval, cfg.Presence.Retention)
	})

	g.Go(func() error {
		logger.Sugar.Infof("Go Backend listening on %s (feed: %s)", cfg.App.Address(), cfg.Feed.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Sugar.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Sugar.Errorf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Sugar.Errorf("Application error: %v", err)
		return err
	}
	logger.Sugar.Info("Server stopped successfully")
	return nil
}

// openBus picks the change-feed transport. A single node can use the in-process
// bus; several nodes behind a load balancer need Redis.
func openBus(cfg config.FeedConfig) (feed.Bus, router.HealthCheck, error) {
	switch cfg.Driver {
	case config.FeedDriverRedis:
		bus, err := feed.NewRedisBus(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis feed: %w", err)
		}
		return bus, bus.Ping, nil
	default:
		return feed.NewLocalBus(), func(context.Context) error { return nil }, nil
	}
}
