package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"passing.thoughts/config"
	"passing.thoughts/internal/api"
	"passing.thoughts/internal/clock"
	"passing.thoughts/internal/ids"
	"passing.thoughts/internal/logger"
	"passing.thoughts/internal/metrics"
	"passing.thoughts/internal/store"
	"passing.thoughts/internal/thoughts"
	"passing.thoughts/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	envPath := flag.String("env", ".env", "path to env file")
	flag.Parse()

	if err := run(*configPath, *envPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, level, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := initStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	gen, err := ids.ForFormat(cfg.Thoughts.IDFormat)
	if err != nil {
		return err
	}

	collector := metrics.New("passing_thoughts")
	board := thoughts.New(st, clock.Real(), gen, thoughts.Options{
		Lifetime:      cfg.Thoughts.Lifetime,
		MaxTextLength: cfg.Thoughts.MaxTextLength,
		SweepInterval: cfg.Thoughts.SweepInterval,
		Logger:        log.Named("board"),
		Metrics:       collector,
	})
	hub := ws.New(board, log.Named("ws"))

	router := api.SetupRouter(api.RouterDeps{
		Board:   board,
		Hub:     hub,
		Metrics: collector,
		Config:  cfg,
		Logger:  log.Named("http"),
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return board.Run(ctx) })
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if cfg.Thoughts.Seed {
		g.Go(func() error {
			if err := board.Seed(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("seeding board: %w", err)
			}
			return nil
		})
	}

	if configPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, configPath, log.Named("config"), func(next *config.Config) {
				if err := logger.SetLevel(level, next.Log.Level); err != nil {
					log.Warn("ignoring log level", zap.Error(err))
				}
				board.SetLifetime(next.Thoughts.Lifetime)
			})
		})
	}

	g.Go(func() error {
		log.Info("server starting",
			zap.String("addr", cfg.Addr()),
			zap.String("store", cfg.Store.Type),
			zap.Duration("lifetime", cfg.Thoughts.Lifetime),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("server shutting down")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initStore(cfg *config.Config, log *zap.Logger) (store.Store, error) {
	var st store.Store
	switch cfg.Store.Type {
	case "redis":
		session := uuid.NewString()
		rs, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, session)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis store ready", zap.String("addr", cfg.Store.Redis.Addr), zap.String("session", session))
		st = rs
	default:
		st = store.NewMemoryStore()
	}

	if cfg.Store.Breaker.Enabled {
		st = store.NewBreakerStore(st, store.BreakerConfig{
			Name:        cfg.Store.Type,
			MaxFailures: cfg.Store.Breaker.MaxFailures,
			Timeout:     cfg.Store.Breaker.Timeout,
		}, log.Named("store"))
	}
	return st, nil
}
