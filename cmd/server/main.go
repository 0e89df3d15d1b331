package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/RonakMehtaa/PlayChess/internal/chess"
	"github.com/RonakMehtaa/PlayChess/internal/chess/uci"
	appcfg "github.com/RonakMehtaa/PlayChess/internal/config"
	"github.com/RonakMehtaa/PlayChess/internal/game"
	"github.com/RonakMehtaa/PlayChess/internal/httpapi"
	"github.com/RonakMehtaa/PlayChess/internal/obslog"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer logger.Sync()

	tuning, err := chess.LoadTuning(cfg.EngineConfig)
	if err != nil {
		logger.Fatal("engine tuning error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := uci.New(ctx, uci.Config{
		BinaryPath:      cfg.StockfishPath,
		Threads:         tuning.Threads,
		HashMB:          tuning.HashMB,
		RestartAttempts: tuning.RestartAttempts,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("engine start error", zap.String("binary", cfg.StockfishPath), zap.Error(err))
	}
	defer engine.Close()

	var store game.Store
	if cfg.RedisURL != "" {
		store, err = game.NewRedisStore(cfg.RedisURL, cfg.GameIdleTTL)
		if err != nil {
			logger.Fatal("redis store error", zap.Error(err))
		}
		logger.Info("using redis session store")
	} else {
		store = game.NewMemoryStore()
		logger.Info("using in-memory session store")
	}

	mgr := game.NewManager(store, engine, tuning, logger)
	mgr.StartSweeper(ctx, cfg.SweepInterval, cfg.GameIdleTTL)

	router := httpapi.NewRouter(mgr, cfg.AllowedOrigins, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
		os.Exit(1)
	}
}
