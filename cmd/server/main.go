package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignite/delivery-stats/internal/api"
	"github.com/ignite/delivery-stats/internal/app"
	"github.com/ignite/delivery-stats/internal/config"
	"github.com/ignite/delivery-stats/internal/pkg/distlock"
	"github.com/ignite/delivery-stats/internal/pkg/logger"
)

const (
	runLockKey = "collector:run"
	runLockTTL = 30 * time.Minute
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %w", addr, err)
	}
	ln.Close()
	return nil
}

// extractHost returns the host part of a postgres DSN without credentials.
func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config.yaml")
	envFile := flag.String("env", ".env", "dotenv file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath, *envFile)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Database.URL != "" {
		logger.Info("database configured", "host", extractHost(cfg.Database.URL))
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		logger.Error("pre-flight check failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize collector", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	runs := api.NewRunManager(a, distlock.NewLock(a.Redis(), a.DB(), runLockKey, runLockTTL), runLockTTL)
	server := api.NewServer(cfg.Server, runs, api.NewHealthChecker(a.DB(), a.Redis()))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting ops server", "addr", addr, "accounts", len(a.Accounts()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	if err := runs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("active run did not stop in time", "error", err)
	}
	logger.Info("server stopped")
}
