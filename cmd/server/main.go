package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/intake/internal/auth"
	"github.com/JonMunkholm/intake/internal/caseapi"
	"github.com/JonMunkholm/intake/internal/config"
	"github.com/JonMunkholm/intake/internal/core"
	"github.com/JonMunkholm/intake/internal/logging"
	"github.com/JonMunkholm/intake/internal/store"
	"github.com/JonMunkholm/intake/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open case store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("connected to case store", "driver", cfg.Database.Driver)

	// Submissions go to the local store unless a remote case service is set.
	var gateway core.CaseGateway = st
	if cfg.CaseAPI.UsesCaseAPI() {
		client, err := caseapi.New(cfg.CaseAPI.BaseURL, cfg.CaseAPI.Token)
		if err != nil {
			slog.Error("invalid case API configuration", "error", err)
			os.Exit(1)
		}
		gateway = client
		slog.Info("submitting to remote case service", "url", cfg.CaseAPI.BaseURL)
	}

	authenticator, err := auth.New(cfg.Security)
	if err != nil {
		slog.Error("failed to configure authentication", "error", err)
		os.Exit(1)
	}
	if !cfg.Security.RequireAuth {
		slog.Warn("authentication is optional; submissions still need an operator")
	}

	service := core.NewService(gateway, core.Options{
		MaxFileSize:         cfg.Import.MaxFileSize,
		MaxRows:             cfg.Import.MaxRows,
		MaxConcurrentParses: cfg.Import.MaxConcurrentParses,
		ParseWait:           cfg.Import.ParseWait,
		ParseTimeout:        cfg.Import.ParseTimeout,
		RequestTimeout:      cfg.Import.RequestTimeout,
	})

	server := web.NewServer(cfg, service, st, authenticator)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartSessionReaper(jobCtx, core.ReaperConfig{
		TTL:      cfg.Import.SessionTTL,
		Interval: cfg.Import.ReaperInterval,
	})

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first, then let running submissions
		// record their final import status.
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("import sessions did not finish in time", "error", err)
		} else {
			slog.Info("all import sessions finished")
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
