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

	"github.com/talentvine/webdesk/internal/config"
	"github.com/talentvine/webdesk/internal/database"
	"github.com/talentvine/webdesk/internal/logger"
	"github.com/talentvine/webdesk/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (yaml or json)")
	flag.Parse()

	if err := config.Load(*configPath); err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}
	cfg := config.Get()
	logger.SetLevel(cfg.Logging.Level)

	if err := database.Initialize(); err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	router, err := server.SetupRouter()
	if err != nil {
		logger.Fatal("Failed to set up server: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// No Read/WriteTimeout on the server itself: the relay WebSockets
	// stay open for the whole exam. Per-request timeouts apply at the
	// handler level instead.
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		logger.Info("WebDesk assessment service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	// Live sessions finalize first so every capture stream is released
	// and pending blobs are persisted before the listener stops.
	server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Forced shutdown: %v", err)
	}
}
