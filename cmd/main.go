/*
Package main is the entry point for the trainchat server.

It is responsible for loading configuration, initializing the global logging system,
opening the backing store and its change feed, wiring the chat core, setting up the
HTTP server, starting the session Manager, and gracefully handling operating system
interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trainchat/internal/app/notify"
	"trainchat/internal/app/provision"
	"trainchat/internal/app/rooms"
	"trainchat/internal/app/session"
	"trainchat/internal/configs"
	"trainchat/internal/handler"
	"trainchat/internal/pkg/logx"
)

func main() {
	// Load configuration from .env and environment variables
	if err := configs.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load .env file: %v\n", err)
		os.Exit(1)
	}
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	if err := logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("store_driver", cfg.StoreDriver).
		Stringer("approver_role", cfg.ApproverRole).
		Dur("session_idle_timeout", cfg.SessionIdleTimeout).
		Bool("attachments", cfg.S3BucketName != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rules, err := loadRules(cfg)
	if err != nil {
		logx.Fatal(err, "Failed to load chat rules")
	}

	backing, err := openStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open backing store")
	}
	defer backing.close()

	if err := seedDirectory(ctx, cfg, backing); err != nil {
		logx.Fatal(err, "Failed to seed user directory")
	}

	attachments, err := newAttachments(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to initialize attachment storage")
	}

	// Wire the chat core
	dispatcher := notify.NewStoreDispatcher(backing.store, nil)
	registry := rooms.NewRegistry(backing.store)

	manager := session.NewManager(session.Deps{
		Store:       backing.store,
		Rules:       rules,
		Notifier:    dispatcher,
		IdleTimeout: cfg.SessionIdleTimeout,
	})
	dispatcher.SetPresence(manager)

	deps := &handler.AppDeps{
		Config:   cfg,
		Store:    backing.store,
		Registry: registry,
		Provisioner: provision.New(provision.Deps{
			Directory:    backing.store,
			Registry:     registry,
			Engine:       rules,
			Requests:     backing.store,
			Notifier:     dispatcher,
			ApproverRole: cfg.ApproverRole,
		}),
		Rules:       rules,
		Notifier:    dispatcher,
		Sessions:    manager,
		Attachments: attachments,
	}

	// Setup HTTP server and routes
	limits := handler.NewLimiters()
	defer limits.Stop()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Router(deps, limits),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("trainchat server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	manager.Shutdown()

	logx.Info("Server gracefully stopped.")
}
