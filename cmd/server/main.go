// meetlog - Google Meet chat capture server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/meetlog/internal/api"
	"github.com/ashureev/meetlog/internal/browser"
	"github.com/ashureev/meetlog/internal/capture"
	"github.com/ashureev/meetlog/internal/clock"
	"github.com/ashureev/meetlog/internal/config"
	"github.com/ashureev/meetlog/internal/lifecycle"
	"github.com/ashureev/meetlog/internal/middleware"
	"github.com/ashureev/meetlog/internal/notify"
	"github.com/ashureev/meetlog/internal/store"
	"github.com/ashureev/meetlog/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const replayBuffer = 256

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "grpc_addr", cfg.GRPCAddr)

	// Initialize dependencies.
	kv, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := kv.Close(); closeErr != nil {
			slog.Error("Failed to close store", "error", closeErr)
		}
	}()
	if err := kv.Ping(ctx); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	chrome, err := browser.Connect(ctx, browser.Options{
		DebuggerURL:  cfg.Browser.DebuggerURL,
		Bin:          cfg.Browser.Bin,
		Headless:     cfg.Browser.Headless,
		PollInterval: cfg.Browser.PollInterval,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := chrome.Close(); closeErr != nil {
			slog.Error("Failed to close browser", "error", closeErr)
		}
	}()

	page, err := chrome.Open(ctx, cfg.Browser.MeetingURL)
	if err != nil {
		return err
	}

	// Initialize services.
	hub := notify.NewHub(replayBuffer, logger)
	defer hub.Close()
	sink := notify.Multi{hub, notify.SinkFunc(func(e notify.Event) {
		slog.Debug("[NOTIFY] Event", "type", e.Kind())
	})}

	rules := capture.DefaultRules()
	rules.SelfLabel = cfg.Capture.SelfLabel
	rules.ParticipantLabel = cfg.Capture.ParticipantLabel

	messages := capture.NewDedupStore(kv, cfg.Capture.MaxMessages, cfg.Capture.FuzzyWindow)
	coord := lifecycle.New(page, kv, messages, sink, clock.Real(), lifecycle.Config{
		Rules:         rules,
		Debounce:      cfg.Capture.Debounce,
		MaxPending:    cfg.Capture.MaxPending,
		RetryInterval: cfg.Capture.RetryInterval,
		MaxAttempts:   cfg.Capture.MaxAttempts,
		OpTimeout:     10 * time.Second,
	}, logger)

	if _, err := coord.CheckRecovery(ctx); err != nil {
		slog.Warn("Recovery check failed", "error", err)
	}

	// Initialize handlers.
	streamCfg := notify.DefaultStreamConfig()
	streamCfg.RetryDelay = cfg.SSE.RetryDelay
	streamCfg.KeepaliveInterval = cfg.SSE.KeepaliveInterval
	streamCfg.OriginPatterns = cfg.AllowedOrigins
	streams := notify.NewStreamHandler(hub, streamCfg, logger)
	apiHandler := api.NewHandler(coord, kv, streams, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	apiHandler.RegisterRoutes(r)

	// Serve embedded dashboard (catch-all).
	r.Handle("/*", web.Handler())

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	grpcServer := grpc.NewServer()
	notify.RegisterGRPC(grpcServer, hub, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("gRPC listening", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	unloaded := make(chan string, 1)
	g.Go(func() error {
		page.WatchUnload(gctx, func(reason string) { unloaded <- reason })
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			slog.Info("Shutting down gracefully...")
		case reason := <-unloaded:
			slog.Warn("Meeting tab went away, shutting down", "reason", reason)
		}

		// The observed page is going away: persist what was captured.
		unloadCtx, cancelUnload := context.WithTimeout(context.Background(), 10*time.Second)
		if err := coord.Unload(unloadCtx); err != nil {
			slog.Error("Failed to persist interrupted session", "error", err)
		}
		cancelUnload()

		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		grpcDone := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(grpcDone)
		}()
		select {
		case <-grpcDone:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	return g.Wait()
}
