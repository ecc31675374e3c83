package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/InstruktAI/TeleClaude-sub007/internal/adapter"
	"github.com/InstruktAI/TeleClaude-sub007/internal/bus"
	"github.com/InstruktAI/TeleClaude-sub007/internal/channels"
	"github.com/InstruktAI/TeleClaude-sub007/internal/config"
	"github.com/InstruktAI/TeleClaude-sub007/internal/coordinator"
	"github.com/InstruktAI/TeleClaude-sub007/internal/directory"
	teleclaudemcp "github.com/InstruktAI/TeleClaude-sub007/internal/mcp"
	"github.com/InstruktAI/TeleClaude-sub007/internal/mcp/middleware"
	"github.com/InstruktAI/TeleClaude-sub007/internal/outbox"
	"github.com/InstruktAI/TeleClaude-sub007/internal/router"
	"github.com/InstruktAI/TeleClaude-sub007/internal/tunnel"
	"github.com/InstruktAI/TeleClaude-sub007/internal/watch"
	"github.com/InstruktAI/TeleClaude-sub007/internal/web"
	"github.com/InstruktAI/TeleClaude-sub007/internal/worker"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("teleclauded %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: teleclauded <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the TeleClaude daemon\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting teleclaude",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   config.ExpandHome(cfg.Server.LogFile),
			MaxSize:    20, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(rotated, &slog.HandlerOptions{Level: level}))
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Outbox store ---
	dbPath := config.ExpandHome(cfg.Database.Path)
	store, err := outbox.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info("database opened", "path", dbPath)

	// --- Status pipeline ---
	eventBus := bus.New()
	defer eventBus.Close()

	coord := coordinator.New(eventBus, coordinator.Config{
		FirstThreshold:   cfg.Stall.FirstThreshold,
		StalledThreshold: cfg.Stall.StalledThreshold,
	})

	// --- MCP server ---
	mcpServer := teleclaudemcp.NewServer(&teleclaudemcp.Deps{
		Sessions: coord,
		Store:    store,
		Version:  version,
	})
	mcpHTTP := server.NewStreamableHTTPServer(mcpServer)

	// --- Notification pipeline ---
	dir := directory.New(cfg.People)
	rtr := router.New(dir, store)

	senders := map[string]channels.Sender{
		"mcp": channels.NewMCPChannel(mcpServer),
	}
	if cfg.Channels.Webhook.Enabled {
		senders["webhook"] = channels.NewWebhookSender(cfg.Channels.Webhook.Secret)
	}
	if cfg.Channels.WebPush.Enabled {
		senders["webpush"] = channels.NewWebPushSender(
			cfg.Channels.WebPush.Subscriber,
			cfg.Channels.WebPush.VAPIDPublicKey,
			cfg.Channels.WebPush.VAPIDPrivateKey,
		)
	}

	deliverer := worker.New(store, senders, worker.Config{
		Interval:      cfg.Notifications.WorkerInterval,
		BatchSize:     cfg.Notifications.BatchSize,
		MaxRetries:    cfg.Notifications.MaxRetries,
		RetryBackoff:  cfg.Notifications.RetryBackoff,
		RatePerSecond: cfg.Notifications.RatePerSecond,
	})
	go deliverer.Run(ctx)

	// --- Result artifact watcher ---
	resultsDir := config.ExpandHome(cfg.Notifications.ResultsDir)
	watcher, err := watch.New(resultsDir, rtr, 0)
	if err != nil {
		return fmt.Errorf("creating result watcher: %w", err)
	}
	go watcher.Start()
	defer watcher.Stop()

	// --- Adapter fan-out ---
	registry := adapter.NewRegistry()
	registry.RegisterTransport(&mcpOriginAdapter{server: mcpServer})

	webSrv := web.NewServer(coord, store, eventBus)
	go webSrv.Run(ctx)
	registry.RegisterPresentation(web.NewFeedAdapter(webSrv.Hub()))

	mux := adapter.NewMultiplexer(registry, slog.Default())
	fan := newStatusFan(coord, mux, store)
	go fan.run(ctx, eventBus)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.SecurityHeaders)

	r.Group(func(r chi.Router) {
		r.Use(middleware.IPRateLimit(10, 20))
		r.Handle("/mcp", mcpHTTP)
	})

	r.Mount("/", webSrv.Routes())

	// --- HTTP server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("teleclaude is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- Tunnel (optional) ---
	if cfg.Tunnel.Enabled {
		tun := tunnel.NewNgrok(cfg.Tunnel.AuthToken, cfg.Tunnel.Domain)
		publicURL, err := tun.Start(ctx, addr)
		if err != nil {
			return fmt.Errorf("starting tunnel: %w", err)
		}
		defer func() { _ = tun.Close() }()

		slog.Info("public endpoint available", "url", publicURL)
		go func() {
			if err := srv.Serve(tun.Listener()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
