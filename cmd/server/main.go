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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/duet-canvas/internal/config"
	"github.com/DoyleJ11/duet-canvas/internal/httpapi"
	"github.com/DoyleJ11/duet-canvas/internal/hub"
	"github.com/DoyleJ11/duet-canvas/internal/inpaint"
	"github.com/DoyleJ11/duet-canvas/internal/lobby"
	"github.com/DoyleJ11/duet-canvas/internal/observability"
	"github.com/DoyleJ11/duet-canvas/internal/storage/postgres"
	"github.com/DoyleJ11/duet-canvas/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lobbyOpts := lobby.Options{
		InboxSize:      cfg.Session.InboxSize,
		ArchiveTimeout: cfg.Archive.WriteTimeout,
		Logger:         log,
	}
	if cfg.Inpaint.Token == "" {
		log.Warn("no inpainting token configured; completion calls will be rejected upstream")
	}
	client := inpaint.NewHTTPClient(cfg.Inpaint.URL, cfg.Inpaint.Token)
	lobbyOpts.Inpainter = inpaint.NewOrchestrator(client, cfg.Inpaint.Timeout, cfg.Inpaint.Size, log.Named("inpaint"))

	if cfg.Archive.DSN != "" {
		archive, err := postgres.Open(cfg.Archive.DSN)
		if err != nil {
			return err
		}
		defer archive.Close()
		lobbyOpts.Archiver = archive
		log.Info("game archive enabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	// Sessions stop with the process context; their sockets are released.
	h := hub.NewHub(gctx, hub.Options{
		LobbyOptions: lobbyOpts,
		InboxSize:    cfg.Session.InboxSize,
		Logger:       log,
	})

	handler := httpapi.SetupRoutes(h, httpapi.RouterOptions{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		CreateRateLimit:  cfg.HTTP.CreateRateLimit,
		CreateRateWindow: cfg.HTTP.CreateRateWindow,
		Gateway: ws.Options{
			OutboxSize:   cfg.Session.OutboxSize,
			ReadLimit:    cfg.HTTP.ReadLimit,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			Logger:       log.Named("ws"),
		},
		Logger: log,
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
