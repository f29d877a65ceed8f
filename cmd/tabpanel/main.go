package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dgnsrekt/tabpanel/internal/api"
	"github.com/dgnsrekt/tabpanel/internal/backend"
	"github.com/dgnsrekt/tabpanel/internal/browser"
	"github.com/dgnsrekt/tabpanel/internal/capture"
	"github.com/dgnsrekt/tabpanel/internal/cdpcontrol"
	"github.com/dgnsrekt/tabpanel/internal/config"
	"github.com/dgnsrekt/tabpanel/internal/controller"
	"github.com/dgnsrekt/tabpanel/internal/inject"
	"github.com/dgnsrekt/tabpanel/internal/netutil"
	"github.com/dgnsrekt/tabpanel/internal/panel"
	"github.com/dgnsrekt/tabpanel/internal/relay"
	"github.com/dgnsrekt/tabpanel/internal/storage"
	"github.com/dgnsrekt/tabpanel/internal/types"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("tabpanel config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"port_candidates", cfg.PortCandidates,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"verify_delay_ms", cfg.VerifyDelayMS,
		"settings_file", cfg.SettingsFile,
		"db_path", cfg.DBPath,
		"journal_enabled", cfg.JournalEnabled,
		"log_level", cfg.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("tabpanel stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	settings, err := config.LoadSettings(cfg.SettingsFile, cfg.BackendURL)
	if err != nil {
		return err
	}

	store, err := storage.OpenExtractionStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Debug("extraction store close failed", "error", err)
		}
	}()

	broker := relay.NewBroker()
	if cfg.JournalEnabled {
		journal := storage.NewJournal(cfg.JournalDir, 1024, 50)
		// Outlives ctx so events published during shutdown are kept.
		jctx, jcancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			journalEvents(jctx, broker, journal)
		}()
		defer func() {
			jcancel()
			<-done
			if err := journal.Close(); err != nil {
				slog.Debug("journal close failed", "error", err)
			}
		}()
	}

	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	coord := inject.NewCoordinator(inject.NewRegistry(),
		panel.NewProber(cdpClient),
		panel.NewExecutor(cdpClient),
		inject.Options{
			VerifyDelay: cfg.VerifyDelay(),
			OpTimeout:   cfg.EvalTimeout(),
			AutoInject:  settings.AutoInject,
			OnTransition: func(tr types.Transition) {
				broker.PublishJSON(relay.FeedTransition, tr)
			},
		})
	defer coord.Close()

	backendClient := backend.NewClient(&http.Client{Timeout: cfg.BackendTimeout()})
	relayer := relay.New(cdpClient, backendClient, panel.NewModals(cdpClient), relay.Options{
		BackendURL:  settings.BackendURL,
		SettleDelay: cfg.ModalSettle(),
		Broker:      broker,
	})

	extractor := capture.NewExtractor(cfg.CDPURL())
	defer extractor.Close()

	var images controller.ImageSink
	if cfg.CanvasDir != "" {
		images = storage.NewImageWriter(cfg.CanvasDir)
	}

	svc := controller.NewService(controller.Deps{
		Browser:     cdpClient,
		Injector:    coord,
		Extractor:   extractor,
		Extractions: store,
		Images:      images,
		Relay:       relayer,
		Backend:     backendClient,
		Settings:    settings,
	})

	cdpClient.OnEvent(func(ev types.Event) {
		if err := coord.Dispatch(ev); err != nil {
			slog.Debug("tab event dropped", "kind", ev.Kind.String(), "tab_id", ev.TabID, "error", err)
		}
	})
	cdpClient.OnBinding(panel.BindingName, func(id types.TabID, payload string) {
		svc.HandlePanelMessage(ctx, id, payload)
	})

	if err := cdpClient.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	if err := svc.Sweep(ctx); err != nil {
		slog.Warn("startup sweep failed", "error", err)
	}
	go cdpClient.KeepAlive(ctx, func() {
		if err := svc.Sweep(ctx); err != nil {
			slog.Warn("resync after reconnect failed", "error", err)
		}
	})

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: api.NewServer(svc, broker), ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		addr := ln.Addr().String()
		slog.Info("tabpanel listening", "addr", addr, "docs", "http://"+addr+"/docs")
		serveErr <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tabpanel shutdown failed", "error", err)
	}
	return nil
}

// journalEvents copies every broker event into the status journal until ctx
// is cancelled.
func journalEvents(ctx context.Context, broker *relay.Broker, journal *storage.Journal) {
	id, ch := broker.Subscribe()
	defer broker.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			entry := storage.JournalEntry{Time: time.Now().UTC(), Feed: evt.Feed, ID: evt.ID, Data: json.RawMessage(evt.Payload)}
			if err := journal.Write(entry); err != nil {
				slog.Debug("journal write skipped", "error", err)
			}
		}
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
