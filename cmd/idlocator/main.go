package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/idlocator/internal/api"
	"github.com/dgnsrekt/idlocator/internal/browser"
	"github.com/dgnsrekt/idlocator/internal/cdp"
	"github.com/dgnsrekt/idlocator/internal/cdpcontrol"
	"github.com/dgnsrekt/idlocator/internal/config"
	"github.com/dgnsrekt/idlocator/internal/controller"
	"github.com/dgnsrekt/idlocator/internal/locator"
	"github.com/dgnsrekt/idlocator/internal/netutil"
	"github.com/dgnsrekt/idlocator/internal/relay"
	"github.com/dgnsrekt/idlocator/internal/resolver"
	"github.com/dgnsrekt/idlocator/internal/settings"
	"github.com/dgnsrekt/idlocator/internal/storage"
	"github.com/dgnsrekt/idlocator/internal/tabstate"
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

	slog.Info("idlocator config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"tab_url_filter", cfg.TabURLFilter,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"resolver_url", cfg.ResolverURL,
		"resolver_timeout_ms", cfg.ResolverTimeoutMS,
		"settings_file", cfg.SettingsFile,
		"history_dir", cfg.HistoryDir,
		"launch_browser", cfg.LaunchBrowser,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	store, err := settings.Open(cfg.SettingsFile)
	if err != nil {
		slog.Error("failed to open settings", "path", cfg.SettingsFile, "error", err)
		os.Exit(1)
	}

	cdpClient := cdpcontrol.NewClient(cfg.GetCDPURL(), cfg.TabURLFilter, cfg.EvalTimeout())
	if err := cdpClient.Connect(context.Background()); err != nil {
		slog.Error("failed to connect CDP controller", "cdp_url", cfg.GetCDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	registry := cdp.NewTabRegistry()
	history := storage.NewHistoryWriter(cfg.HistoryDir, cfg.HistoryMaxSizeMB, func(tabID string) (string, bool) {
		rec, ok := registry.GetByStringID(tabID)
		return rec.PathSegment, ok
	})
	defer func() {
		if err := history.Close(); err != nil {
			slog.Warn("history close failed", "error", err)
		}
	}()

	broker := relay.NewBroker()
	feed := relay.NewIndicatorFeed(broker)

	coord := tabstate.New(tabstate.Deps{
		Resolver:      resolver.New(cfg.ResolverURL, &http.Client{Timeout: cfg.ResolverTimeout()}),
		Settings:      store,
		Surfaces:      cdpClient,
		Publisher:     feed,
		Recorder:      history,
		EngineOptions: []locator.Option{locator.WithTallThreshold(float64(cfg.LabelTallPX))},
	})
	defer coord.Close()

	svc := controller.NewService(cdpClient, coord, store, registry)
	cdpClient.OnPageEvent(svc.HandlePageEvent)

	watcher := cdp.NewWatcher(cfg.GetCDPURL(), cdpClient, coord, registry)
	if err := watcher.Start(context.Background()); err != nil {
		slog.Error("failed to start tab watcher", "cdp_url", cfg.GetCDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			slog.Debug("watcher close failed", "error", err)
		}
	}()

	h := api.NewServer(svc, relay.SSEHandler(broker, feed.Current))
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("idlocator listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("idlocator server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("idlocator shutdown failed", "error", err)
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
