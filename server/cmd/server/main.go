package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forecasthub/forecasthub/server/internal/api"
	"github.com/forecasthub/forecasthub/server/internal/config"
	"github.com/forecasthub/forecasthub/server/internal/feed"
	"github.com/forecasthub/forecasthub/server/internal/hub"
	"github.com/forecasthub/forecasthub/server/internal/metrics"
	"github.com/forecasthub/forecasthub/server/internal/snapshot"
	"github.com/forecasthub/forecasthub/server/internal/ws"
)

// drainTimeout bounds how long shutdown waits for in-flight sends.
const drainTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	slog.SetDefault(newLogger(os.Stdout, "json", level))

	slog.Info("forecasthub starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Log.SlogLevel())
	slog.SetDefault(newLogger(os.Stdout, cfg.Log.Format, level))

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"broadcast_interval", cfg.Server.BroadcastInterval,
		"send_timeout", cfg.Server.SendTimeout,
		"max_connections", cfg.Server.MaxConnections,
		"feed_days", cfg.Feed.Days,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	weather := feed.NewWeather(cfg.Feed.Days, nil)
	sched := hub.New(weather, &snapshot.Cache{}, hub.Options{
		Interval:    cfg.Server.BroadcastInterval,
		SendTimeout: cfg.Server.SendTimeout,
		Metrics:     metrics.New(reg),
	})
	if err := sched.Start(); err != nil {
		slog.Error("failed to start broadcast scheduler", "err", err)
		os.Exit(1)
	}

	wsSrv := ws.NewServer(sched, cfg.Server.MaxConnections)
	metrics.RegisterSessions(reg, wsSrv.Count)

	// Hot reload: log level, feed size, cadence and connection cap.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Log.SlogLevel())
			weather.SetDays(updated.Feed.Days)
			wsSrv.SetMaxConnections(updated.Server.MaxConnections)
			if err := sched.SetInterval(updated.Server.BroadcastInterval); err != nil {
				slog.Error("config: keeping broadcast interval", "err", err)
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(sched, weather))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle(cfg.Server.WebSocketPath, wsSrv)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort, "ws_path", cfg.Server.WebSocketPath)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("forecasthub shutting down")

	// Hijacked WebSocket connections are not tracked by http.Server; the hub
	// closes them.
	sched.Shutdown()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := sched.Drain(drainCtx); err != nil {
		slog.Warn("in-flight sends did not finish", "err", err)
	}
	httpSrv.Shutdown(drainCtx) //nolint:errcheck
}

// newLogger builds the process logger. format is json or text.
func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
