package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/sweeney/nut-exporter/internal/cache"
	"github.com/sweeney/nut-exporter/internal/collector"
	"github.com/sweeney/nut-exporter/internal/config"
	"github.com/sweeney/nut-exporter/internal/metrics"
	"github.com/sweeney/nut-exporter/internal/nut"
	"github.com/sweeney/nut-exporter/internal/publisher"
	"github.com/sweeney/nut-exporter/internal/server"
	"github.com/sweeney/nut-exporter/internal/telemetry"
)

const (
	defaultListen   = ":9199"
	shutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "./config.json", "path to config file")
	listen := flag.String("listen", "", "listen address, overrides the config file")
	check := flag.Bool("check", false, "verify the configured UPSes exist on their servers and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(*configPath, "/etc/nut-exporter/config.json",
		"/etc/nut-exporter/config.toml", "/etc/nut-exporter/config.yaml")
	if err != nil {
		slog.Error("loading config", "error", err)
		if *check {
			os.Exit(1)
		}
		// Keep answering scrapes so the failure is visible to Prometheus.
		addr := *listen
		if addr == "" {
			addr = defaultListen
		}
		if err := serve(ctx, addr, server.NewConfigError(err), slog.Default()); err != nil {
			slog.Error("http server", "error", err)
			os.Exit(1)
		}
		return
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	if *check {
		os.Exit(runCheck(cfg, nut.Inventory, os.Stdout))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("nut-exporter starting",
		"servers", len(cfg.Servers), "listen", cfg.Listen, "metrics_path", cfg.MetricsPath,
		"cache_ttl", cfg.TTL(), "mqtt", cfg.MQTT.Broker)

	tm := telemetry.New()

	// Connect to the MQTT broker first so the LWT is registered before any
	// collection runs.
	var pub publisher.Publisher
	if cfg.MQTT.Enabled() {
		statusTopic := publisher.StatusTopic(cfg.MQTT.TopicPrefix)
		mp, err := publisher.NewMQTTPublisher(cfg.MQTT, statusTopic, publisher.FormatOffline())
		if err != nil {
			return fmt.Errorf("connecting to MQTT broker: %w", err)
		}
		pub = mp
		defer func() {
			// Always publish the offline announcement.
			off := publisher.Message{Topic: statusTopic, Payload: publisher.FormatOffline(), Retained: true}
			if err := pub.Publish(off); err != nil {
				logger.Warn("publishing offline announcement", "error", err)
			}
			pub.Close() //nolint:errcheck
		}()
		on := publisher.Message{Topic: statusTopic, Payload: publisher.FormatOnline(), Retained: true}
		if err := pub.Publish(on); err != nil {
			logger.Warn("publishing online announcement", "error", err)
		}
	}

	c := &collector.Collector{
		Servers: buildTargets(cfg),
		Mapper:  metrics.NewMapper(metrics.Rules{Filter: cfg.FilterMetrics, Rename: cfg.RenameVars}),
		Dial: nut.NewDialer(nut.Options{
			ConnectTimeout: cfg.ConnectTimeout.Duration,
			ReadTimeout:    cfg.ReadTimeout.Duration,
			Logger:         logger,
		}),
		Logger:  logger,
		Metrics: tm,
	}
	collect := mirrorCollect(c.Collect, pub, publisher.PublishConfig{
		Prefix:   cfg.MQTT.TopicPrefix,
		Retained: cfg.MQTT.Retained,
	}, logger, tm)

	coord := cache.NewCoordinator(newStore(cfg), cache.Options{
		TTL:     cfg.TTL(),
		Logger:  logger,
		Metrics: tm,
	})
	serveMetrics := func(ctx context.Context) ([]byte, error) {
		return coord.Serve(ctx, collect, metrics.RenderBytes)
	}

	if cfg.TelemetryListen != "" {
		go func() {
			if err := serve(ctx, cfg.TelemetryListen, server.NewTelemetry(tm.Handler()), logger); err != nil {
				logger.Error("telemetry server", "error", err)
			}
		}()
	}

	err := serve(ctx, cfg.Listen, server.New(cfg.MetricsPath, serveMetrics, logger), logger)
	logger.Info("shutting down")
	return err
}

// serve runs handler on addr until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listening on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildTargets converts configured servers into collection targets,
// preserving configured order.
func buildTargets(cfg *config.Config) []collector.ServerTarget {
	targets := make([]collector.ServerTarget, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		t := collector.ServerTarget{Target: nut.Target{
			Host:     s.Host,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
		}}
		for _, u := range s.UPSes {
			t.UPS = append(t.UPS, collector.UPSTarget{Name: u.Name, Labels: u.Labels})
		}
		targets = append(targets, t)
	}
	return targets
}

// newStore selects the artifact store. The in-memory artifact is retained
// for one TTL, after which the coordinator would regenerate it anyway.
func newStore(cfg *config.Config) cache.Store {
	if cfg.CacheFile != "" {
		return cache.NewFileStore(cfg.CacheFile)
	}
	return cache.NewMemoryStore(cfg.TTL())
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// mirrorCollect wraps collect so every fresh result is also published to
// MQTT. Publish failures are logged and never fail the scrape. A nil pub
// returns collect unchanged.
func mirrorCollect(collect cache.CollectFunc, pub publisher.Publisher, pcfg publisher.PublishConfig,
	logger *slog.Logger, tm *telemetry.Metrics) cache.CollectFunc {
	if pub == nil {
		return collect
	}
	return func(ctx context.Context) (*metrics.Result, error) {
		res, err := collect(ctx)
		if err != nil {
			return nil, err
		}
		if err := publisher.PublishAll(res, pcfg, pub); err != nil {
			logger.Warn("mirroring collection to MQTT", "error", err)
			tm.PublishFailed()
		}
		return res, nil
	}
}

// InventoryFunc lists the UPS names a server advertises.
type InventoryFunc func(nut.Target) ([]string, error)

// runCheck compares every server's configured UPSes with the ones it
// advertises and returns the process exit code.
func runCheck(cfg *config.Config, inventory InventoryFunc, w io.Writer) int {
	code := 0
	for _, s := range buildTargets(cfg) {
		advertised, err := inventory(s.Target)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", s.Addr(), err)
			code = 1
			continue
		}
		names := make([]string, len(s.UPS))
		for i, u := range s.UPS {
			names[i] = u.Name
		}
		missing := nut.MissingUPS(names, advertised)
		for _, m := range missing {
			fmt.Fprintf(w, "%s: UPS %q not found\n", s.Addr(), m)
		}
		if len(missing) > 0 {
			code = 1
			continue
		}
		fmt.Fprintf(w, "%s: ok (%d UPS)\n", s.Addr(), len(names))
	}
	return code
}
