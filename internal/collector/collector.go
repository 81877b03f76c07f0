// Package collector walks the configured NUT servers and turns every UPS's
// variables into samples. Failures are isolated: a broken server or UPS is
// logged and left out of the result, never aborting its siblings.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/nut-exporter/internal/metrics"
	"github.com/sweeney/nut-exporter/internal/nut"
	"github.com/sweeney/nut-exporter/internal/telemetry"
)

// UPSTarget is one UPS to query on a server.
type UPSTarget struct {
	Name   string
	Labels map[string]string
}

// ServerTarget is one upsd server and the UPSes to query on it, in order.
type ServerTarget struct {
	nut.Target
	UPS []UPSTarget
}

// Collector runs sequential collection passes.
type Collector struct {
	Servers []ServerTarget
	Mapper  *metrics.Mapper
	Dial    nut.DialFunc
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Collect visits every server and UPS once, in configured order, and returns
// everything that could be collected. It only fails when ctx is done before
// the pass completes.
func (c *Collector) Collect(ctx context.Context) (*metrics.Result, error) {
	log := c.logger().With("collection", uuid.NewString())
	start := time.Now()
	res := metrics.NewResult()

	for _, srv := range c.Servers {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("collection aborted: %w", err)
		}
		c.collectServer(ctx, log, srv, res)
	}

	elapsed := time.Since(start)
	c.Metrics.ObserveCollection(elapsed, res.Len())
	log.Info("collection complete",
		"servers", len(c.Servers), "metrics", len(res.Names()), "samples", res.Len(), "duration", elapsed)
	return res, nil
}

func (c *Collector) collectServer(ctx context.Context, log *slog.Logger, srv ServerTarget, res *metrics.Result) {
	addr := srv.Addr()
	log = log.With("server", addr)

	if len(srv.UPS) == 0 {
		log.Warn("no UPSes defined for server; skipping")
		return
	}

	conn, err := c.Dial(ctx, srv.Target)
	if err != nil {
		log.Warn("connection failed; skipping server", "error", err)
		c.Metrics.ServerFailed(addr, nut.KindOf(err))
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("closing connection", "error", err)
		}
	}()
	log.Debug("connected")

	for _, ups := range srv.UPS {
		if ups.Name == "" {
			log.Warn("missing UPS name; skipping entry")
			continue
		}
		vars, err := conn.ListVariables(ups.Name)
		if err != nil {
			log.Warn("listing variables failed; skipping UPS", "ups", ups.Name, "error", err)
			c.Metrics.UPSFailed(addr, ups.Name, nut.KindOf(err))
			continue
		}
		samples := c.Mapper.Map(metrics.Target{UPS: ups.Name, Server: srv.Host, Labels: ups.Labels}, vars)
		res.Add(samples...)
		log.Debug("collected UPS", "ups", ups.Name, "vars", len(vars), "samples", len(samples))
	}
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
