// Package cache decides whether a scrape is answered from the last rendered
// artifact or from a fresh collection.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sweeney/nut-exporter/internal/metrics"
	"github.com/sweeney/nut-exporter/internal/telemetry"
)

// ErrPipeline wraps any failure while collecting or rendering. No artifact
// is written when it is returned.
var ErrPipeline = errors.New("collection pipeline failed")

const regenerateKey = "regenerate"

// CollectFunc produces a fresh collection result.
type CollectFunc func(ctx context.Context) (*metrics.Result, error)

// RenderFunc turns a result into the exposition body.
type RenderFunc func(*metrics.Result) ([]byte, error)

// Options configures a Coordinator.
type Options struct {
	TTL     time.Duration
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Coordinator serves the cached artifact while it is younger than the TTL and
// regenerates it otherwise. Concurrent stale requests share one regeneration.
type Coordinator struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	log     *slog.Logger
	metrics *telemetry.Metrics
	group   singleflight.Group
}

// NewCoordinator returns a Coordinator over store.
func NewCoordinator(store Store, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		store:   store,
		ttl:     opts.TTL,
		now:     opts.Now,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Serve returns the current exposition body. The returned slice may be shared
// with other callers and must not be modified.
func (c *Coordinator) Serve(ctx context.Context, collect CollectFunc, render RenderFunc) ([]byte, error) {
	if a, ok := c.fresh(); ok {
		c.metrics.ObserveCache(telemetry.CacheHit)
		return a.Body, nil
	}

	v, err, shared := c.group.Do(regenerateKey, func() (any, error) {
		// Another caller may have refreshed the artifact while we waited.
		if a, ok := c.fresh(); ok {
			return served{body: a.Body, hit: true}, nil
		}
		body, err := c.regenerate(context.WithoutCancel(ctx), collect, render)
		return served{body: body}, err
	})
	if err != nil {
		c.metrics.ObserveCache(telemetry.CacheError)
		return nil, err
	}
	s := v.(served)
	if s.hit {
		c.metrics.ObserveCache(telemetry.CacheHit)
	} else {
		c.metrics.ObserveCache(telemetry.CacheMiss)
	}
	if shared {
		c.log.Debug("shared in-flight regeneration")
	}
	return s.body, nil
}

// served is the outcome of one singleflight call. hit is set when the
// artifact was already fresh and nothing was collected.
type served struct {
	body []byte
	hit  bool
}

func (c *Coordinator) fresh() (Artifact, bool) {
	a, ok, err := c.store.Load()
	if err != nil {
		c.log.Warn("reading cached metrics; treating as absent", "error", err)
		return Artifact{}, false
	}
	if !ok {
		return Artifact{}, false
	}
	age := c.now().Sub(a.CreatedAt)
	return a, age >= 0 && age < c.ttl
}

func (c *Coordinator) regenerate(ctx context.Context, collect CollectFunc, render RenderFunc) ([]byte, error) {
	res, err := collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: collecting: %w", ErrPipeline, err)
	}
	body, err := render(res)
	if err != nil {
		return nil, fmt.Errorf("%w: rendering: %w", ErrPipeline, err)
	}

	if err := c.store.Save(Artifact{Body: body, CreatedAt: c.now()}); err != nil {
		c.log.Warn("saving cached metrics", "error", err)
	}
	return body, nil
}
