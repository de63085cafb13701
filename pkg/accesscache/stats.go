package accesscache

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/prizmrun/prizm/pkg/observability"
)

// Sizer is a cache that can report how many entries it holds
type Sizer interface {
	Len() int
}

// StatsReporter periodically publishes in-process cache sizes as gauges
type StatsReporter struct {
	cron    *cron.Cron
	caches  map[string]Sizer
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewStatsReporter schedules a size report on spec, a robfig/cron expression
// such as "@every 30s"
func NewStatsReporter(spec string, caches map[string]Sizer, metrics *observability.Metrics, logger *observability.Logger) (*StatsReporter, error) {
	r := &StatsReporter{
		cron:    cron.New(),
		caches:  caches,
		metrics: metrics,
		logger:  logger.Component("access_cache_stats"),
	}
	if _, err := r.cron.AddFunc(spec, r.Report); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", spec, err)
	}
	return r, nil
}

// Report publishes the current sizes once
func (r *StatsReporter) Report() {
	defer observability.RecoverPanic(r.logger, "cache stats report")

	for name, cache := range r.caches {
		n := cache.Len()
		r.metrics.SetCacheEntries(name, n)
		r.logger.WithField("cache", name).WithField("entries", n).Debug("access cache size")
	}
}

// AddJob runs fn on the same schedule, for other gauges reported alongside
// the cache sizes
func (r *StatsReporter) AddJob(spec string, fn func()) error {
	if _, err := r.cron.AddFunc(spec, func() {
		defer observability.RecoverPanic(r.logger, "stats job")
		fn()
	}); err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", spec, err)
	}
	return nil
}

// Start begins the schedule
func (r *StatsReporter) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running report to finish
func (r *StatsReporter) Stop(ctx context.Context) error {
	stopped := r.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
