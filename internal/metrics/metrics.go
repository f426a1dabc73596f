package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Counter is a lightweight in-process counter for hot paths that should not
// pay the Prometheus label lookup cost.
type Counter struct {
	val  uint64
	name string
}

func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.val, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.val, n)
}

func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.val)
}

func (c *Counter) Name() string {
	return c.name
}

// Gauge tracks an int64 value atomically (e.g., replication lag in ms).
type Gauge struct {
	val  int64
	name string
}

func NewGauge(name string) *Gauge {
	return &Gauge{name: name}
}

func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.val, v)
}

func (g *Gauge) Get() int64 {
	return atomic.LoadInt64(&g.val)
}

func (g *Gauge) Name() string {
	return g.name
}

// Reporter periodically logs the lightweight metrics, for environments where
// the Prometheus endpoint is not scraped.
type Reporter struct {
	interval time.Duration
	counters []*Counter
	gauges   []*Gauge
	logger   *zap.Logger
}

func NewReporter(interval time.Duration, counters []*Counter, gauges []*Gauge, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{interval: interval, counters: counters, gauges: gauges, logger: logger}
}

func (r *Reporter) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	t := time.NewTicker(r.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, c := range r.counters {
					r.logger.Info("metric", zap.String("name", c.Name()), zap.Uint64("value", c.Value()))
				}
				for _, g := range r.gauges {
					r.logger.Info("metric", zap.String("name", g.Name()), zap.Int64("value", g.Get()))
				}
			}
		}
	}()
}
