package metrics

import (
	"context"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exporta eventos del engine y ciclos del keeper como métricas de
// Prometheus. Es a la vez event sink y notifier del keeper.
type Collector struct {
	events     *prometheus.CounterVec
	positions  *prometheus.GaugeVec
	rebalances prometheus.Counter
	failures   prometheus.Counter
	cycle      prometheus.Histogram
}

// NewCollector registra las métricas en reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdp_events_total",
			Help: "Engine events emitted, by kind.",
		}, []string{"kind"}),
		positions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cdp_keeper_positions",
			Help: "Positions seen in the last keeper cycle, by outcome.",
		}, []string{"state"}),
		rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdp_keeper_rebalances_total",
			Help: "Rebalance steps executed by the keeper.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdp_keeper_failures_total",
			Help: "Positions the keeper failed to evaluate or rebalance.",
		}),
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdp_keeper_cycle_seconds",
			Help:    "Duration of keeper cycles.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	for _, col := range []prometheus.Collector{c.events, c.positions, c.rebalances, c.failures, c.cycle} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Publish implementa ports.EventSink.
func (c *Collector) Publish(_ context.Context, ev domain.Event) error {
	c.events.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// Notify implementa ports.Notifier.
func (c *Collector) Notify(_ context.Context, r domain.KeeperReport) error {
	for _, action := range []domain.KeeperAction{
		domain.KeeperSkipped, domain.KeeperHealthy, domain.KeeperRebalanced, domain.KeeperFailed,
	} {
		c.positions.WithLabelValues(string(action)).Set(float64(r.Count(action)))
	}
	c.rebalances.Add(float64(r.Count(domain.KeeperRebalanced)))
	c.failures.Add(float64(r.Count(domain.KeeperFailed)))
	c.cycle.Observe(r.Duration.Seconds())
	return nil
}
