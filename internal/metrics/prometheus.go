package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "dn_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cycles := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_completed_total",
		Help:      "Total number of completed strategy cycles.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed across both venues.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures.",
	})
	closeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "close_failures_total",
		Help:      "Total number of per-venue close failures.",
	})
	unhedgedOpens := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "unhedged_opens_total",
		Help:      "Total number of open steps that left a single unhedged leg.",
	})
	lastPnL := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "last_cycle_pnl",
		Help:      "Realized PnL of the most recent cycle in quote currency.",
	})
	realizedPnL := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "realized_pnl_total",
		Help:      "Cumulative realized PnL across cycles in quote currency.",
	})

	registry.MustRegister(cycles, ordersPlaced, ordersFailed, closeFailures, unhedgedOpens, lastPnL, realizedPnL)

	m := &Metrics{
		CyclesCompleted: promCounter{cycles},
		OrdersPlaced:    promCounter{ordersPlaced},
		OrdersFailed:    promCounter{ordersFailed},
		CloseFailures:   promCounter{closeFailures},
		UnhedgedOpens:   promCounter{unhedgedOpens},
		LastCyclePnL:    promGauge{lastPnL},
		RealizedPnL:     promGauge{realizedPnL},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
