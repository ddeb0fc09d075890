package metrics

import (
	"context"
	"net/http"
	"time"

	"soma-bot/internal/conversation"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "soma"

type Metrics struct {
	registry *prometheus.Registry

	Events       *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	Throttled    prometheus.Counter
	QueueDepth   prometheus.Gauge
	Orders       *prometheus.CounterVec
	OrderRows    prometheus.Counter
	AppendTiming *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "events_total",
			Help:      "Inbound events handled, by kind.",
		}, []string{"kind"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Events that failed, by stage.",
		}, []string{"stage"}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "throttled_total",
			Help:      "Events rejected by the per-user rate limit.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "backlog",
			Help:      "Events queued and not yet handled.",
		}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "finalized_total",
			Help:      "Finalized orders, by result.",
		}, []string{"result"}),
		OrderRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rows_written_total",
			Help:      "Order rows written to the sink.",
		}),
		AppendTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "append_duration_seconds",
			Help:      "Latency of a single sink append.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Events,
		m.Failures,
		m.Throttled,
		m.QueueDepth,
		m.Orders,
		m.OrderRows,
		m.AppendTiming,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventHandled(kind conversation.EventKind) {
	m.Events.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) EventFailed(stage string) {
	m.Failures.WithLabelValues(stage).Inc()
}

func (m *Metrics) EventThrottled() {
	m.Throttled.Inc()
}

func (m *Metrics) Backlog(n int) {
	m.QueueDepth.Set(float64(n))
}

// ObserveReceipt is meant for conversation.WithObserver.
func (m *Metrics) ObserveReceipt(r conversation.Receipt) {
	result := "placed"
	if r.Failed() {
		result = "failed"
	}
	m.Orders.WithLabelValues(result).Inc()
	m.OrderRows.Add(float64(r.Written))
}

// InstrumentSink times every append of the wrapped sink.
func (m *Metrics) InstrumentSink(name string, sink conversation.OrderSink) conversation.OrderSink {
	return &instrumentedSink{name: name, sink: sink, timing: m.AppendTiming}
}

type instrumentedSink struct {
	name   string
	sink   conversation.OrderSink
	timing *prometheus.HistogramVec
}

func (s *instrumentedSink) Append(ctx context.Context, rec conversation.OrderRecord) error {
	start := time.Now()
	err := s.sink.Append(ctx, rec)

	result := "ok"
	if err != nil {
		result = "error"
	}
	s.timing.WithLabelValues(s.name, result).Observe(time.Since(start).Seconds())
	return err
}
