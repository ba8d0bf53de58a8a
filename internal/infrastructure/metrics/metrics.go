package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alphawatch/internal/application/port"
	"alphawatch/internal/domain/model"
)

const namespace = "alphawatch"

// Metrics implements port.Metrics on its own registry so tests and multiple
// instances never collide on the default one.
type Metrics struct {
	reg *prometheus.Registry

	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	events        *prometheus.CounterVec
	skipped       prometheus.Counter
	sends         *prometheus.CounterVec
	lastPromotion prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Monitor ticks by outcome"},
			[]string{"outcome"},
		),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds", Help: "Wall time of one monitor tick",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "trade_events_total", Help: "Trade events detected"},
			[]string{"type"},
		),
		skipped: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "skipped_entries_total", Help: "Malformed snapshot entries skipped during diff"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "channel_sends_total", Help: "Notification sends by channel and result"},
			[]string{"channel", "result"},
		),
		lastPromotion: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "last_promotion_timestamp_seconds", Help: "Unix time of the last successful promotion"},
		),
	}
	m.reg.MustRegister(m.ticks, m.tickDuration, m.events, m.skipped, m.sends, m.lastPromotion,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func (m *Metrics) TickCompleted(outcome string, d time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.ticks.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) EventEmitted(kind model.EventKind) {
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) EntriesSkipped(n int) {
	m.skipped.Add(float64(n))
}

func (m *Metrics) ChannelSend(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sends.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) Promoted(at time.Time) {
	m.lastPromotion.Set(float64(at.Unix()))
}

var _ port.Metrics = (*Metrics)(nil)
