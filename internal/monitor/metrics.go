package monitor

import (
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "futures_engine"

// Metrics holds the engine's Prometheus collectors on a private registry,
// plus plain counters for the JSON snapshot.
type Metrics struct {
	registry *prometheus.Registry

	entries       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	exits         *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	tradePnL      prometheus.Histogram
	openPositions prometheus.Gauge
	balance       prometheus.Gauge
	realized      prometheus.Gauge
	candles       prometheus.Counter

	entriesTotal    atomic.Uint64
	rejectionsTotal atomic.Uint64
	exitsTotal      atomic.Uint64
	alertsTotal     atomic.Uint64
	candlesTotal    atomic.Uint64
	open            atomic.Int64

	mu          sync.Mutex
	realizedPnL float64

	started time.Time
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Positions opened, by side",
		}, []string{"side"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_rejections_total",
			Help:      "Entries that did not become positions, by reason code",
		}, []string{"code"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Settled positions by close reason and side",
		}, []string{"reason", "side"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_alerts_total",
			Help:      "Risk alerts by kind (unprotected, flatten_failed, reconciliation diffs)",
		}, []string{"kind"}),
		tradePnL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_pnl_usdt",
			Help:      "Realized profit per settled position in USDT",
			Buckets:   []float64{-50, -20, -10, -5, -2, -1, 0, 1, 2, 5, 10, 20, 50},
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_balance_usdt",
			Help:      "Available balance after the last settlement",
		}),
		realized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_pnl_usdt",
			Help:      "Cumulative realized profit of this session",
		}),
		candles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_closed_total",
			Help:      "Closed candles ingested",
		}),
		started: time.Now(),
	}
	m.registry.MustRegister(
		m.entries, m.rejections, m.exits, m.alerts, m.tradePnL,
		m.openPositions, m.balance, m.realized, m.candles,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc adds a gauge read at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ObserveEntry(side string) {
	m.entries.WithLabelValues(side).Inc()
	m.entriesTotal.Add(1)
	m.openPositions.Set(float64(m.open.Add(1)))
}

func (m *Metrics) ObserveRejection(code string) {
	if code == "" {
		code = "other"
	}
	m.rejections.WithLabelValues(code).Inc()
	m.rejectionsTotal.Add(1)
}

func (m *Metrics) ObserveExit(reason, side string, pnl, balance float64) {
	m.exits.WithLabelValues(reason, side).Inc()
	m.tradePnL.Observe(pnl)
	m.balance.Set(balance)
	m.exitsTotal.Add(1)
	if n := m.open.Add(-1); n >= 0 {
		m.openPositions.Set(float64(n))
	} else {
		m.open.Store(0)
		m.openPositions.Set(0)
	}
	m.realized.Set(m.addRealized(pnl))
}

func (m *Metrics) ObserveAlert(kind string) {
	m.alerts.WithLabelValues(kind).Inc()
	m.alertsTotal.Add(1)
}

func (m *Metrics) ObserveCandle() {
	m.candles.Inc()
	m.candlesTotal.Add(1)
}

// SetBalance seeds the balance gauge before the first settlement.
func (m *Metrics) SetBalance(v float64) { m.balance.Set(v) }

func (m *Metrics) addRealized(pnl float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realizedPnL += pnl
	return m.realizedPnL
}

// MetricsSnapshot is the JSON view served next to /metrics.
type MetricsSnapshot struct {
	Entries        uint64    `json:"entries"`
	Rejections     uint64    `json:"rejections"`
	Exits          uint64    `json:"exits"`
	Alerts         uint64    `json:"alerts"`
	Candles        uint64    `json:"candles"`
	OpenPositions  int64     `json:"open_positions"`
	RealizedPnL    float64   `json:"realized_pnl"`
	GoroutineCount int       `json:"goroutine_count"`
	HeapAlloc      uint64    `json:"heap_alloc_bytes"`
	Uptime         string    `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.Lock()
	realized := m.realizedPnL
	m.mu.Unlock()

	return MetricsSnapshot{
		Entries:        m.entriesTotal.Load(),
		Rejections:     m.rejectionsTotal.Load(),
		Exits:          m.exitsTotal.Load(),
		Alerts:         m.alertsTotal.Load(),
		Candles:        m.candlesTotal.Load(),
		OpenPositions:  m.open.Load(),
		RealizedPnL:    realized,
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Uptime:         time.Since(m.started).Round(time.Second).String(),
		Timestamp:      time.Now(),
	}
}
