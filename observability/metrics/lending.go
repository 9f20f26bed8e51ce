package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics tracks engine activity derived from committed events.
type LendingMetrics struct {
	events          *prometheus.CounterVec
	loansOpened     prometheus.Counter
	loansClosed     *prometheus.CounterVec
	principal       *prometheus.CounterVec
	seized          *prometheus.CounterVec
	penalties       *prometheus.CounterVec
	cacheFailures   *prometheus.CounterVec
	activeOrders    prometheus.Gauge
	reservedBalance *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide metrics registered on the default registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = NewLending(prometheus.DefaultRegisterer)
	})
	return lendingRegistry
}

// NewLending builds and registers a metrics set on reg.
func NewLending(reg prometheus.Registerer) *LendingMetrics {
	m := &LendingMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "events_total",
			Help:      "Committed engine events by type.",
		}, []string{"type"}),
		loansOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "loans_opened_total",
			Help:      "Loans opened by a finalized match.",
		}),
		loansClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "loans_closed_total",
			Help:      "Loans reaching a terminal status.",
		}, []string{"status"}),
		principal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "principal_disbursed",
			Help:      "Principal disbursed in base units by borrow asset.",
		}, []string{"asset"}),
		seized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "collateral_seized",
			Help:      "Collateral seized by liquidations in base units.",
		}, []string{"asset"}),
		penalties: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "penalties_total",
			Help:      "Late penalty ledger movements by kind.",
		}, []string{"kind"}),
		cacheFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intentlend",
			Subsystem: "viewcache",
			Name:      "push_failures_total",
			Help:      "Best-effort view updates that failed, by view.",
		}, []string{"view"}),
		activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "intentlend",
			Subsystem: "engine",
			Name:      "active_orders",
			Help:      "Orders opened minus orders closed since start.",
		}),
		reservedBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "intentlend",
			Subsystem: "escrow",
			Name:      "reserved_balance",
			Help:      "Funds held by active reservations in base units.",
		}, []string{"asset"}),
	}
	reg.MustRegister(
		m.events,
		m.loansOpened,
		m.loansClosed,
		m.principal,
		m.seized,
		m.penalties,
		m.cacheFailures,
		m.activeOrders,
		m.reservedBalance,
	)
	return m
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *LendingMetrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(label(eventType)).Inc()
}

func (m *LendingMetrics) ObserveLoanOpened(asset string, principal float64) {
	if m == nil {
		return
	}
	m.loansOpened.Inc()
	m.activeOrders.Inc()
	m.principal.WithLabelValues(label(asset)).Add(principal)
}

func (m *LendingMetrics) ObserveLoanClosed(status string) {
	if m == nil {
		return
	}
	m.loansClosed.WithLabelValues(label(status)).Inc()
	m.activeOrders.Dec()
}

func (m *LendingMetrics) ObserveSeized(asset string, amount float64) {
	if m == nil {
		return
	}
	m.seized.WithLabelValues(label(asset)).Add(amount)
}

func (m *LendingMetrics) ObservePenalty(kind string, amount float64) {
	if m == nil {
		return
	}
	m.penalties.WithLabelValues(label(kind)).Add(amount)
}

func (m *LendingMetrics) IncCacheFailure(view string) {
	if m == nil {
		return
	}
	m.cacheFailures.WithLabelValues(label(view)).Inc()
}

// AddReserved moves the reserved balance gauge of asset by delta.
func (m *LendingMetrics) AddReserved(asset string, delta float64) {
	if m == nil {
		return
	}
	m.reservedBalance.WithLabelValues(label(asset)).Add(delta)
}
