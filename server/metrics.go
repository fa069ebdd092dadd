package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for the proxy.
//
// Metrics:
//   - wsproxyd_proxy_requests_total: proxied HTTP exchanges by target and outcome
//   - wsproxyd_bridges_total: websocket bridges by target and outcome
//   - wsproxyd_bridges_active: currently open bridges
//   - wsproxyd_token_mints_total: control-plane token mints by tier and outcome
//   - wsproxyd_lifecycle_actions_total: start/stop calls by action and outcome
type Metrics struct {
	registry *prometheus.Registry

	proxyRequests    *prometheus.CounterVec
	bridges          *prometheus.CounterVec
	bridgesActive    prometheus.Gauge
	tokenMints       *prometheus.CounterVec
	lifecycleActions *prometheus.CounterVec
}

// NewMetrics creates and registers the proxy metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		proxyRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wsproxyd",
				Name:      "proxy_requests_total",
				Help:      "Proxied HTTP exchanges by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		bridges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wsproxyd",
				Name:      "bridges_total",
				Help:      "WebSocket bridges by target and outcome",
			},
			[]string{"target", "outcome"},
		),
		bridgesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "wsproxyd",
				Name:      "bridges_active",
				Help:      "Currently open websocket bridges",
			},
		),
		tokenMints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wsproxyd",
				Name:      "token_mints_total",
				Help:      "Credential mints by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		lifecycleActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wsproxyd",
				Name:      "lifecycle_actions_total",
				Help:      "Lifecycle start/stop calls by action and outcome",
			},
			[]string{"action", "outcome"},
		),
	}

	registry.MustRegister(
		m.proxyRequests,
		m.bridges,
		m.bridgesActive,
		m.tokenMints,
		m.lifecycleActions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordProxyRequest counts one proxied exchange.
func (m *Metrics) RecordProxyRequest(target, outcome string) {
	m.proxyRequests.WithLabelValues(target, outcome).Inc()
}

// RecordBridge counts one bridge attempt.
func (m *Metrics) RecordBridge(target, outcome string) {
	m.bridges.WithLabelValues(target, outcome).Inc()
}

// BridgeOpened marks a bridge as live.
func (m *Metrics) BridgeOpened() { m.bridgesActive.Inc() }

// BridgeClosed marks a bridge as finished.
func (m *Metrics) BridgeClosed() { m.bridgesActive.Dec() }

// RecordTokenMint counts one credential mint.
func (m *Metrics) RecordTokenMint(tier, outcome string) {
	m.tokenMints.WithLabelValues(tier, outcome).Inc()
}

// RecordLifecycleAction counts one start/stop call.
func (m *Metrics) RecordLifecycleAction(action, outcome string) {
	m.lifecycleActions.WithLabelValues(action, outcome).Inc()
}

// Handler exposes the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
