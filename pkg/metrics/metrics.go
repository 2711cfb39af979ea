// Copyright 2024-2026 Aiku AI

// Package metrics holds the Prometheus instruments of the bridge. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the bridge's instruments.
type Metrics struct {
	registry *prometheus.Registry

	relayed       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	remoteCalls   *prometheus.CounterVec
	renders       *prometheus.CounterVec
	votes         *prometheus.CounterVec
	verifiedLinks prometheus.Gauge
	runningMods   prometheus.Gauge
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "discordlink_messages_relayed_total",
			Help: "Chat messages relayed, by direction",
		}, []string{"direction"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "discordlink_messages_dropped_total",
			Help: "Chat messages not relayed, by reason",
		}, []string{"reason"}),
		remoteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "discordlink_remote_calls_total",
			Help: "Remote platform calls, by operation and result",
		}, []string{"op", "result"}),
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "discordlink_display_renders_total",
			Help: "Display items processed, by module and outcome",
		}, []string{"module", "outcome"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "discordlink_reaction_votes_total",
			Help: "Reactions reduced to votes, by result",
		}, []string{"result"}),
		verifiedLinks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "discordlink_verified_links",
			Help: "Number of channel links that resolved on the remote platform",
		}),
		runningMods: factory.NewGauge(prometheus.GaugeOpts{
			Name: "discordlink_running_modules",
			Help: "Number of modules in the running state",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Relayed(direction string) {
	if m != nil {
		m.relayed.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

// RemoteCall records the outcome of a remote platform call.
func (m *Metrics) RemoteCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.remoteCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Render(module, outcome string) {
	if m != nil {
		m.renders.WithLabelValues(module, outcome).Inc()
	}
}

func (m *Metrics) Vote(result string) {
	if m != nil {
		m.votes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetVerifiedLinks(n int) {
	if m != nil {
		m.verifiedLinks.Set(float64(n))
	}
}

func (m *Metrics) SetRunningModules(n int) {
	if m != nil {
		m.runningMods.Set(float64(n))
	}
}
