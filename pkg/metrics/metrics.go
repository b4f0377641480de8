// Copyright 2024-2026 Aiku AI

// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for logins and forwarding. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Login requests by result: code_sent, already_logged_in, or an error kind.
	Logins *prometheus.CounterVec

	// Code verifications by result: logged_in or an error kind.
	Verifications *prometheus.CounterVec

	ActiveRules prometheus.Gauge

	// Inbound messages on forwarded chats by outcome: relayed, filtered, failed.
	Messages *prometheus.CounterVec

	Disconnects prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_relay_logins_total",
			Help: "Login requests by result",
		}, []string{"result"}),

		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_relay_verifications_total",
			Help: "Code verifications by result",
		}, []string{"result"}),

		ActiveRules: factory.NewGauge(prometheus.GaugeOpts{
			Name: "telegram_relay_forwarding_rules_active",
			Help: "Number of identities with an active forwarding rule",
		}),

		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_relay_messages_total",
			Help: "Messages seen on forwarded chats by outcome",
		}, []string{"outcome"}),

		Disconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_relay_client_disconnects_total",
			Help: "Messaging client connections that ended",
		}),
	}
}

// ObserveLogin records the result of a login request.
func (m *Metrics) ObserveLogin(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

// ObserveVerification records the result of a code verification.
func (m *Metrics) ObserveVerification(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}

// SetActiveRules records the current number of active rules.
func (m *Metrics) SetActiveRules(n int) {
	if m != nil {
		m.ActiveRules.Set(float64(n))
	}
}

// ObserveMessage records what happened to an inbound message.
func (m *Metrics) ObserveMessage(outcome string) {
	if m != nil {
		m.Messages.WithLabelValues(outcome).Inc()
	}
}

// IncrementDisconnects records a lost client connection.
func (m *Metrics) IncrementDisconnects() {
	if m != nil {
		m.Disconnects.Inc()
	}
}
