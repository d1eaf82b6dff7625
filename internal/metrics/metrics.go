// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the application collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	BallotsCast       prometheus.Counter
	SuspiciousBallots prometheus.Counter
	SecretsErased     prometheus.Counter
	VotesCreated      prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		BallotsCast: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_ballots_cast_total",
			Help: "Number of ballots accepted, including idempotent replacements.",
		}),
		SuspiciousBallots: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_suspicious_ballots_total",
			Help: "Number of suspicious-ballot reports recorded.",
		}),
		SecretsErased: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_vote_secrets_erased_total",
			Help: "Number of vote secrets erased by heartbeat sweeps.",
		}),
		VotesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "electorate_votes_created_total",
			Help: "Number of votes created.",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "electorate_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
