package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverse_gateway_decisions_total",
			Help: "Gateway admission decisions by outcome",
		},
		[]string{"outcome"}, // admitted|missing|invalid|quota|unavailable
	)

	AuthLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverse_auth_lookups_total",
			Help: "Credential resolutions by source and result",
		},
		[]string{"source", "result"}, // cache|store , hit|miss|invalid|error
	)

	LimiterErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverse_ratelimit_errors_total",
			Help: "Counter store failures and the policy applied",
		},
		[]string{"policy"}, // fail_closed|fail_open
	)

	UsageRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverse_usage_records_total",
			Help: "Usage record processing by result",
		},
		[]string{"result"}, // written|duplicate|retried|failed|overflow
	)

	DecisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docverse_gateway_decision_seconds",
			Help:    "Time spent authenticating and rate limiting a request",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	CredentialEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docverse_credential_events_total",
			Help: "Credential lifecycle transitions",
		},
		[]string{"event"}, // issued|rotated|revoked|deleted
	)
)

var registerOnce sync.Once

// MustRegister registers every collector once; later calls are no-ops so both the server
// and the workers can call it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			DecisionsTotal,
			AuthLookupsTotal,
			LimiterErrorsTotal,
			UsageRecordsTotal,
			DecisionLatency,
			CredentialEventsTotal,
		)
	})
}
