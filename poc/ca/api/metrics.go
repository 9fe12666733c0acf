package api

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeIssued       = "issued"
	outcomeMalformed    = "malformed"
	outcomeUnauthorized = "unauthorized"
	outcomeFailed       = "failed"
)

type signMetrics struct {
	requests *prometheus.CounterVec
}

func newSignMetrics(reg prometheus.Registerer) *signMetrics {
	m := &signMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally_ca",
			Name:      "sign_requests_total",
			Help:      "Certificate signing requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.requests)
	for _, outcome := range []string{outcomeIssued, outcomeMalformed, outcomeUnauthorized, outcomeFailed} {
		m.requests.WithLabelValues(outcome)
	}
	return m
}

func (m *signMetrics) observe(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}
