package api

import "github.com/prometheus/client_golang/prometheus"

const (
	rejectMissing = "missing"
	rejectInvalid = "invalid"
	rejectBody    = "body"

	submitAccepted = "accepted"
	submitEmpty    = "empty"
	submitFailed   = "failed"
)

type tallyMetrics struct {
	received    prometheus.Counter
	rejected    *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

func newTallyMetrics(reg prometheus.Registerer, store BallotStore) *tallyMetrics {
	m := &tallyMetrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally_server",
			Name:      "ballots_received_total",
			Help:      "Ballots accepted into the store.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally_server",
			Name:      "ballots_rejected_total",
			Help:      "Ballot submissions refused, by reason.",
		}, []string{"reason"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally_server",
			Name:      "tally_submissions_total",
			Help:      "Aggregate submissions to the tally authority, by outcome.",
		}, []string{"outcome"}),
	}
	stored := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tally_server",
		Name:      "ballots_stored",
		Help:      "Ballots currently held in memory.",
	}, func() float64 { return float64(store.Len()) })

	reg.MustRegister(m.received, m.rejected, m.submissions, stored)
	for _, reason := range []string{rejectMissing, rejectInvalid, rejectBody} {
		m.rejected.WithLabelValues(reason)
	}
	for _, outcome := range []string{submitAccepted, submitEmpty, submitFailed} {
		m.submissions.WithLabelValues(outcome)
	}
	return m
}
