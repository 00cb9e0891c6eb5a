package metrics

import "github.com/prometheus/client_golang/prometheus"

// DispatchMetrics exposes counters/histograms for result dispatch and
// delivery-status reconciliation.
type DispatchMetrics struct {
	recipientsTotal       *prometheus.CounterVec
	providerAttemptsTotal *prometheus.CounterVec
	callbacksTotal        *prometheus.CounterVec
	dispatchDuration      prometheus.Histogram
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		recipientsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eresults",
			Subsystem: "dispatch",
			Name:      "recipients_total",
			Help:      "Recipients processed by the dispatcher, by outcome",
		}, []string{"outcome"}),
		providerAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eresults",
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "HTTP attempts against the WhatsApp provider, by result",
		}, []string{"result"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eresults",
			Subsystem: "status",
			Name:      "callbacks_total",
			Help:      "Delivery-status callbacks received",
		}, []string{"status", "matched"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eresults",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Wall time of a full dispatch request",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.recipientsTotal, m.providerAttemptsTotal, m.callbacksTotal, m.dispatchDuration)
	return m
}

// ObserveRecipient counts one recipient outcome (sent, failed, skipped).
func (m *DispatchMetrics) ObserveRecipient(outcome string) {
	if m == nil {
		return
	}
	m.recipientsTotal.WithLabelValues(outcome).Inc()
}

func (m *DispatchMetrics) ObserveProviderAttempt(result string) {
	if m == nil {
		return
	}
	m.providerAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *DispatchMetrics) ObserveCallback(status string, matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.callbacksTotal.WithLabelValues(status, label).Inc()
}

func (m *DispatchMetrics) ObserveDispatchDuration(seconds float64) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(seconds)
}
