package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Submissions *prometheus.CounterVec
	Callbacks   *prometheus.CounterVec
	Refunds     *prometheus.CounterVec
	Deliveries  *prometheus.CounterVec
	Payments    *prometheus.CounterVec
}

// New registers the bot counters on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sora_generation_submissions_total",
			Help: "Video generation submissions by outcome status.",
		}, []string{"status"}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sora_callbacks_total",
			Help: "Generation callbacks by resolution result.",
		}, []string{"result"}),
		Refunds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sora_credits_refunded_total",
			Help: "Credits returned to users by reason.",
		}, []string{"reason"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sora_deliveries_total",
			Help: "Finished videos delivered to chat by method.",
		}, []string{"method"}),
		Payments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sora_payments_total",
			Help: "Payment webhook outcomes by provider.",
		}, []string{"provider", "result"}),
	}
}
