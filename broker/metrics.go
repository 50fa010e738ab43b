package broker

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeError  = "error"
	grantPassword = "password"
	grantRefresh  = "refresh_token"
)

// Metrics counts token requests by outcome and provider exchanges by grant.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Exchanges *prometheus.CounterVec
}

// NewMetrics registers the broker collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access_broker",
			Name:      "token_requests_total",
			Help:      "Downstream token requests by environment and outcome (cached, new, renewed, error).",
		}, []string{"environment", "outcome"}),
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "access_broker",
			Name:      "idp_exchanges_total",
			Help:      "Calls made to the identity provider token endpoint.",
		}, []string{"environment", "grant", "success"}),
	}
	reg.MustRegister(m.Requests, m.Exchanges)
	return m
}
