// Package metrics exposes Prometheus collectors for the upstream client, token layer and metadata cache.
//
// A nil *Metrics is valid and records nothing, so components can take one optionally.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spotproxy"

// Metrics groups the collectors recorded by the proxy.
type Metrics struct {
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	rateLimitRetries prometheus.Counter
	tokenGrants      *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
}

// New registers the collectors on reg, reusing collectors that are already registered.
//
// reg defaults to [prometheus.DefaultRegisterer].
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_requests_total",
		Help:      "Physical requests sent to the Spotify Web API, by response status.",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_request_duration_seconds",
		Help:      "Latency of physical requests to the Spotify Web API.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"}))
	if err != nil {
		return nil, err
	}

	retries, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_retries_total",
		Help:      "Requests retried after a 429 response.",
	}))
	if err != nil {
		return nil, err
	}

	grants, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_grants_total",
		Help:      "OAuth grants performed against the Spotify accounts service.",
	}, []string{"grant", "result"}))
	if err != nil {
		return nil, err
	}

	lookups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Metadata cache lookups by result (hit, miss, stale).",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		upstreamRequests: requests,
		upstreamDuration: duration,
		rateLimitRetries: retries,
		tokenGrants:      grants,
		cacheLookups:     lookups,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// ObserveUpstream records one physical upstream attempt. A status of 0 means a transport failure.
func (m *Metrics) ObserveUpstream(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamRequests.WithLabelValues(label).Inc()
	m.upstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RateLimitRetry records a retry scheduled after a 429.
func (m *Metrics) RateLimitRetry() {
	if m == nil {
		return
	}
	m.rateLimitRetries.Inc()
}

// TokenGrant records an OAuth grant; result is "ok" or "error".
func (m *Metrics) TokenGrant(grant, result string) {
	if m == nil {
		return
	}
	m.tokenGrants.WithLabelValues(grant, result).Inc()
}

// CacheLookup records a metadata cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
