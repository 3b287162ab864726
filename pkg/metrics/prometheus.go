// Package metrics provides metrics collectors for content delivery.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics is a metrics collector that stores metrics in Prometheus.
type promMetrics struct {
	name                  string
	requestDuration       *prometheus.HistogramVec
	cacheLookups          *prometheus.CounterVec
	cachePopulateFailures *prometheus.CounterVec
	originResponseSpeed   *prometheus.HistogramVec
	distributionDuration  *prometheus.HistogramVec
	trackerPushes         *prometheus.CounterVec
}

var _ Metrics = &promMetrics{}

// RecordRequest records the duration of a request for a specific method and handler.
func (m *promMetrics) RecordRequest(method string, handler string, duration float64) {
	m.requestDuration.WithLabelValues(m.name, method, handler).Observe(duration)
}

// RecordCacheLookup counts a cache lookup by result.
func (m *promMetrics) RecordCacheLookup(result string) {
	m.cacheLookups.WithLabelValues(m.name, result).Inc()
}

// RecordCachePopulateFailure counts a failed cache upsert.
func (m *promMetrics) RecordCachePopulateFailure() {
	m.cachePopulateFailures.WithLabelValues(m.name).Inc()
}

// RecordOriginResponse records the speed of an origin response in MiB per second.
func (m *promMetrics) RecordOriginResponse(hostname string, op string, duration float64, count int64) {
	if duration <= 0 {
		return
	}
	bps := float64(count) / duration
	m.originResponseSpeed.WithLabelValues(m.name, hostname, op).Observe(bps / float64(1024*1024))
}

// RecordDistribution records the duration of a swarm download by outcome.
func (m *promMetrics) RecordDistribution(outcome string, duration float64) {
	m.distributionDuration.WithLabelValues(m.name, outcome).Observe(duration)
}

// RecordTrackerPush counts a tracker push by outcome.
func (m *promMetrics) RecordTrackerPush(outcome string) {
	m.trackerPushes.WithLabelValues(m.name, outcome).Inc()
}

// NewPromMetrics creates a new instance of promMetrics registered on reg.
func NewPromMetrics(reg prometheus.Registerer, name, prefix string) *promMetrics {

	requestDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_request_duration_seconds",
		Help:    "Duration of requests in seconds.",
		Buckets: prometheus.LinearBuckets(0.005, 0.025, 200),
	}, []string{"self", "method", "handler"})
	reg.MustRegister(requestDurationHist)

	cacheLookupsCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_cache_lookups_total",
		Help: "Number of descriptor cache lookups by result.",
	}, []string{"self", "result"})
	reg.MustRegister(cacheLookupsCounter)

	cachePopulateFailuresCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_cache_populate_failures_total",
		Help: "Number of failed descriptor cache upserts.",
	}, []string{"self"})
	reg.MustRegister(cachePopulateFailuresCounter)

	originResponseSpeedHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_origin_response_speed_mib_per_second",
		Help:    "Speed of origin response in Mib per second.",
		Buckets: prometheus.LinearBuckets(1, 15, 200),
	}, []string{"self", "hostname", "op"})
	reg.MustRegister(originResponseSpeedHist)

	distributionDurationHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    prefix + "_distribution_duration_seconds",
		Help:    "Duration of swarm downloads in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 20),
	}, []string{"self", "outcome"})
	reg.MustRegister(distributionDurationHist)

	trackerPushesCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: prefix + "_tracker_pushes_total",
		Help: "Number of descriptor pushes received by the tracker by outcome.",
	}, []string{"self", "outcome"})
	reg.MustRegister(trackerPushesCounter)

	return &promMetrics{
		name:                  name,
		requestDuration:       requestDurationHist,
		cacheLookups:          cacheLookupsCounter,
		cachePopulateFailures: cachePopulateFailuresCounter,
		originResponseSpeed:   originResponseSpeedHist,
		distributionDuration:  distributionDurationHist,
		trackerPushes:         trackerPushesCounter,
	}
}
