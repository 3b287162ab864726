// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics

import (
	"context"
)

// Cache lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
)

// Outcomes of a distribution or tracker push.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeFailure = "failure"
)

// Metrics defines an interface to collect content delivery metrics.
type Metrics interface {
	// RecordRequest records the time it takes to process a request.
	RecordRequest(method, handler string, duration float64)

	// RecordCacheLookup records the result of a descriptor cache lookup.
	RecordCacheLookup(result string)

	// RecordCachePopulateFailure records a failed cache upsert after an origin fetch.
	RecordCachePopulateFailure()

	// RecordOriginResponse records the time it takes for an origin to respond for a key.
	RecordOriginResponse(hostname, op string, duration float64, count int64)

	// RecordDistribution records the duration and outcome of a swarm download.
	RecordDistribution(outcome string, duration float64)

	// RecordTrackerPush records the outcome of a descriptor push received by the tracker.
	RecordTrackerPush(outcome string)
}

type ctxKey struct{}

// WithContext returns a new context with the metrics recorder.
func WithContext(ctx context.Context, m Metrics) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the metrics recorder from the context, or a no-op recorder if there is none.
func FromContext(ctx context.Context) Metrics {
	if m, ok := ctx.Value(ctxKey{}).(Metrics); ok {
		return m
	}
	return Nop
}

// Nop is a recorder that discards everything.
var Nop Metrics = nopMetrics{}

type nopMetrics struct{}

func (nopMetrics) RecordRequest(string, string, float64) {}
func (nopMetrics) RecordCacheLookup(string) {}
func (nopMetrics) RecordCachePopulateFailure() {}
func (nopMetrics) RecordOriginResponse(string, string, float64, int64) {}
func (nopMetrics) RecordDistribution(string, float64) {}
func (nopMetrics) RecordTrackerPush(string) {}
