// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package metrics

// Fanout returns a recorder that records to every one of ms.
func Fanout(ms ...Metrics) Metrics {
	return fanout(ms)
}

type fanout []Metrics

var _ Metrics = fanout{}

func (f fanout) RecordRequest(method, handler string, duration float64) {
	for _, m := range f {
		m.RecordRequest(method, handler, duration)
	}
}

func (f fanout) RecordCacheLookup(result string) {
	for _, m := range f {
		m.RecordCacheLookup(result)
	}
}

func (f fanout) RecordCachePopulateFailure() {
	for _, m := range f {
		m.RecordCachePopulateFailure()
	}
}

func (f fanout) RecordOriginResponse(hostname, op string, duration float64, count int64) {
	for _, m := range f {
		m.RecordOriginResponse(hostname, op, duration, count)
	}
}

func (f fanout) RecordDistribution(outcome string, duration float64) {
	for _, m := range f {
		m.RecordDistribution(outcome, duration)
	}
}

func (f fanout) RecordTrackerPush(outcome string) {
	for _, m := range f {
		m.RecordTrackerPush(outcome)
	}
}
