// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package metrics

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	hmetrics "github.com/hashicorp/go-metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	// ReportInterval is the interval to report metrics.
	ReportInterval = 3 * time.Minute

	// AggregationInterval is the interval to aggregate metrics.
	AggregationInterval = 2 * time.Minute

	// RetentionPeriod is the retention period of metrics.
	RetentionPeriod = 10 * time.Minute
)

// MemoryMetrics is a metrics collector that stores metrics in memory and reports them to a file.
type MemoryMetrics struct {
	sink *hmetrics.InmemSink

	fs                afero.Fs
	reportingInterval time.Duration
	reportFilePath    string
}

var _ Metrics = &MemoryMetrics{}

// RecordRequest records the time it takes to process a request.
func (m *MemoryMetrics) RecordRequest(method string, handler string, duration float64) {
	m.recordLatency(duration, "server", method+"_"+handler)
}

// RecordCacheLookup records the result of a descriptor cache lookup.
func (m *MemoryMetrics) RecordCacheLookup(result string) {
	m.sink.IncrCounter([]string{"cache", "lookup", result}, 1)
}

// RecordCachePopulateFailure records a failed cache upsert.
func (m *MemoryMetrics) RecordCachePopulateFailure() {
	m.sink.IncrCounter([]string{"cache", "populate", "failure"}, 1)
}

// RecordOriginResponse records the time it takes for an origin to respond for a key.
func (m *MemoryMetrics) RecordOriginResponse(hostname, op string, duration float64, count int64) {
	m.recordLatency(duration, hostname, op)
	m.recordBytes(count, hostname, op)

	if duration > 0 {
		m.recordSpeed(float64(count)/duration, hostname, op)
	}
}

// RecordDistribution records the duration of a swarm download by outcome.
func (m *MemoryMetrics) RecordDistribution(outcome string, duration float64) {
	m.recordLatency(duration, "swarm", outcome)
}

// RecordTrackerPush records the outcome of a tracker push.
func (m *MemoryMetrics) RecordTrackerPush(outcome string) {
	m.sink.IncrCounter([]string{"tracker", "push", outcome}, 1)
}

// recordLatency records the time it takes to perform an operation.
func (m *MemoryMetrics) recordLatency(duration float64, host, op string) {
	m.sink.AddSample([]string{"latency", host, op}, float32(duration))
}

// recordSpeed records the speed of a download from a host.
func (m *MemoryMetrics) recordSpeed(speed float64, host, op string) {
	m.sink.AddSample([]string{"speed", host, op}, float32(speed))
}

// recordBytes records the number of bytes downloaded from a host.
func (m *MemoryMetrics) recordBytes(bytes int64, host, op string) {
	m.sink.AddSample([]string{"bytes", host, op}, float32(bytes))
}

// Report writes the retained metrics to the report file, replacing its contents.
func (m *MemoryMetrics) Report() error {
	f, err := m.fs.OpenFile(m.reportFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := m.write(f); err != nil {
		return err
	}

	return f.Sync()
}

// write formats every retained interval.
func (m *MemoryMetrics) write(w io.Writer) error {
	for _, interval := range m.sink.Data() {
		interval.RLock()
		lines := []string{}
		for name, c := range interval.Counters {
			lines = append(lines, fmt.Sprintf("[C] %s: count=%d sum=%.3f", name, c.Count, c.Sum))
		}
		for name, s := range interval.Samples {
			lines = append(lines, fmt.Sprintf("[S] %s: count=%d min=%.3f mean=%.3f max=%.3f", name, s.Count, s.Min, s.AggregateSample.Mean(), s.Max))
		}
		interval.RUnlock()

		sort.Strings(lines)
		if _, err := fmt.Fprintf(w, "[%v]\n", interval.Interval.Format(time.RFC3339)); err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := fmt.Fprintln(w, l); err != nil {
				return err
			}
		}
	}

	return nil
}

// ReportPeriodically reports the current metrics to the file until the context is cancelled.
func (m *MemoryMetrics) ReportPeriodically(ctx context.Context) {
	log := zerolog.Ctx(ctx).With().Str("component", "metrics").Logger()

	go func() {
		ticker := time.NewTicker(m.reportingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Report(); err != nil {
					log.Error().Err(err).Str("path", m.reportFilePath).Msg("failed to report metrics")
				}
			}
		}
	}()
}

// NewMemoryMetrics returns a new memory metrics collector that reports to path on fs.
func NewMemoryMetrics(fs afero.Fs, path string) *MemoryMetrics {
	sink := hmetrics.NewInmemSink(AggregationInterval, RetentionPeriod)
	return &MemoryMetrics{sink, fs, ReportInterval, path}
}
