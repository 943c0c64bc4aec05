/*
Copyright the Snaplife contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics contains Prometheus metrics for the snaplife server.
type ServerMetrics struct {
	metrics map[string]prometheus.Collector
}

const (
	metricNamespace = "snaplife"

	snapshotAttemptTotal       = "snapshot_attempt_total"
	snapshotSuccessTotal       = "snapshot_success_total"
	snapshotFailureTotal       = "snapshot_failure_total"
	snapshotsTrimmedTotal      = "snapshots_trimmed_total"
	replicationAttemptTotal    = "replication_attempt_total"
	replicationSuccessTotal    = "replication_success_total"
	replicationNoopTotal       = "replication_noop_total"
	replicationFailureTotal    = "replication_failure_total"
	replicationDurationSeconds = "replication_duration_seconds"
	tempResourcesLeakedTotal   = "temp_resources_leaked_total"

	sourceRegionLabel      = "source_region"
	destinationRegionLabel = "destination_region"
	regionLabel            = "region"
)

// NewServerMetrics returns new ServerMetrics which can be used for the
// server to record prometheus metrics.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		metrics: map[string]prometheus.Collector{
			snapshotAttemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotAttemptTotal,
					Help:      "Total number of attempted volume snapshots",
				},
				[]string{regionLabel},
			),
			snapshotSuccessTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotSuccessTotal,
					Help:      "Total number of successful volume snapshots",
				},
				[]string{regionLabel},
			),
			snapshotFailureTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotFailureTotal,
					Help:      "Total number of failed volume snapshots",
				},
				[]string{regionLabel},
			),
			snapshotsTrimmedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      snapshotsTrimmedTotal,
					Help:      "Total number of snapshots deleted by retention sweeps",
				},
				[]string{regionLabel},
			),
			replicationAttemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      replicationAttemptTotal,
					Help:      "Total number of attempted snapshot replications",
				},
				[]string{sourceRegionLabel, destinationRegionLabel},
			),
			replicationSuccessTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      replicationSuccessTotal,
					Help:      "Total number of successful snapshot replications",
				},
				[]string{sourceRegionLabel, destinationRegionLabel},
			),
			replicationNoopTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      replicationNoopTotal,
					Help:      "Total number of replications skipped because the destination was already fresh",
				},
				[]string{sourceRegionLabel, destinationRegionLabel},
			),
			replicationFailureTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      replicationFailureTotal,
					Help:      "Total number of failed snapshot replications",
				},
				[]string{sourceRegionLabel, destinationRegionLabel},
			),
			replicationDurationSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricNamespace,
					Name:      replicationDurationSeconds,
					Help:      "Time taken to replicate one snapshot, in seconds",
					Buckets: []float64{
						toSeconds(1 * time.Minute),
						toSeconds(5 * time.Minute),
						toSeconds(10 * time.Minute),
						toSeconds(15 * time.Minute),
						toSeconds(30 * time.Minute),
						toSeconds(1 * time.Hour),
						toSeconds(2 * time.Hour),
						toSeconds(4 * time.Hour),
					},
				},
				[]string{sourceRegionLabel, destinationRegionLabel},
			),
			tempResourcesLeakedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricNamespace,
					Name:      tempResourcesLeakedTotal,
					Help:      "Total number of ephemeral resources whose teardown failed",
				},
				[]string{regionLabel},
			),
		},
	}
}

func toSeconds(d time.Duration) float64 {
	return float64(d / time.Second)
}

// RegisterAllMetrics registers all prometheus metrics.
func (m *ServerMetrics) RegisterAllMetrics(registry prometheus.Registerer) {
	for _, metric := range m.metrics {
		registry.MustRegister(metric)
	}
}

// RegisterSnapshotAttempt records an attempted volume snapshot.
func (m *ServerMetrics) RegisterSnapshotAttempt(region string) {
	if c, ok := m.metrics[snapshotAttemptTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(region).Inc()
	}
}

// RegisterSnapshotSuccess records a successfully completed volume snapshot.
func (m *ServerMetrics) RegisterSnapshotSuccess(region string) {
	if c, ok := m.metrics[snapshotSuccessTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(region).Inc()
	}
}

// RegisterSnapshotFailure records a volume snapshot attempt that was
// deleted and retried, or abandoned.
func (m *ServerMetrics) RegisterSnapshotFailure(region string) {
	if c, ok := m.metrics[snapshotFailureTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(region).Inc()
	}
}

// AddTrimmedSnapshots records snapshots deleted by a retention sweep.
func (m *ServerMetrics) AddTrimmedSnapshots(region string, count int) {
	if c, ok := m.metrics[snapshotsTrimmedTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(region).Add(float64(count))
	}
}

// RegisterReplicationAttempt records an attempted snapshot replication.
func (m *ServerMetrics) RegisterReplicationAttempt(src, dst string) {
	if c, ok := m.metrics[replicationAttemptTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(src, dst).Inc()
	}
}

// RegisterReplicationSuccess records a replication that produced a fresh
// destination snapshot.
func (m *ServerMetrics) RegisterReplicationSuccess(src, dst string) {
	if c, ok := m.metrics[replicationSuccessTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(src, dst).Inc()
	}
}

// RegisterReplicationNoop records a replication skipped because the
// destination already carried an equal-or-newer snapshot.
func (m *ServerMetrics) RegisterReplicationNoop(src, dst string) {
	if c, ok := m.metrics[replicationNoopTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(src, dst).Inc()
	}
}

// RegisterReplicationFailure records a failed replication attempt.
func (m *ServerMetrics) RegisterReplicationFailure(src, dst string) {
	if c, ok := m.metrics[replicationFailureTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(src, dst).Inc()
	}
}

// ObserveReplicationDuration records how long one replication took.
func (m *ServerMetrics) ObserveReplicationDuration(src, dst string, d time.Duration) {
	if h, ok := m.metrics[replicationDurationSeconds].(*prometheus.HistogramVec); ok {
		h.WithLabelValues(src, dst).Observe(d.Seconds())
	}
}

// RegisterTempResourceLeak records an ephemeral resource whose teardown
// failed and may need manual cleanup.
func (m *ServerMetrics) RegisterTempResourceLeak(region string) {
	if c, ok := m.metrics[tempResourcesLeakedTotal].(*prometheus.CounterVec); ok {
		c.WithLabelValues(region).Inc()
	}
}
