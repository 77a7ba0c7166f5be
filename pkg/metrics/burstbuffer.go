/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

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
	"go.uber.org/zap"

	"github.com/ninotreve/burstbuffer/pkg/log"
)

// BurstBufferMetrics to declare burst buffer manager metrics
type BurstBufferMetrics struct {
	poolSpace        *prometheus.GaugeVec
	allocation       *prometheus.GaugeVec
	admission        *prometheus.CounterVec
	preemption       prometheus.Counter
	stateFileWrite   *prometheus.CounterVec
	toolCallLatency  *prometheus.HistogramVec
	toolCallFailure  *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	orphanedSession  prometheus.Counter
}

func initBurstBufferMetrics() *BurstBufferMetrics {
	b := &BurstBufferMetrics{}

	b.poolSpace = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "pool_space_bytes",
			Help:      "Pool capacity in bytes. State of the space includes `total`, `free` and `used`.",
		}, []string{"pool", "state"})

	b.allocation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "allocation_total",
			Help:      "Total number of tracked allocations. Kind of the allocation includes `job` and `persistent`.",
		}, []string{"kind"})

	b.admission = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "admission_total",
			Help:      "Total number of admission tests. Outcome of the test includes `admitted`, `over_limit` and `no_space`.",
		}, []string{"outcome"})

	b.preemption = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "preemption_total",
			Help:      "Total number of allocations revoked to admit a higher priority job.",
		})

	b.stateFileWrite = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "state_file_write_total",
			Help:      "Total number of state file writes. Result of the write includes `success` and `error`.",
		}, []string{"result"})

	b.toolCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: OrchestratorSubsystem,
			Name:      "tool_call_latency_seconds",
			Help:      "Latency of orchestrator tool invocations, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 10, 6),
		}, []string{"function"})

	b.toolCallFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: OrchestratorSubsystem,
			Name:      "tool_call_failure_total",
			Help:      "Total number of failed orchestrator tool invocations, by function.",
		}, []string{"function"})

	b.reconcileLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "reconcile_latency_seconds",
			Help:      "Latency of a full reconcile cycle against the orchestrator, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 10, 6),
		})

	b.orphanedSession = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: ManagerSubsystem,
			Name:      "orphaned_session_total",
			Help:      "Total number of orchestrator sessions found without a tracked allocation.",
		})

	// Register the metrics
	var metricsList = []prometheus.Collector{
		b.poolSpace,
		b.allocation,
		b.admission,
		b.preemption,
		b.stateFileWrite,
		b.toolCallLatency,
		b.toolCallFailure,
		b.reconcileLatency,
		b.orphanedSession,
	}
	for _, metric := range metricsList {
		if err := prometheus.Register(metric); err != nil {
			log.Log(log.Metrics).Warn("failed to register metrics collector", zap.Error(err))
		}
	}
	return b
}

func (b *BurstBufferMetrics) Reset() {
	b.poolSpace.Reset()
	b.allocation.Reset()
	b.admission.Reset()
	b.stateFileWrite.Reset()
	b.toolCallFailure.Reset()
}

func (b *BurstBufferMetrics) SetPoolSpace(pool string, total, used int64) {
	b.poolSpace.With(prometheus.Labels{"pool": pool, "state": "total"}).Set(float64(total))
	b.poolSpace.With(prometheus.Labels{"pool": pool, "state": "used"}).Set(float64(used))
	b.poolSpace.With(prometheus.Labels{"pool": pool, "state": "free"}).Set(float64(total - used))
}

func (b *BurstBufferMetrics) SetJobAllocations(count int) {
	b.allocation.With(prometheus.Labels{"kind": "job"}).Set(float64(count))
}

func (b *BurstBufferMetrics) SetPersistentAllocations(count int) {
	b.allocation.With(prometheus.Labels{"kind": "persistent"}).Set(float64(count))
}

func (b *BurstBufferMetrics) IncAdmitted() {
	b.admission.With(prometheus.Labels{"outcome": "admitted"}).Inc()
}

func (b *BurstBufferMetrics) IncDeferredOverLimit() {
	b.admission.With(prometheus.Labels{"outcome": "over_limit"}).Inc()
}

func (b *BurstBufferMetrics) IncDeferredNoSpace() {
	b.admission.With(prometheus.Labels{"outcome": "no_space"}).Inc()
}

func (b *BurstBufferMetrics) IncPreemptions(value int) {
	b.preemption.Add(float64(value))
}

func (b *BurstBufferMetrics) IncStateFileWrite() {
	b.stateFileWrite.With(prometheus.Labels{"result": "success"}).Inc()
}

func (b *BurstBufferMetrics) IncStateFileError() {
	b.stateFileWrite.With(prometheus.Labels{"result": "error"}).Inc()
}

func (b *BurstBufferMetrics) ObserveToolCall(function string, elapsed time.Duration) {
	b.toolCallLatency.With(prometheus.Labels{"function": function}).Observe(elapsed.Seconds())
}

func (b *BurstBufferMetrics) IncToolCallFailure(function string) {
	b.toolCallFailure.With(prometheus.Labels{"function": function}).Inc()
}

func (b *BurstBufferMetrics) ObserveReconcileLatency(start time.Time) {
	b.reconcileLatency.Observe(SinceInSeconds(start))
}

func (b *BurstBufferMetrics) IncOrphanedSessions(value int) {
	b.orphanedSession.Add(float64(value))
}
