// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to qperf's control plane.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, tests, api calls.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TestsAcceptedCount counts connections the server has accepted and
	// decoded a request for that passed the version and test-index checks,
	// labeled by test name.
	TestsAcceptedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qperf_tests_accepted_total",
			Help: "Number of test requests accepted and decoded.",
		}, []string{"test"})

	// TestResultCount counts completed tests by outcome, labeled by test
	// name and "success"/"failure".
	TestResultCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qperf_test_result_total",
			Help: "Number of tests completed, by outcome.",
		}, []string{"test", "result"})

	// VersionMismatchCount counts connections rejected at the version gate.
	VersionMismatchCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qperf_version_mismatch_total",
			Help: "Number of connections rejected due to a version mismatch.",
		},
	)

	// TestDurationHistogram tracks wall-clock test duration, labeled by
	// test name.
	TestDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "qperf_test_duration_seconds",
			Help: "Test duration distribution (seconds), from accept (server) or the start of the client run to the end of the test.",
			Buckets: []float64{
				0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300,
			},
		}, []string{"test"})

	// BytesSentCount and BytesReceivedCount accumulate the raw byte
	// counters reported by LStat.s / LStat.r after each test, labeled by
	// test name.
	BytesSentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qperf_bytes_sent_total",
			Help: "Total bytes sent across all completed tests.",
		}, []string{"test"})

	BytesReceivedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qperf_bytes_received_total",
			Help: "Total bytes received across all completed tests.",
		}, []string{"test"})

	// UnusedParamWarningCount counts "set but not used" diagnostics
	// emitted by the parameter registry.
	UnusedParamWarningCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qperf_unused_param_warning_total",
			Help: "Number of parameters set by the user but never read by a test body.",
		},
	)
)

// RecordResult updates TestResultCount, TestDurationHistogram and the byte
// counters for one completed test.
func RecordResult(test string, successful bool, duration float64, bytesSent, bytesReceived uint64) {
	result := "success"
	if !successful {
		result = "failure"
	}
	TestResultCount.WithLabelValues(test, result).Inc()
	TestDurationHistogram.WithLabelValues(test).Observe(duration)
	BytesSentCount.WithLabelValues(test).Add(float64(bytesSent))
	BytesReceivedCount.WithLabelValues(test).Add(float64(bytesReceived))
}
