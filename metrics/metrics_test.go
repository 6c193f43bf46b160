package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/network-quality/qperf/metrics"
)

func TestRecordResultUpdatesCounters(t *testing.T) {
	metrics.RecordResult("tcp_bw_probe", true, 1.5, 1000, 2000)

	if got := testutil.ToFloat64(metrics.TestResultCount.WithLabelValues("tcp_bw_probe", "success")); got != 1 {
		t.Errorf("TestResultCount = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.BytesSentCount.WithLabelValues("tcp_bw_probe")); got != 1000 {
		t.Errorf("BytesSentCount = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(metrics.BytesReceivedCount.WithLabelValues("tcp_bw_probe")); got != 2000 {
		t.Errorf("BytesReceivedCount = %v, want 2000", got)
	}
}

func TestRecordResultFailureLabel(t *testing.T) {
	metrics.RecordResult("tcp_lat_probe", false, 0.2, 0, 0)
	if got := testutil.ToFloat64(metrics.TestResultCount.WithLabelValues("tcp_lat_probe", "failure")); got != 1 {
		t.Errorf("TestResultCount(failure) = %v, want 1", got)
	}
}
