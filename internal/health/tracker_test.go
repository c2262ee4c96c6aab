package health

import (
	"errors"
	"testing"
	"time"
)

func TestUnknownServerIsHealthy(t *testing.T) {
	tr := New()
	if !tr.IsHealthy("s1") {
		t.Error("unknown server should be healthy")
	}
}

func TestThreeConsecutiveFailuresTripsCircuit(t *testing.T) {
	tr := New()
	for i := 0; i < FailureThreshold; i++ {
		tr.RecordFailure("s1", errors.New("boom"))
	}
	if tr.IsHealthy("s1") {
		t.Error("server should be unhealthy after 3 consecutive failures")
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	tr := New()
	tr.RecordFailure("s1", errors.New("boom"))
	tr.RecordFailure("s1", errors.New("boom"))
	tr.RecordSuccess("s1", 10*time.Millisecond)

	tr.RecordFailure("s1", errors.New("boom"))
	tr.RecordFailure("s1", errors.New("boom"))
	if !tr.IsHealthy("s1") {
		t.Error("two failures after a reset should not trip the circuit")
	}
}

func TestSummaryComputesRatesFromSuccessOnly(t *testing.T) {
	tr := New()
	tr.RecordSuccess("s1", 100*time.Millisecond)
	tr.RecordSuccess("s1", 300*time.Millisecond)
	tr.RecordFailure("s1", errors.New("boom"))

	summary := tr.Summary()["s1"]
	if summary.TotalCalls != 3 {
		t.Errorf("TotalCalls = %d, want 3", summary.TotalCalls)
	}
	if summary.AvgResponseMsOnSuccess != 200 {
		t.Errorf("AvgResponseMsOnSuccess = %v, want 200", summary.AvgResponseMsOnSuccess)
	}
	if summary.FailureRate < 0.33 || summary.FailureRate > 0.34 {
		t.Errorf("FailureRate = %v, want ~0.33", summary.FailureRate)
	}
}
