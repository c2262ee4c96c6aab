// Package health tracks per-server success/failure counters for one request
// and decides, via a simple consecutive-failure threshold, whether a server
// is safe to call.
//
// Unlike a timed circuit breaker this tracker has no half-open state: once a
// server trips, it stays open until an explicit recorded success clears it.
// That asymmetry is intentional (see DESIGN.md's open-question note) — a
// per-request tracker has no business waiting out a timer it will never see
// expire before the request itself completes.
package health

import (
	"sync"
	"time"

	"github.com/lucentlabs/ferry/pkg/models"
)

// FailureThreshold is F from spec.md §4.3: the number of consecutive
// failures that flips a server to unhealthy.
const FailureThreshold = 3

// Tracker accumulates per-server HealthRecords for the lifetime of one request.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*models.HealthRecord
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{records: make(map[string]*models.HealthRecord)}
}

func (t *Tracker) recordFor(serverID string) *models.HealthRecord {
	r, ok := t.records[serverID]
	if !ok {
		r = &models.HealthRecord{}
		t.records[serverID] = r
	}
	return r
}

// RecordSuccess registers a successful call and clears consecutive failures.
func (t *Tracker) RecordSuccess(serverID string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordFor(serverID)
	r.TotalCalls++
	r.TotalResponseMs += elapsed.Milliseconds()
	r.ConsecutiveFailures = 0
	r.LastSuccess = time.Now()
}

// RecordFailure registers a failed call and increments consecutive failures.
func (t *Tracker) RecordFailure(serverID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordFor(serverID)
	r.TotalCalls++
	r.FailedCalls++
	r.ConsecutiveFailures++
	r.LastFailure = time.Now()
	if err != nil {
		r.LastError = err.Error()
	}
}

// IsHealthy reports whether serverID may still be called: unknown servers
// are healthy by default, known servers are healthy while their consecutive
// failure count stays below FailureThreshold.
func (t *Tracker) IsHealthy(serverID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[serverID]
	if !ok {
		return true
	}
	return r.ConsecutiveFailures < FailureThreshold
}

// Summary returns the externally-reportable view of every server seen so far.
func (t *Tracker) Summary() map[string]models.HealthSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]models.HealthSummary, len(t.records))
	for id, r := range t.records {
		successCalls := r.TotalCalls - r.FailedCalls
		var failureRate, avgOnSuccess float64
		if r.TotalCalls > 0 {
			failureRate = float64(r.FailedCalls) / float64(r.TotalCalls)
		}
		if successCalls > 0 {
			avgOnSuccess = float64(r.TotalResponseMs) / float64(successCalls)
		}
		out[id] = models.HealthSummary{
			Healthy:                r.ConsecutiveFailures < FailureThreshold,
			TotalCalls:             r.TotalCalls,
			FailureRate:            failureRate,
			AvgResponseMsOnSuccess: avgOnSuccess,
			ConsecutiveFailures:    r.ConsecutiveFailures,
			LastError:              r.LastError,
		}
	}
	return out
}
