package models

import "time"

// HealthRecord is the per-server health accounting the tracker maintains for a request.
type HealthRecord struct {
	TotalCalls          int       `json:"total_calls"`
	FailedCalls         int       `json:"failed_calls"`
	TotalResponseMs     int64     `json:"total_response_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// HealthSummary is the externally-reported view of a HealthRecord.
type HealthSummary struct {
	Healthy               bool    `json:"healthy"`
	TotalCalls            int     `json:"total_calls"`
	FailureRate           float64 `json:"failure_rate"`
	AvgResponseMsOnSuccess float64 `json:"avg_response_ms_on_success"`
	ConsecutiveFailures   int     `json:"consecutive_failures"`
	LastError             string  `json:"last_error,omitempty"`
}
