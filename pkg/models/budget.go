package models

// BudgetWarning classifies how close a request's call budget is to exhaustion.
type BudgetWarning string

const (
	BudgetWarningNone     BudgetWarning = "none"
	BudgetWarningWarn     BudgetWarning = "warn"
	BudgetWarningCritical BudgetWarning = "critical"
)

// BudgetStatus is a point-in-time snapshot of a request's downstream call budget.
type BudgetStatus struct {
	Remaining      int           `json:"remaining"`
	PercentUsed    float64       `json:"percent_used"`
	Warning        BudgetWarning `json:"warning"`
	Total          int           `json:"total"`
	UsingEstimates bool          `json:"using_estimates"`
}

// CallMeta is the optional metadata a tool server may return alongside a result.
type CallMeta struct {
	DownstreamAPICalls int    `json:"downstream_api_calls,omitempty"`
	CacheStatus        string `json:"cache_status,omitempty"`
}
