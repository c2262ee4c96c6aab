// Package budget accounts for one request's cumulative downstream tool-server
// calls, mixing actual counts (when a server reports them) with estimates,
// and projects whether the next call would exceed the configured limit.
package budget

import (
	"sync"

	"github.com/lucentlabs/ferry/pkg/models"
)

// Config bounds one request's downstream call budget.
type Config struct {
	Limit          int
	DefaultPerCall int
}

// DefaultConfig matches spec.md §6's enumerated defaults.
func DefaultConfig() Config {
	return Config{Limit: 120, DefaultPerCall: 12}
}

// Budget tracks MCP calls and the downstream calls they incurred.
type Budget struct {
	mu sync.Mutex

	cfg                 Config
	mcpCalls            int
	actualDownstream    int
	estimatedDownstream int
}

// New returns a Budget seeded with cfg, applying defaults for zero fields.
func New(cfg Config) *Budget {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.DefaultPerCall <= 0 {
		cfg.DefaultPerCall = DefaultConfig().DefaultPerCall
	}
	return &Budget{cfg: cfg}
}

// RecordCall registers one MCP call, adding meta.DownstreamAPICalls to the
// actual total when present, otherwise adding the configured estimate.
func (b *Budget) RecordCall(meta *models.CallMeta) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mcpCalls++
	if meta != nil && meta.DownstreamAPICalls > 0 {
		b.actualDownstream += meta.DownstreamAPICalls
	} else {
		b.estimatedDownstream += b.cfg.DefaultPerCall
	}
}

func (b *Budget) total() int {
	return b.actualDownstream + b.estimatedDownstream
}

// Exceeded reports whether the cumulative total has reached the limit.
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total() >= b.cfg.Limit
}

// WouldExceed projects whether one more call at the default estimate would
// push the total past the limit.
func (b *Budget) WouldExceed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total()+b.cfg.DefaultPerCall > b.cfg.Limit
}

// Status returns a point-in-time snapshot for logging and the orchestration summary.
func (b *Budget) Status() models.BudgetStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.total()
	remaining := b.cfg.Limit - total
	if remaining < 0 {
		remaining = 0
	}
	percent := 0.0
	if b.cfg.Limit > 0 {
		percent = float64(total) / float64(b.cfg.Limit) * 100
	}

	warning := models.BudgetWarningNone
	switch {
	case percent >= 90:
		warning = models.BudgetWarningCritical
	case percent >= 75:
		warning = models.BudgetWarningWarn
	}

	return models.BudgetStatus{
		Remaining:      remaining,
		PercentUsed:    percent,
		Warning:        warning,
		Total:          total,
		UsingEstimates: b.estimatedDownstream > 0,
	}
}

// Actual returns the actual-downstream component, mainly for tests and logging.
func (b *Budget) Actual() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.actualDownstream
}

// Limit returns the configured limit.
func (b *Budget) Limit() int {
	return b.cfg.Limit
}
