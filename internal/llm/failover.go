package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lucentlabs/ferry/pkg/models"
)

// FailoverConfig configures FailoverTransport's retry and circuit-breaker
// behavior, one tier reduced from the teacher's multi-provider orchestrator
// to the two concrete providers this package ships.
type FailoverConfig struct {
	MaxRetries              int
	RetryBackoff            time.Duration
	MaxRetryBackoff         time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultFailoverConfig matches the teacher's defaults.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:              2,
		RetryBackoff:            100 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		CircuitBreakerThreshold: 3,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

type providerState struct {
	failures      int
	circuitOpen   bool
	circuitOpenAt time.Time
}

func (s *providerState) isAvailable(cfg FailoverConfig) bool {
	if !s.circuitOpen {
		return true
	}
	return time.Since(s.circuitOpenAt) > cfg.CircuitBreakerTimeout
}

// FailoverTransport tries each configured Transport in order, opening a
// per-provider circuit breaker after CircuitBreakerThreshold consecutive
// failures and retrying retryable errors with exponential backoff before
// moving to the next provider.
type FailoverTransport struct {
	providers []Transport
	cfg       FailoverConfig

	mu     sync.Mutex
	states map[string]*providerState
}

// NewFailoverTransport returns a transport that tries primary first, falling
// back to the rest of backups in order. cfg's zero value takes
// DefaultFailoverConfig.
func NewFailoverTransport(cfg FailoverConfig, primary Transport, backups ...Transport) *FailoverTransport {
	if cfg.MaxRetries <= 0 && cfg.CircuitBreakerThreshold <= 0 {
		cfg = DefaultFailoverConfig()
	}
	return &FailoverTransport{
		providers: append([]Transport{primary}, backups...),
		cfg:       cfg,
		states:    make(map[string]*providerState),
	}
}

func (f *FailoverTransport) Name() string { return "failover" }

// Complete tries each provider in order, skipping ones whose circuit is open,
// retrying retryable errors per-provider, and returning the first success.
func (f *FailoverTransport) Complete(ctx context.Context, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error) {
	var lastErr error

	for _, provider := range f.providers {
		state := f.stateFor(provider.Name())
		if !state.isAvailable(f.cfg) {
			continue
		}

		msg, err := f.tryProvider(ctx, provider, req, onDelta)
		if err == nil {
			f.recordSuccess(provider.Name())
			return msg, nil
		}

		lastErr = err
		f.recordFailure(provider.Name())

		if !IsRetryable(err) {
			return models.FinalMessage{}, err
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("llm: no available providers")
	}
	return models.FinalMessage{}, lastErr
}

func (f *FailoverTransport) tryProvider(ctx context.Context, provider Transport, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error) {
	backoff := f.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		msg, err := provider.Complete(ctx, req, onDelta)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if !IsRetryable(err) || ctx.Err() != nil || attempt >= f.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > f.cfg.MaxRetryBackoff {
				backoff = f.cfg.MaxRetryBackoff
			}
		case <-ctx.Done():
			return models.FinalMessage{}, ctx.Err()
		}
	}

	return models.FinalMessage{}, lastErr
}

func (f *FailoverTransport) stateFor(name string) *providerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[name]
	if !ok {
		s = &providerState{}
		f.states[name] = s
	}
	return s
}

func (f *FailoverTransport) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[name]
	if s == nil {
		return
	}
	s.failures = 0
	s.circuitOpen = false
}

func (f *FailoverTransport) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.states[name]
	if s == nil {
		return
	}
	s.failures++
	if f.cfg.CircuitBreakerThreshold > 0 && s.failures >= f.cfg.CircuitBreakerThreshold {
		s.circuitOpen = true
		s.circuitOpenAt = time.Now()
	}
}
