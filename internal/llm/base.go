// Package llm provides the LM Transport: a provider-agnostic streaming and
// unary completion interface with Anthropic (primary) and Bedrock
// (secondary) implementations.
package llm

import (
	"context"
	"time"

	"github.com/lucentlabs/ferry/pkg/models"
)

// OnDelta receives one incremental text fragment as it streams in. Pass nil
// to Transport.Complete when the caller doesn't need incremental delivery.
type OnDelta func(text string)

// Transport is the contract every LM backend implements: a single call that
// both streams text to onDelta (when non-nil, for progress fan-out) and
// returns the fully assembled structured message the orchestrator acts on.
type Transport interface {
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error)
}

// BaseProvider holds shared retry configuration for LM providers.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider returns a BaseProvider with defaults applied.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Retry runs op, retrying with linear backoff while isRetryable(err) holds.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			if isRetryable == nil || !isRetryable(err) {
				return err
			}
			if attempt >= b.maxRetries {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return lastErr
}

