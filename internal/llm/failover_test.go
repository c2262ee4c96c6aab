package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucentlabs/ferry/pkg/models"
)

type failingTransport struct {
	name      string
	err       error
	callCount atomic.Int32
}

func (t *failingTransport) Name() string { return t.name }

func (t *failingTransport) Complete(ctx context.Context, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error) {
	t.callCount.Add(1)
	return models.FinalMessage{}, t.err
}

type successTransport struct {
	name      string
	callCount atomic.Int32
}

func (t *successTransport) Name() string { return t.name }

func (t *successTransport) Complete(ctx context.Context, req models.CompletionRequest, onDelta OnDelta) (models.FinalMessage, error) {
	t.callCount.Add(1)
	return models.FinalMessage{
		Content:    []models.ContentBlock{{Type: models.BlockText, Text: "ok from " + t.name}},
		StopReason: models.StopEndTurn,
	}, nil
}

func fastFailoverConfig() FailoverConfig {
	cfg := DefaultFailoverConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxRetryBackoff = 2 * time.Millisecond
	return cfg
}

func TestFailoverTransport_PrimarySuccess(t *testing.T) {
	primary := &successTransport{name: "primary"}
	secondary := &successTransport{name: "secondary"}
	ft := NewFailoverTransport(fastFailoverConfig(), primary, secondary)

	msg, err := ft.Complete(context.Background(), models.CompletionRequest{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content[0].Text != "ok from primary" {
		t.Fatalf("content = %+v", msg.Content)
	}
	if secondary.callCount.Load() != 0 {
		t.Fatalf("secondary should not have been called")
	}
}

func TestFailoverTransport_FallsBackOnRetryableError(t *testing.T) {
	primary := &failingTransport{name: "primary", err: &ProviderError{Reason: FailoverServerError, Cause: errors.New("503")}}
	secondary := &successTransport{name: "secondary"}
	ft := NewFailoverTransport(fastFailoverConfig(), primary, secondary)

	msg, err := ft.Complete(context.Background(), models.CompletionRequest{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Content[0].Text != "ok from secondary" {
		t.Fatalf("content = %+v", msg.Content)
	}
	if primary.callCount.Load() != int32(fastFailoverConfig().MaxRetries+1) {
		t.Fatalf("primary call count = %d", primary.callCount.Load())
	}
}

func TestFailoverTransport_NonRetryableErrorSkipsFallback(t *testing.T) {
	primary := &failingTransport{name: "primary", err: &ProviderError{Reason: FailoverAuth, Cause: errors.New("401")}}
	secondary := &successTransport{name: "secondary"}
	ft := NewFailoverTransport(fastFailoverConfig(), primary, secondary)

	_, err := ft.Complete(context.Background(), models.CompletionRequest{}, nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if secondary.callCount.Load() != 0 {
		t.Fatalf("secondary should not be tried for a non-retryable error")
	}
}

func TestFailoverTransport_CircuitOpensAfterThreshold(t *testing.T) {
	primary := &failingTransport{name: "primary", err: &ProviderError{Reason: FailoverServerError, Cause: errors.New("503")}}
	secondary := &successTransport{name: "secondary"}
	cfg := fastFailoverConfig()
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerTimeout = time.Hour
	ft := NewFailoverTransport(cfg, primary, secondary)

	if _, err := ft.Complete(context.Background(), models.CompletionRequest{}, nil); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	callsAfterFirst := primary.callCount.Load()

	if _, err := ft.Complete(context.Background(), models.CompletionRequest{}, nil); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if primary.callCount.Load() != callsAfterFirst {
		t.Fatalf("primary should be skipped once its circuit is open, got %d more calls", primary.callCount.Load()-callsAfterFirst)
	}
}
