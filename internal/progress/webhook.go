package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lucentlabs/ferry/internal/observability"
	"github.com/lucentlabs/ferry/pkg/models"
)

// MinThrottle is T_min from spec.md §4.9: the floor on the periodic mode's
// flush interval.
const MinThrottle = time.Second

// WebhookSender relays one request's progress to an external URL, throttled
// according to mode. Failures are logged and never returned to the caller —
// per spec.md §7, webhook errors must not abort the request.
type WebhookSender struct {
	url     string
	mode    models.ProgressMode
	period  time.Duration
	http    *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	buf    strings.Builder
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWebhookSender returns a sender for url, applying mode's semantics and
// clamping throttleSeconds to at least MinThrottle for periodic mode.
func NewWebhookSender(url string, mode models.ProgressMode, throttleSeconds float64, logger *slog.Logger) *WebhookSender {
	if logger == nil {
		logger = slog.Default()
	}
	period := time.Duration(throttleSeconds * float64(time.Second))
	if period < MinThrottle {
		period = MinThrottle
	}
	return &WebhookSender{
		url:    url,
		mode:   mode,
		period: period,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "progress_webhook"),
	}
}

// SetMetrics attaches the recorder used to track delivery outcomes. A nil
// metrics is fine; delivery simply isn't recorded.
func (s *WebhookSender) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Callbacks returns the Callbacks whose hooks drive this sender's delivery.
func (s *WebhookSender) Callbacks() Callbacks {
	cb := Callbacks{
		OnStatus: func(message string) {
			s.post(context.Background(), models.StreamEvent{Type: models.StreamStatus, Message: message})
		},
		OnToolUse: func(tool string, input any) {
			s.post(context.Background(), models.StreamEvent{Type: models.StreamToolUse, Tool: tool, Input: input})
		},
		OnToolResult: func(tool string, result string, isError bool) {
			s.post(context.Background(), models.StreamEvent{Type: models.StreamToolResult, Tool: tool, Result: result})
		},
		OnComplete: func(resp models.UnaryResponse) {
			s.flush(context.Background())
			s.post(context.Background(), models.StreamEvent{Type: models.StreamComplete, Response: &resp})
			s.Stop()
		},
		OnError: func(err error) {
			s.flush(context.Background())
			s.post(context.Background(), models.StreamEvent{Type: models.StreamError, Error: err.Error()})
			s.Stop()
		},
	}

	switch s.mode {
	case models.ProgressModeIteration:
		cb.OnProgress = s.accumulate
		cb.OnIterationComplete = func(int) { s.flush(context.Background()) }
	case models.ProgressModePeriodic:
		cb.OnProgress = s.accumulate
		s.startPeriodic()
	case models.ProgressModeSentence:
		cb.OnProgress = s.accumulateSentence
	case models.ProgressModeComplete:
		cb.OnProgress = s.accumulate
	default:
		cb.OnProgress = s.accumulate
	}

	return cb
}

// accumulate appends text to the pending buffer without flushing; used by
// "complete" mode, which only ever posts once at OnComplete.
func (s *WebhookSender) accumulate(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(text)
}

// accumulateSentence appends text and flushes up to the last
// sentence-ending punctuation whenever one is found.
func (s *WebhookSender) accumulateSentence(text string) {
	s.mu.Lock()
	s.buf.WriteString(text)
	combined := s.buf.String()
	cut := lastSentenceBoundary(combined)
	if cut <= 0 {
		s.mu.Unlock()
		return
	}
	chunk := combined[:cut]
	s.buf.Reset()
	s.buf.WriteString(combined[cut:])
	s.mu.Unlock()

	s.post(context.Background(), models.StreamEvent{Type: models.StreamProgress, Text: chunk})
}

// lastSentenceBoundary returns the index just past the last occurrence of
// '.', '!', or '?' that is followed by whitespace or end of input, or -1 if
// none is found.
func lastSentenceBoundary(s string) int {
	best := -1
	for i, r := range s {
		switch r {
		case '.', '!', '?':
			end := i + 1
			if end == len(s) || s[end] == ' ' || s[end] == '\n' || s[end] == '\t' {
				best = end
			}
		}
	}
	return best
}

func (s *WebhookSender) startPeriodic() {
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.flush(context.Background())
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop ends the periodic-mode goroutine, if one was started. Safe to call
// even when no periodic goroutine exists.
func (s *WebhookSender) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		s.wg.Wait()
	}
}

func (s *WebhookSender) flush(ctx context.Context) {
	s.mu.Lock()
	text := s.buf.String()
	s.buf.Reset()
	s.mu.Unlock()

	if text == "" {
		return
	}
	s.post(ctx, models.StreamEvent{Type: models.StreamProgress, Text: text})
}

func (s *WebhookSender) post(ctx context.Context, event models.StreamEvent) {
	if s.url == "" {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal progress event", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("failed to build progress webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.http.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		s.logger.Warn("progress webhook delivery failed", "error", err, "url", s.url)
		if s.metrics != nil {
			s.metrics.RecordProgressWebhook(string(s.mode), duration, err)
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("progress webhook returned non-2xx", "status", resp.StatusCode, "url", s.url)
		if s.metrics != nil {
			s.metrics.RecordProgressWebhook(string(s.mode), duration, fmt.Errorf("status %d", resp.StatusCode))
		}
		return
	}

	if s.metrics != nil {
		s.metrics.RecordProgressWebhook(string(s.mode), duration, nil)
	}
}
