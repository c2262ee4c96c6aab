package progress

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lucentlabs/ferry/pkg/models"
)

func collectingServer(t *testing.T) (*httptest.Server, func() []models.StreamEvent) {
	t.Helper()
	var mu sync.Mutex
	var events []models.StreamEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev models.StreamEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return srv, func() []models.StreamEvent {
		mu.Lock()
		defer mu.Unlock()
		out := make([]models.StreamEvent, len(events))
		copy(out, events)
		return out
	}
}

func TestWebhookSender_CompleteModePostsOnceAtEnd(t *testing.T) {
	srv, snapshot := collectingServer(t)
	defer srv.Close()

	s := NewWebhookSender(srv.URL, models.ProgressModeComplete, 1, nil)
	cb := s.Callbacks()

	cb.EmitProgress("hello ")
	cb.EmitProgress("world")
	cb.EmitComplete(models.UnaryResponse{Responses: []string{"done"}})

	events := snapshot()
	if len(events) != 2 {
		t.Fatalf("expected a progress flush + a complete event, got %d: %+v", len(events), events)
	}
	if events[0].Type != models.StreamProgress || events[0].Text != "hello world" {
		t.Fatalf("progress event = %+v", events[0])
	}
	if events[1].Type != models.StreamComplete {
		t.Fatalf("expected terminal complete event, got %+v", events[1])
	}
}

func TestWebhookSender_IterationModeFlushesPerIteration(t *testing.T) {
	srv, snapshot := collectingServer(t)
	defer srv.Close()

	s := NewWebhookSender(srv.URL, models.ProgressModeIteration, 1, nil)
	cb := s.Callbacks()

	cb.EmitProgress("first")
	cb.EmitIterationComplete(0)
	cb.EmitProgress("second")
	cb.EmitIterationComplete(1)
	cb.EmitComplete(models.UnaryResponse{})

	events := snapshot()
	var progressTexts []string
	for _, e := range events {
		if e.Type == models.StreamProgress {
			progressTexts = append(progressTexts, e.Text)
		}
	}
	if len(progressTexts) != 2 || progressTexts[0] != "first" || progressTexts[1] != "second" {
		t.Fatalf("progress texts = %v", progressTexts)
	}
}

func TestWebhookSender_SentenceModeFlushesAtBoundary(t *testing.T) {
	srv, snapshot := collectingServer(t)
	defer srv.Close()

	s := NewWebhookSender(srv.URL, models.ProgressModeSentence, 1, nil)
	cb := s.Callbacks()

	cb.EmitProgress("Hello world")
	cb.EmitProgress(". More text")
	cb.EmitComplete(models.UnaryResponse{})

	events := snapshot()
	if len(events) < 1 {
		t.Fatalf("expected at least one progress event")
	}
	if events[0].Type != models.StreamProgress || events[0].Text != "Hello world." {
		t.Fatalf("first sentence flush = %+v", events[0])
	}
}

func TestWebhookSender_PeriodicModeFlushesOnTicker(t *testing.T) {
	srv, snapshot := collectingServer(t)
	defer srv.Close()

	s := NewWebhookSender(srv.URL, models.ProgressModePeriodic, 0, nil)
	if s.period != MinThrottle {
		t.Fatalf("expected throttle to clamp to MinThrottle, got %v", s.period)
	}
	cb := s.Callbacks()

	cb.EmitProgress("tick")
	time.Sleep(MinThrottle + 300*time.Millisecond)
	s.Stop()

	events := snapshot()
	found := false
	for _, e := range events {
		if e.Type == models.StreamProgress && e.Text == "tick" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a periodic flush containing %q, got %+v", "tick", events)
	}
}

func TestLastSentenceBoundary(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"no boundary here", -1},
		{"One sentence.", len("One sentence.")},
		{"One. Two", len("One.")},
		{"Question? Yes", len("Question?")},
	}
	for _, c := range cases {
		if got := lastSentenceBoundary(c.in); got != c.want {
			t.Errorf("lastSentenceBoundary(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
