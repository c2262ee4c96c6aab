package llm

import "testing"

func TestClassifyErrorReasons(t *testing.T) {
	cases := []struct {
		msg  string
		want FailoverReason
	}{
		{"request timed out", FailoverTimeout},
		{"429 too many requests", FailoverRateLimit},
		{"401 unauthorized", FailoverAuth},
		{"503 internal server error", FailoverServerError},
		{"something unexpected", FailoverUnknown},
	}
	for _, c := range cases {
		got := classifyError(errString(c.msg))
		if got != c.want {
			t.Errorf("classifyError(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestIsRetryableUnwrapsProviderError(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4", errString("429 rate_limit"))
	if !IsRetryable(err) {
		t.Error("expected rate-limited provider error to be retryable")
	}

	err2 := NewProviderError("anthropic", "claude-sonnet-4", errString("400 bad request"))
	if IsRetryable(err2) {
		t.Error("expected invalid-request provider error to not be retryable")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
