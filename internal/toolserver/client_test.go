package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lucentlabs/ferry/internal/ferrors"
	"github.com/lucentlabs/ferry/pkg/models"
)

func serverConfig(url string) models.ToolServerConfig {
	return models.ToolServerConfig{ID: "s1", Name: "s1", URL: url, Enabled: true}
}

func TestListReturnsTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"tools":[{"name":"search","description":"web search"}]}}`))
	}))
	defer srv.Close()

	c := New(serverConfig(srv.URL), 5*time.Second)
	result, err := c.List(context.Background(), CallOptions{Timeout: 5 * time.Second, MaxResponseBytes: 1024})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "search" {
		t.Errorf("Tools = %+v, want one tool named search", result.Tools)
	}
}

func TestInvokeExtractsTextContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"hello"}],"_meta":{"downstream_api_calls":2}}}`))
	}))
	defer srv.Close()

	c := New(serverConfig(srv.URL), 5*time.Second)
	result, _, err := c.Invoke(context.Background(), "search", json.RawMessage(`{}`), CallOptions{Timeout: 5 * time.Second, MaxResponseBytes: 1024})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.Value != "hello" {
		t.Errorf("Value = %v, want hello", result.Value)
	}
	if result.Meta.DownstreamAPICalls != 2 {
		t.Errorf("DownstreamAPICalls = %d, want 2", result.Meta.DownstreamAPICalls)
	}
}

func TestInvokeProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"method not found"}}`))
	}))
	defer srv.Close()

	c := New(serverConfig(srv.URL), 5*time.Second)
	_, _, err := c.Invoke(context.Background(), "missing", json.RawMessage(`{}`), CallOptions{Timeout: 5 * time.Second, MaxResponseBytes: 1024})
	fe, ok := ferrors.As(err)
	if !ok || fe.Kind != ferrors.KindProtocol {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
}

func TestInvokeResponseTooLarge(t *testing.T) {
	body := `{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"` + strings.Repeat("x", 100) + `"}]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(serverConfig(srv.URL), 5*time.Second)
	_, _, err := c.Invoke(context.Background(), "search", json.RawMessage(`{}`), CallOptions{Timeout: 5 * time.Second, MaxResponseBytes: 10})
	fe, ok := ferrors.As(err)
	if !ok || fe.Kind != ferrors.KindResponseTooLarge {
		t.Fatalf("err = %v, want ResponseTooLarge", err)
	}
}

func TestListHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(serverConfig(srv.URL), 5*time.Second)
	_, err := c.List(context.Background(), CallOptions{Timeout: 5 * time.Second, MaxResponseBytes: 1024})
	fe, ok := ferrors.As(err)
	if !ok || fe.Kind != ferrors.KindTransport || fe.HTTPStatus != 500 {
		t.Fatalf("err = %v, want TransportError{HTTPStatus:500}", err)
	}
}
