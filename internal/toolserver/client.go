// Package toolserver implements the JSON-RPC 2.0 HTTP client used to discover
// and invoke tools on remote tool servers.
package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lucentlabs/ferry/internal/ferrors"
	"github.com/lucentlabs/ferry/pkg/models"
)

// jsonrpcRequest is the wire envelope sent to a tool server.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

// CallOptions bounds one request to a tool server.
type CallOptions struct {
	Timeout        time.Duration
	MaxResponseBytes int64
}

// Client calls JSON-RPC methods on a single tool server over HTTP.
type Client struct {
	server models.ToolServerConfig
	logger *slog.Logger
	http   *http.Client
}

// New returns a Client for server, using a best-effort http.Client whose
// own timeout is the larger of the discovery/invocation timeouts the caller
// will pass through CallOptions (set generously; per-call cancellation is
// still enforced via ctx/opts below).
func New(server models.ToolServerConfig, dialTimeout time.Duration) *Client {
	return &Client{
		server: server,
		logger: slog.Default().With("component", "toolserver", "server_id", server.ID),
		http:   &http.Client{Timeout: dialTimeout},
	}
}

// ListResult is the decoded shape of a tools/list response.
type ListResult struct {
	Tools []models.RawTool `json:"tools"`
}

// List performs tools/list discovery.
func (c *Client) List(ctx context.Context, opts CallOptions) (*ListResult, error) {
	raw, _, err := c.call(ctx, "tools/list", nil, opts)
	if err != nil {
		return nil, err
	}
	var out ListResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ferrors.Protocol(0, fmt.Sprintf("malformed tools/list result: %v", err))
	}
	return &out, nil
}

// InvokeResult is the outcome of a successful tools/call.
type InvokeResult struct {
	// Value is the extracted text, when a text content block was present;
	// otherwise it is the raw content payload.
	Value any
	Meta  models.CallMeta
}

type invokeParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type invokeResultWire struct {
	Content []contentBlock `json:"content"`
	Meta    *struct {
		DownstreamAPICalls int    `json:"downstream_api_calls,omitempty"`
		CacheStatus        string `json:"cache_status,omitempty"`
	} `json:"_meta,omitempty"`
}

// Invoke performs a tools/call with the given arguments, returning the
// extracted value and elapsed time so the caller can update health/budget.
func (c *Client) Invoke(ctx context.Context, toolName string, arguments json.RawMessage, opts CallOptions) (*InvokeResult, time.Duration, error) {
	start := time.Now()
	raw, elapsed, err := c.call(ctx, "tools/call", invokeParams{Name: toolName, Arguments: arguments}, opts)
	if err != nil {
		return nil, time.Since(start), err
	}

	var wire invokeResultWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		// Non-wrapping server: treat the whole payload as the result value.
		var anyVal any
		if jerr := json.Unmarshal(raw, &anyVal); jerr != nil {
			return nil, elapsed, ferrors.Protocol(0, fmt.Sprintf("malformed tools/call result: %v", err))
		}
		return &InvokeResult{Value: anyVal}, elapsed, nil
	}

	meta := models.CallMeta{}
	if wire.Meta != nil {
		meta.DownstreamAPICalls = wire.Meta.DownstreamAPICalls
		meta.CacheStatus = wire.Meta.CacheStatus
	}

	var value any = wire.Content
	for _, block := range wire.Content {
		if block.Type == "text" && block.Text != "" {
			value = block.Text
			break
		}
	}

	return &InvokeResult{Value: value, Meta: meta}, elapsed, nil
}

// call executes one JSON-RPC round trip, enforcing timeout and response-size
// bounds per spec.md §4.1.
func (c *Client) call(ctx context.Context, method string, params any, opts CallOptions) (json.RawMessage, time.Duration, error) {
	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req := jsonrpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: uuid.New().String()}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, time.Since(start), ferrors.Validation("marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.server.URL, bytes.NewReader(body))
	if err != nil {
		return nil, time.Since(start), ferrors.Validation("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if c.server.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.server.AuthToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, time.Since(start), ferrors.Cancelled(ctx.Err().Error())
		}
		return nil, time.Since(start), ferrors.Transport(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, time.Since(start), ferrors.Transport(resp.StatusCode, fmt.Errorf("http status %d", resp.StatusCode))
	}

	limit := opts.MaxResponseBytes
	if limit <= 0 {
		limit = 1048576
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > limit {
			return nil, time.Since(start), ferrors.ResponseTooLarge(int(n), int(limit))
		}
	}

	data, n, err := readLimited(resp.Body, limit)
	if err != nil {
		return nil, time.Since(start), ferrors.ResponseTooLarge(int(n), int(limit))
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil || rpcResp.JSONRPC != "2.0" {
		// Tolerate non-wrapping servers: treat the whole payload as the result.
		return json.RawMessage(data), time.Since(start), nil
	}
	if rpcResp.Error != nil {
		return nil, time.Since(start), ferrors.Protocol(rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result != nil {
		return rpcResp.Result, time.Since(start), nil
	}
	return json.RawMessage(data), time.Since(start), nil
}

// readLimited reads at most limit+1 bytes so an oversize body is detected
// without buffering the whole thing, returning the bytes actually consumed.
func readLimited(r io.Reader, limit int64) ([]byte, int64, error) {
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, 0, err
	}
	if int64(len(data)) > limit {
		return nil, int64(len(data)), fmt.Errorf("response exceeds %d bytes", limit)
	}
	return data, int64(len(data)), nil
}
