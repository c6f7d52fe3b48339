package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	headerSessionID       = "Mcp-Session-Id"
	headerProtocolVersion = "Mcp-Protocol-Version"
)

// HTTPTransport talks to a Streamable HTTP MCP endpoint. Every message is a POST;
// replies arrive either as a JSON body or as an SSE stream.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client

	mu        sync.Mutex
	sessionID string
}

// NewHTTPTransport creates a transport for url with extra request headers.
func NewHTTPTransport(url string, headers map[string]string) *HTTPTransport {
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{},
	}
}

func (t *HTTPTransport) post(ctx context.Context, msg JSONRPCRequest) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(headerProtocolVersion, ProtocolVersion)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(headerSessionID, t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	if sid := resp.Header.Get(headerSessionID); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

func (t *HTTPTransport) Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	resp, err := t.post(ctx, req)
	if err != nil {
		return JSONRPCResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return JSONRPCResponse{}, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readSSEResponse(ctx, resp.Body, req.ID)
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return JSONRPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return rpcResp, nil
}

// readSSEResponse scans an event stream for the response whose id matches.
func readSSEResponse(ctx context.Context, body io.Reader, id *int) (JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return JSONRPCResponse{}, err
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		case line != "":
			continue // event:, id:, comments
		}

		// blank line ends an event
		payload := data.String()
		data.Reset()
		if payload == "" {
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			continue
		}
		if id == nil || resp.ID == *id {
			return resp, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return JSONRPCResponse{}, fmt.Errorf("sse stream: %w", err)
	}

	// a final event without a trailing blank line
	if payload := data.String(); payload != "" {
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(payload), &resp); err == nil && (id == nil || resp.ID == *id) {
			return resp, nil
		}
	}
	return JSONRPCResponse{}, fmt.Errorf("sse stream ended without matching response")
}

func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	resp, err := t.post(ctx, newNotification(method, params))
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("http %d for notification %s", resp.StatusCode, method)
	}
}

// Close ends the server-side session when one was issued.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	sid := t.sessionID
	t.sessionID = ""
	t.mu.Unlock()

	if sid == "" {
		return nil
	}
	req, err := http.NewRequest(http.MethodDelete, t.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set(headerSessionID, sid)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	resp.Body.Close()
	return nil
}
