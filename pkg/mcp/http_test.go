package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moqimoqidea/gemini-cli/pkg/types"
)

func rpcResult(t *testing.T, r *http.Request, result string) JSONRPCResponse {
	t.Helper()
	var req JSONRPCRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	require.NotNil(t, req.ID)
	return JSONRPCResponse{JSONRPC: "2.0", ID: *req.ID, Result: json.RawMessage(result)}
}

func TestHTTPTransport_JSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ProtocolVersion, r.Header.Get(headerProtocolVersion))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResult(t, r, `{"tools":[{"name":"search"}]}`))
	}))
	defer server.Close()

	resp, err := NewHTTPTransport(server.URL, nil).Send(context.Background(), newRequest(1, MethodToolsList, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ID)

	var result ToolsListResult
	require.NoError(t, decodeResult(resp, &result))
	assert.Equal(t, "search", result.Tools[0].Name)
}

func TestHTTPTransport_SSEResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResult(t, r, `{"ok":true}`)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, ": keep-alive\n\n")
		// a notification for someone else, then ours split over two data lines
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":999,\"result\":{}}\n\n")
		data, _ := json.Marshal(resp)
		half := len(data) / 2
		fmt.Fprintf(w, "data: %s\ndata: %s\n\n", data[:half], data[half:])
	}))
	defer server.Close()

	resp, err := NewHTTPTransport(server.URL, nil).Send(context.Background(), newRequest(7, MethodToolsCall, nil))
	require.NoError(t, err)
	assert.Equal(t, 7, resp.ID)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestHTTPTransport_SessionLifecycle(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	deleted := false

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodDelete {
			deleted = r.Header.Get(headerSessionID) == "sess-1"
			return
		}
		seen = append(seen, r.Header.Get(headerSessionID))
		w.Header().Set(headerSessionID, "sess-1")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResult(t, r, `{}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, map[string]string{"Authorization": "Bearer token"})
	ctx := context.Background()
	_, err := transport.Send(ctx, newRequest(1, MethodInitialize, nil))
	require.NoError(t, err)
	_, err = transport.Send(ctx, newRequest(2, MethodToolsList, nil))
	require.NoError(t, err)
	require.NoError(t, transport.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "sess-1"}, seen)
	assert.True(t, deleted)
}

func TestHTTPTransport_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rpcResult(t, r, `{}`))
	}))
	defer server.Close()

	_, err := NewHTTPTransport(server.URL, map[string]string{"Authorization": "Bearer token"}).
		Send(context.Background(), newRequest(1, MethodToolsList, nil))
	require.NoError(t, err)
}

func TestHTTPTransport_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := NewHTTPTransport(server.URL, nil).Send(context.Background(), newRequest(1, MethodToolsList, nil))
	assert.ErrorContains(t, err, "http 500")
}

func TestHTTPTransport_Notify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Nil(t, req.ID)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	assert.NoError(t, NewHTTPTransport(server.URL, nil).Notify(context.Background(), MethodInitialized, nil))
}

func TestHTTPTransport_CloseWithoutSession(t *testing.T) {
	assert.NoError(t, NewHTTPTransport("http://127.0.0.1:0", nil).Close())
}

// End to end: a Client discovers over a real HTTP server through Dial.
func TestClient_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.ID == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		var result string
		switch req.Method {
		case MethodInitialize:
			result = `{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"remote","version":"2"}}`
		case MethodToolsList:
			result = `{"tools":[{"name":"lookup"}]}`
		default:
			result = `{}`
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(JSONRPCResponse{JSONRPC: "2.0", ID: *req.ID, Result: json.RawMessage(result)})
	}))
	defer server.Close()

	c := NewClient("remote", types.ServerConfig{Type: TransportHTTP, URL: server.URL}, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	reg := newRecordingRegistrar()
	require.NoError(t, c.Discover(context.Background(), reg))
	assert.Equal(t, []string{"mcp__remote__lookup"}, toolNames(reg.tools["remote"]))
}

func TestDial(t *testing.T) {
	_, err := Dial(context.Background(), types.ServerConfig{})
	assert.ErrorContains(t, err, "requires a command")

	_, err = Dial(context.Background(), types.ServerConfig{Type: TransportSSE})
	assert.ErrorContains(t, err, "requires a URL")

	_, err = Dial(context.Background(), types.ServerConfig{Type: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unsupported transport")

	transport, err := Dial(context.Background(), types.ServerConfig{URL: "http://example.invalid"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPTransport{}, transport)
}
