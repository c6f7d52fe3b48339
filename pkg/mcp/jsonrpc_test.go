package mcp

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNotificationOmitsID(t *testing.T) {
	data, err := json.Marshal(newNotification(MethodInitialized, nil))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"jsonrpc":"2.0","method":"notifications/initialized"}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDecodeResult(t *testing.T) {
	var out ToolsListResult
	err := decodeResult(JSONRPCResponse{Result: json.RawMessage(`{"tools":[{"name":"a"}]}`)}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "a" {
		t.Errorf("tools: got %+v", out.Tools)
	}
}

func TestDecodeResultServerError(t *testing.T) {
	err := decodeResult(JSONRPCResponse{Error: &JSONRPCError{Code: -32601, Message: "nope"}}, nil)
	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *JSONRPCError, got %v", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("code: got %d", rpcErr.Code)
	}
	if err.Error() != "jsonrpc error -32601: nope" {
		t.Errorf("message: got %q", err.Error())
	}
}

func TestDecodeResultMalformed(t *testing.T) {
	var out ToolsListResult
	err := decodeResult(JSONRPCResponse{Result: json.RawMessage(`{"tools":`)}, &out)
	if err == nil || !strings.Contains(err.Error(), "decode result") {
		t.Errorf("expected decode error, got %v", err)
	}
}
