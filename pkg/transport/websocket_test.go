package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

// wsPair starts a server that wraps each accepted conn in a
// WebSocketTransport and hands it to the test, plus a dialed client conn.
func wsPair(t *testing.T) (*WebSocketTransport, *websocket.Conn) {
	t.Helper()
	ready := make(chan *WebSocketTransport, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		tr := NewWebSocketTransport(r.Context(), conn)
		ready <- tr
		<-tr.Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case tr := <-ready:
		t.Cleanup(func() { tr.Close() })
		return tr, client
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
		return nil, nil
	}
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	server, client := wsPair(t)
	ctx := context.Background()

	f, err := NewFrame(FrameConfirmationRequest, "c1", ConfirmationPrompt{ToolName: "mcp__fs__write"})
	require.NoError(t, err)
	require.NoError(t, server.Write(f))

	_, data, err := client.Read(ctx)
	require.NoError(t, err)
	var got Frame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, FrameConfirmationRequest, got.Type)
	assert.Equal(t, "c1", got.CorrelationID)

	require.NoError(t, client.Write(ctx, websocket.MessageText,
		[]byte(`{"type":"confirmation_response","correlationId":"c1","payload":{"confirmed":true}}`)))

	in := readFrame(t, server.ReadFrames())
	assert.Equal(t, FrameConfirmationResponse, in.Type)
	assert.Equal(t, "c1", in.CorrelationID)
}

func TestWebSocketTransport_MalformedFrame(t *testing.T) {
	server, client := wsPair(t)

	require.NoError(t, client.Write(context.Background(), websocket.MessageText, []byte(`{broken`)))

	f := readFrame(t, server.ReadFrames())
	assert.Equal(t, FrameError, f.Type)
	assert.Error(t, f.Err)
}

func TestWebSocketTransport_ClientDisconnect(t *testing.T) {
	server, client := wsPair(t)

	client.Close(websocket.StatusGoingAway, "bye")

	select {
	case _, ok := <-server.ReadFrames():
		assert.False(t, ok, "going away ends input without an error frame")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not notice the disconnect")
	}
}

func TestWebSocketTransport_ServerClose(t *testing.T) {
	server, client := wsPair(t)

	readErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _, err := client.Read(ctx)
		readErr <- err
	}()

	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	assert.False(t, server.IsReady())
	assert.ErrorIs(t, server.Write(Frame{Type: FrameExecutionResult}), ErrTransportClosed)

	select {
	case err := <-readErr:
		assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	case <-time.After(3 * time.Second):
		t.Fatal("client never saw the close frame")
	}
}
