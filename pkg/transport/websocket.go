package transport

import (
	"context"
	"io"

	"nhooyr.io/websocket"
)

// WebSocketTransport carries each frame as one text message.
type WebSocketTransport struct {
	*framedConn
}

// NewWebSocketTransport wraps an accepted connection. ctx bounds every read
// and write on it.
func NewWebSocketTransport(ctx context.Context, conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{newFramedConn(wsMessages{ctx: ctx, conn: conn})}
}

type wsMessages struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (w wsMessages) readMessage() ([]byte, error) {
	_, data, err := w.conn.Read(w.ctx)
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return nil, io.EOF
	}
	return data, err
}

func (w wsMessages) writeMessage(data []byte) error {
	return w.conn.Write(w.ctx, websocket.MessageText, data)
}

// close ignores the handshake result; the peer may already be gone.
func (w wsMessages) close() error {
	_ = w.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
