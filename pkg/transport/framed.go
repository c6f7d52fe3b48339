package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// messageConn moves whole encoded frames. readMessage returns io.EOF when the
// peer has gone away cleanly.
type messageConn interface {
	readMessage() ([]byte, error)
	writeMessage(data []byte) error
	close() error
}

// framedConn turns a messageConn into a Transport: inbound messages are
// decoded onto a channel by one goroutine, outbound frames are encoded and
// written one at a time.
type framedConn struct {
	conn   messageConn
	frames chan Frame
	done   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

func newFramedConn(conn messageConn) *framedConn {
	f := &framedConn{
		conn:   conn,
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	go f.pump()
	return f
}

func (f *framedConn) pump() {
	defer close(f.frames)

	for {
		data, err := f.conn.readMessage()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			f.deliver(Frame{Type: FrameError, Err: err})
			return
		}
		if len(data) == 0 {
			continue
		}
		if !f.deliver(decodeFrame(data)) {
			return
		}
	}
}

// deliver reports false once the transport is closed.
func (f *framedConn) deliver(fr Frame) bool {
	select {
	case f.frames <- fr:
		return true
	case <-f.done:
		return false
	}
}

func decodeFrame(data []byte) Frame {
	var fr Frame
	if err := json.Unmarshal(data, &fr); err != nil {
		return Frame{Type: FrameError, Err: fmt.Errorf("decode frame: %w", err)}
	}
	if fr.Type == "" {
		return Frame{Type: FrameError, Err: errors.New("decode frame: missing type")}
	}
	return fr
}

func (f *framedConn) Write(frame Frame) error {
	if !f.IsReady() {
		return ErrTransportClosed
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.writeMessage(data)
}

func (f *framedConn) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.done)
	f.mu.Unlock()

	return f.conn.close()
}

func (f *framedConn) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *framedConn) ReadFrames() <-chan Frame {
	return f.frames
}

// Done is closed once Close has been called.
func (f *framedConn) Done() <-chan struct{} {
	return f.done
}
