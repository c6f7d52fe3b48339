package transport

import "sync"

// ChannelTransport connects the bridge to a front-end in the same process.
// The bridge uses it as a Transport; the front-end side calls Send, Output
// and EndInput.
type ChannelTransport struct {
	in   chan Frame
	out  chan Frame
	done chan struct{}

	closeOnce sync.Once

	// inMu keeps Send from racing the close of in.
	inMu     sync.RWMutex
	inClosed bool
}

// NewChannelTransport creates a channel transport. bufferSize applies to both
// directions.
func NewChannelTransport(bufferSize int) *ChannelTransport {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ChannelTransport{
		in:   make(chan Frame, bufferSize),
		out:  make(chan Frame, bufferSize),
		done: make(chan struct{}),
	}
}

// Write hands a frame to the front-end side.
func (t *ChannelTransport) Write(frame Frame) error {
	if !t.IsReady() {
		return ErrTransportClosed
	}
	select {
	case t.out <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	}
}

// Close stops writes and ends input.
func (t *ChannelTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	t.EndInput()
	return nil
}

func (t *ChannelTransport) IsReady() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *ChannelTransport) ReadFrames() <-chan Frame {
	return t.in
}

// Send injects a frame from the front-end side. It fails once input has
// ended or the transport is closed.
func (t *ChannelTransport) Send(frame Frame) error {
	t.inMu.RLock()
	defer t.inMu.RUnlock()
	if t.inClosed || !t.IsReady() {
		return ErrTransportClosed
	}
	select {
	case t.in <- frame:
		return nil
	case <-t.done:
		return ErrTransportClosed
	}
}

// EndInput signals that the front-end is gone.
func (t *ChannelTransport) EndInput() {
	t.inMu.Lock()
	defer t.inMu.Unlock()
	if !t.inClosed {
		t.inClosed = true
		close(t.in)
	}
}

// Receive returns the next frame written by the bridge, or false once the
// transport is closed.
func (t *ChannelTransport) Receive() (Frame, bool) {
	select {
	case f, ok := <-t.out:
		return f, ok
	case <-t.done:
		return Frame{}, false
	}
}

// Output exposes the outbound channel.
func (t *ChannelTransport) Output() <-chan Frame {
	return t.out
}
