package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	stdioKillGrace = 5 * time.Second
	stderrLimit    = 8 * 1024
)

// StdioTransport speaks newline-delimited JSON-RPC over the stdin/stdout of a child process.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer

	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[int]chan JSONRPCResponse

	done      chan struct{} // closed when the reader exits
	closeOnce sync.Once
}

// NewStdioTransport starts command with the parent environment plus env and wires
// its pipes. cwd may be empty.
func NewStdioTransport(command string, args []string, env map[string]string, cwd string) (*StdioTransport, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	t := &StdioTransport{
		cmd:     cmd,
		stdin:   stdinPipe,
		stdout:  stdoutPipe,
		stderr:  stderr,
		pending: make(map[int]chan JSONRPCResponse),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// inbound is used to tell responses apart from server-initiated messages.
type inbound struct {
	ID     *int   `json:"id"`
	Method string `json:"method"`
}

func (t *StdioTransport) readLoop() {
	defer close(t.done)

	scanner := bufio.NewScanner(t.stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var head inbound
		if err := json.Unmarshal(line, &head); err != nil || head.ID == nil || head.Method != "" {
			// log output, notifications and server requests are not ours to answer
			continue
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}

		t.pendMu.Lock()
		ch, ok := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.pendMu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (t *StdioTransport) forget(id int) {
	t.pendMu.Lock()
	delete(t.pending, id)
	t.pendMu.Unlock()
}

func (t *StdioTransport) Send(ctx context.Context, req JSONRPCRequest) (JSONRPCResponse, error) {
	if req.ID == nil {
		return JSONRPCResponse{}, fmt.Errorf("send requires a request id; use Notify for notifications")
	}
	id := *req.ID

	data, err := json.Marshal(req)
	if err != nil {
		return JSONRPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	// register before writing so a fast reply is not dropped
	ch := make(chan JSONRPCResponse, 1)
	t.pendMu.Lock()
	t.pending[id] = ch
	t.pendMu.Unlock()

	if err := t.writeLine(data); err != nil {
		t.forget(id)
		return JSONRPCResponse{}, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		t.forget(id)
		return JSONRPCResponse{}, ctx.Err()
	case <-t.done:
		t.forget(id)
		return JSONRPCResponse{}, fmt.Errorf("server process exited: %s", t.stderr.String())
	}
}

func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return t.writeLine(data)
}

func (t *StdioTransport) writeLine(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	return nil
}

// Close stops the child: close stdin, SIGTERM, then SIGKILL after a grace period.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.stdin.Close()
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Signal(syscall.SIGTERM)
		}

		exited := make(chan error, 1)
		go func() { exited <- t.cmd.Wait() }()

		select {
		case <-exited:
		case <-time.After(stdioKillGrace):
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			<-exited
		}
		<-t.done
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
