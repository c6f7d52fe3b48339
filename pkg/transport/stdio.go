package transport

import (
	"bufio"
	"io"
)

const maxLineSize = 10 * 1024 * 1024

// StdioTransport carries frames as JSON lines over a reader/writer pair,
// typically the hub's own stdin and stdout. Blank lines are skipped.
type StdioTransport struct {
	*framedConn
}

// NewStdioTransport starts reading lines from r immediately. Close does not
// close r; EOF on it ends input.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StdioTransport{newFramedConn(&lineMessages{scanner: sc, w: w})}
}

type lineMessages struct {
	scanner *bufio.Scanner
	w       io.Writer
}

func (l *lineMessages) readMessage() ([]byte, error) {
	if l.scanner.Scan() {
		return l.scanner.Bytes(), nil
	}
	if err := l.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (l *lineMessages) writeMessage(data []byte) error {
	_, err := l.w.Write(append(data, '\n'))
	return err
}

func (l *lineMessages) close() error { return nil }
