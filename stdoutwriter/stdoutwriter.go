package stdoutwriter

import (
	"fmt"
	"io"
	"os"
)

// Logger writes each log record as a single line to the standard output.
type Logger struct {
	out io.Writer
}

// New creates Logger writing to out, nil out means the standard output.
func New(out io.Writer) Logger {
	return Logger{out: out}
}

// Write satisfies io.Writer abstraction.
func (l Logger) Write(p []byte) (n int, err error) {
	out := l.out
	if out == nil {
		out = os.Stdout
	}
	if _, err := fmt.Fprintln(out, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}
