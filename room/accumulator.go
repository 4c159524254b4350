package room

import (
	"strings"
	"sync"
)

// Accumulator is an append-only text buffer safe for concurrent use. Every append is applied exactly once and
// the returned contents always contain complete appends only.
type Accumulator struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Append adds line followed by a newline and returns the full contents after the append.
func (a *Accumulator) Append(line string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf.WriteString(line)
	a.buf.WriteByte('\n')
	return a.buf.String()
}

func (a *Accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.String()
}
