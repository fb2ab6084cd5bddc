package main

import (
	"fmt"
	"io"
	"sync"

	"janim-toolbox/internal/client"
	"janim-toolbox/internal/position"
)

// syncWriter serializes writes from the receive loop and the command loop.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// terminalView prints the remote execution line as it moves.
type terminalView struct {
	out  io.Writer
	mu   sync.Mutex
	line int
}

var _ position.View = (*terminalView)(nil)

func newTerminalView(out io.Writer) *terminalView {
	return &terminalView{out: out, line: position.None}
}

func (v *terminalView) ID() string { return "terminal" }

func (v *terminalView) ShowLine(line int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if line == v.line {
		return
	}
	v.line = line
	fmt.Fprintf(v.out, "janim at line %d\n", line+1)
}

func (v *terminalView) ClearLine() {
	v.mu.Lock()
	v.line = position.None
	v.mu.Unlock()
}

// Reveal is a no-op: ShowLine already printed the line.
func (v *terminalView) Reveal(int) {}

// printNotices writes every notice on ch until the subscription closes.
func printNotices(out io.Writer, ch <-chan client.Event) {
	for ev := range ch {
		if ev.Kind != client.EventNotice || ev.Notice == nil {
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", ev.Notice.Level, ev.Notice.Message)
	}
}
