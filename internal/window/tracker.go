package window

import (
	"context"
	"errors"
	"strings"
	"sync"

	"janim-toolbox/internal/document"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/wire"

	"pkt.systems/pslog"
)

// Sender delivers commands to the bound endpoint.
type Sender interface {
	Send(ctx context.Context, msg *wire.Message) error
}

// Mode is how a dispatch range was chosen.
type Mode string

const (
	ModeCursor Mode = "cursor"
	ModeRange  Mode = "range"
)

// Dispatch describes one exec_code that was sent.
type Dispatch struct {
	Mode Mode `json:"mode"`
	// First and Last are the 0-based dispatched lines, inclusive.
	First int `json:"first"`
	Last  int `json:"last"`
	// Undone is how many undo_code commands preceded the exec.
	Undone int    `json:"undone"`
	Text   string `json:"text"`
}

// Tracker records which line ranges have been dispatched for execution.
// Marks are the last line of each dispatched unit and are strictly
// increasing from bottom to top.
type Tracker struct {
	mu     sync.Mutex
	sender Sender
	logger pslog.Logger
	marks  []int
}

// New creates an empty tracker.
func New(sender Sender, logger pslog.Logger) *Tracker {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Tracker{sender: sender, logger: logger}
}

// Execute dispatches code for sel. An empty selection extends the window by
// one unit ending at the cursor line; a non-empty one replaces the whole
// window with the selected lines. A nil Dispatch with a nil error is a no-op.
func (t *Tracker) Execute(ctx context.Context, doc document.Document, sel document.Range) (*Dispatch, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sel.IsEmpty() {
		return t.executeCursor(ctx, doc, sel.Start.Line)
	}
	return t.executeRange(ctx, doc, sel.Normalized())
}

func (t *Tracker) executeCursor(ctx context.Context, doc document.Document, line int) (*Dispatch, error) {
	first := BlockStart(doc, line)
	if n := len(t.marks); n > 0 {
		top := t.marks[n-1]
		if line <= top {
			t.logger.Debug("execute skipped", "line", line, "mark", top)
			return nil, nil
		}
		first = top + 1
	}

	d := &Dispatch{Mode: ModeCursor, First: first, Last: line, Text: doc.Text(first, line)}
	if err := t.send(ctx, wire.ExecCode(d.Text)); err != nil {
		return nil, err
	}
	t.marks = append(t.marks, line)
	t.logger.Debug("execute dispatched", "mode", d.Mode, "first", first, "last", line, "marks", len(t.marks))
	return d, nil
}

func (t *Tracker) executeRange(ctx context.Context, doc document.Document, sel document.Range) (*Dispatch, error) {
	first := sel.Start.Line
	last := sel.End.Line
	if sel.End.Character <= doc.Indent(last) {
		last--
	}
	if last < first {
		last = first
	}

	undone := len(t.marks)
	for i := 0; i < undone; i++ {
		if err := t.send(ctx, wire.UndoCode()); err != nil {
			return nil, err
		}
	}
	t.marks = t.marks[:0]

	d := &Dispatch{Mode: ModeRange, First: first, Last: last, Undone: undone, Text: doc.Text(first, last)}
	if err := t.send(ctx, wire.ExecCode(d.Text)); err != nil {
		return nil, err
	}
	t.marks = append(t.marks, last)
	t.logger.Debug("execute dispatched", "mode", d.Mode, "first", first, "last", last, "undone", undone)
	return d, nil
}

// UndoLast pops the top mark and sends one undo_code. It reports false when
// the window was already empty.
func (t *Tracker) UndoLast(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.marks)
	if n == 0 {
		return false, nil
	}
	if err := t.send(ctx, wire.UndoCode()); err != nil {
		return false, err
	}
	t.marks = t.marks[:n-1]
	return true, nil
}

// Invalidate pops every mark the change touches or precedes, sending one
// undo_code per popped mark, and returns how many were popped. doc must
// already reflect the change.
func (t *Tracker) Invalidate(ctx context.Context, doc document.Document, change document.Change) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := change.Range.Normalized().Start
	popped := 0
	for len(t.marks) > 0 {
		top := t.marks[len(t.marks)-1]
		if top < start.Line {
			break
		}
		if isBlankLineBreak(doc, change, top) {
			break
		}
		t.marks = t.marks[:len(t.marks)-1]
		popped++
		if err := t.send(ctx, wire.UndoCode()); err != nil {
			t.logger.Warn("undo after edit not sent", "mark", top, "err", err)
		}
	}
	if popped > 0 {
		t.logger.Debug("window invalidated", "line", start.Line, "popped", popped, "marks", len(t.marks))
	}
	return popped
}

// Reset clears the window without notifying the remote.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.marks = nil
	t.mu.Unlock()
}

// IsEmpty reports whether nothing is dispatched.
func (t *Tracker) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.marks) == 0
}

// LastMark returns the top mark, or -1 when the window is empty.
func (t *Tracker) LastMark() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.marks) == 0 {
		return -1
	}
	return t.marks[len(t.marks)-1]
}

// Marks returns a copy of the window, bottom first.
func (t *Tracker) Marks() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.marks...)
}

// send reports ErrNotConnected and swallows other transport errors: the
// channel is lossy and bookkeeping assumes delivery.
func (t *Tracker) send(ctx context.Context, msg *wire.Message) error {
	err := t.sender.Send(ctx, msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrNotConnected) {
		return err
	}
	t.logger.Warn("command send failed", "type", msg.Type, "err", err)
	return nil
}

// BlockStart walks up from line while lines are blank or indented at least
// as deep as line, and returns the first line of that block.
func BlockStart(doc document.Document, line int) int {
	indent := doc.Indent(line)
	first := line
	for i := line - 1; i >= 0; i-- {
		if !doc.IsBlank(i) && doc.Indent(i) < indent {
			break
		}
		first = i
	}
	return first
}

// isBlankLineBreak reports whether change only broke the marked line at its
// end, leaving a blank line after it. doc already holds the change, so the
// break was at the end exactly when the new line holds nothing but the
// inserted whitespace.
func isBlankLineBreak(doc document.Document, change document.Change, mark int) bool {
	r := change.Range
	if !r.IsEmpty() || r.Start.Line != mark {
		return false
	}
	text := strings.ReplaceAll(change.Text, "\r\n", "\n")
	after, ok := strings.CutPrefix(text, "\n")
	if !ok || strings.Contains(after, "\n") || strings.TrimSpace(after) != "" {
		return false
	}
	return doc.Line(mark+1) == after
}
