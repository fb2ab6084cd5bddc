package window

import (
	"context"
	"errors"
	"strings"
	"testing"

	"janim-toolbox/internal/document"
	"janim-toolbox/internal/session"
	"janim-toolbox/internal/wire"
)

type recorder struct {
	msgs []*wire.Message
	err  error
}

func (r *recorder) Send(_ context.Context, msg *wire.Message) error {
	if errors.Is(r.err, session.ErrNotConnected) {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, m := range r.msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) lastText(t *testing.T) string {
	t.Helper()
	if len(r.msgs) == 0 {
		t.Fatal("no messages recorded")
	}
	text, err := r.msgs[len(r.msgs)-1].Text()
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	return text
}

// numberedDoc builds a document with n lines where line i is "<indent>L<i>".
func numberedDoc(n int, indents map[int]int) *document.Buffer {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = strings.Repeat(" ", indents[i]) + "L" + itoa(i)
	}
	return document.NewBuffer(strings.Join(lines, "\n"))
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}

func cursor(line int) document.Range {
	p := document.Position{Line: line}
	return document.Range{Start: p, End: p}
}

func selection(l1, c1, l2, c2 int) document.Range {
	return document.Range{
		Start: document.Position{Line: l1, Character: c1},
		End:   document.Position{Line: l2, Character: c2},
	}
}

func TestTracker_CursorBlockOnEmptyWindow(t *testing.T) {
	doc := numberedDoc(12, map[int]int{8: 4, 9: 4, 10: 4})
	rec := &recorder{}
	tr := New(rec, nil)

	d, err := tr.Execute(context.Background(), doc, cursor(10))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if d.First != 8 || d.Last != 10 {
		t.Errorf("expected lines 8-10, got %d-%d", d.First, d.Last)
	}
	if tr.LastMark() != 10 {
		t.Errorf("expected mark 10, got %d", tr.LastMark())
	}
	if got := rec.lastText(t); got != "    L8\n    L9\n    L10\n" {
		t.Errorf("unexpected exec text %q", got)
	}
}

func TestTracker_CursorBlockSkipsBlankAndDeeperLines(t *testing.T) {
	doc := document.NewBuffer("def f():\n    a = 1\n\n        b = 2\n    return a")
	tr := New(&recorder{}, nil)

	d, err := tr.Execute(context.Background(), doc, cursor(4))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if d.First != 1 || d.Last != 4 {
		t.Errorf("expected lines 1-4, got %d-%d", d.First, d.Last)
	}
}

func TestTracker_CursorBlockToDocumentStart(t *testing.T) {
	doc := numberedDoc(5, nil)
	tr := New(&recorder{}, nil)

	d, err := tr.Execute(context.Background(), doc, cursor(3))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if d.First != 0 || d.Last != 3 {
		t.Errorf("expected lines 0-3, got %d-%d", d.First, d.Last)
	}
}

func TestTracker_CursorExtendsFromTopMark(t *testing.T) {
	doc := numberedDoc(20, nil)
	rec := &recorder{}
	tr := New(rec, nil)
	tr.marks = []int{10}

	d, err := tr.Execute(context.Background(), doc, cursor(15))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if d.First != 11 || d.Last != 15 {
		t.Errorf("expected lines 11-15, got %d-%d", d.First, d.Last)
	}
	if marks := tr.Marks(); len(marks) != 2 || marks[1] != 15 {
		t.Errorf("expected marks [10 15], got %v", marks)
	}
}

func TestTracker_CursorAtOrBeforeTopMarkIsNoop(t *testing.T) {
	doc := numberedDoc(20, nil)
	for _, line := range []int{10, 4, 0} {
		rec := &recorder{}
		tr := New(rec, nil)
		tr.marks = []int{3, 10}

		d, err := tr.Execute(context.Background(), doc, cursor(line))
		if err != nil || d != nil {
			t.Fatalf("line %d: expected silent no-op, got %+v err=%v", line, d, err)
		}
		if len(rec.msgs) != 0 {
			t.Errorf("line %d: expected no messages, got %d", line, len(rec.msgs))
		}
		if marks := tr.Marks(); len(marks) != 2 {
			t.Errorf("line %d: expected window unchanged, got %v", line, marks)
		}
	}
}

func TestTracker_IncreasingCursorsKeepWindowMonotonic(t *testing.T) {
	doc := numberedDoc(40, nil)
	rec := &recorder{}
	tr := New(rec, nil)

	lines := []int{2, 5, 5, 9, 3, 17, 30}
	dispatched := 0
	for _, l := range lines {
		d, err := tr.Execute(context.Background(), doc, cursor(l))
		if err != nil {
			t.Fatalf("Execute(%d) failed: %v", l, err)
		}
		if d != nil {
			dispatched++
		}
	}

	marks := tr.Marks()
	if len(marks) != dispatched {
		t.Errorf("expected %d marks, got %v", dispatched, marks)
	}
	for i := 1; i < len(marks); i++ {
		if marks[i] <= marks[i-1] {
			t.Fatalf("window not strictly increasing: %v", marks)
		}
	}
	if rec.count(wire.TypeExecCode) != dispatched {
		t.Errorf("expected %d exec_code, got %d", dispatched, rec.count(wire.TypeExecCode))
	}
}

func TestTracker_RangeModeUndoesWindowFirst(t *testing.T) {
	doc := numberedDoc(20, map[int]int{6: 4})
	rec := &recorder{}
	tr := New(rec, nil)
	tr.marks = []int{2, 5, 9}

	d, err := tr.Execute(context.Background(), doc, selection(4, 3, 6, 6))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if d.Undone != 3 {
		t.Errorf("expected 3 undos, got %d", d.Undone)
	}
	for i := 0; i < 3; i++ {
		if rec.msgs[i].Type != wire.TypeUndoCode {
			t.Fatalf("expected undo_code at %d, got %s", i, rec.msgs[i].Type)
		}
	}
	if rec.msgs[3].Type != wire.TypeExecCode || len(rec.msgs) != 4 {
		t.Fatalf("expected a single exec_code after undos, got %d messages", len(rec.msgs))
	}
	if d.First != 4 || d.Last != 6 {
		t.Errorf("expected lines 4-6, got %d-%d", d.First, d.Last)
	}
	if marks := tr.Marks(); len(marks) != 1 || marks[0] != 6 {
		t.Errorf("expected single mark 6, got %v", marks)
	}
}

func TestTracker_RangeModeEndLineBoundary(t *testing.T) {
	doc := numberedDoc(10, map[int]int{5: 4})
	tests := []struct {
		name     string
		sel      document.Range
		wantLast int
	}{
		{"end at column 0 excludes line", selection(2, 0, 5, 0), 4},
		{"end inside indentation excludes line", selection(2, 0, 5, 4), 4},
		{"end past indentation includes line", selection(2, 0, 5, 5), 5},
		{"reversed selection", selection(5, 5, 2, 0), 5},
		{"within one line indentation", selection(5, 1, 5, 3), 5},
	}
	for _, tt := range tests {
		tr := New(&recorder{}, nil)
		d, err := tr.Execute(context.Background(), doc, tt.sel)
		if err != nil {
			t.Fatalf("%s: Execute failed: %v", tt.name, err)
		}
		if d.Last != tt.wantLast {
			t.Errorf("%s: expected last %d, got %d", tt.name, tt.wantLast, d.Last)
		}
		if tr.LastMark() != tt.wantLast {
			t.Errorf("%s: expected mark %d, got %d", tt.name, tt.wantLast, tr.LastMark())
		}
	}
}

func TestTracker_UndoLast(t *testing.T) {
	rec := &recorder{}
	tr := New(rec, nil)

	ok, err := tr.UndoLast(context.Background())
	if err != nil || ok {
		t.Fatalf("expected no-op on empty window, got ok=%v err=%v", ok, err)
	}
	if len(rec.msgs) != 0 {
		t.Fatalf("expected no message on empty undo, got %d", len(rec.msgs))
	}

	tr.marks = []int{3, 7}
	ok, err = tr.UndoLast(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected undo, got ok=%v err=%v", ok, err)
	}
	if marks := tr.Marks(); len(marks) != 1 || marks[0] != 3 {
		t.Errorf("expected [3], got %v", marks)
	}
	if rec.count(wire.TypeUndoCode) != 1 {
		t.Errorf("expected one undo_code, got %d", rec.count(wire.TypeUndoCode))
	}
}

func TestTracker_NotConnectedKeepsWindow(t *testing.T) {
	rec := &recorder{err: session.ErrNotConnected}
	tr := New(rec, nil)
	tr.marks = []int{3}

	if _, err := tr.Execute(context.Background(), numberedDoc(10, nil), cursor(6)); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := tr.UndoLast(context.Background()); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if marks := tr.Marks(); len(marks) != 1 || marks[0] != 3 {
		t.Errorf("expected window unchanged, got %v", marks)
	}
}

func TestTracker_TransportErrorIsOptimistic(t *testing.T) {
	rec := &recorder{err: errors.New("network unreachable")}
	tr := New(rec, nil)

	d, err := tr.Execute(context.Background(), numberedDoc(10, nil), cursor(2))
	if err != nil || d == nil {
		t.Fatalf("expected optimistic dispatch, got %+v err=%v", d, err)
	}
	if tr.LastMark() != 2 {
		t.Errorf("expected mark 2, got %d", tr.LastMark())
	}
}

func TestTracker_InvalidatePopsFromTop(t *testing.T) {
	doc := numberedDoc(20, nil)
	rec := &recorder{}
	tr := New(rec, nil)
	tr.marks = []int{10, 15}

	change := document.Change{Range: selection(12, 0, 12, 0), Text: "x"}
	doc.Apply(change)
	if n := tr.Invalidate(context.Background(), doc, change); n != 1 {
		t.Fatalf("expected 1 mark popped, got %d", n)
	}
	if marks := tr.Marks(); len(marks) != 1 || marks[0] != 10 {
		t.Errorf("expected [10], got %v", marks)
	}
	if rec.count(wire.TypeUndoCode) != 1 {
		t.Errorf("expected one undo_code, got %d", rec.count(wire.TypeUndoCode))
	}
}

func TestTracker_InvalidateAfterTopMarkIsNoop(t *testing.T) {
	doc := numberedDoc(20, nil)
	rec := &recorder{}
	tr := New(rec, nil)
	tr.marks = []int{4, 8}

	change := document.Change{Range: selection(9, 0, 9, 2), Text: "zz"}
	doc.Apply(change)
	if n := tr.Invalidate(context.Background(), doc, change); n != 0 {
		t.Errorf("expected nothing popped, got %d", n)
	}
	if len(rec.msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(rec.msgs))
	}
}

func TestTracker_InvalidateBeforeAllMarks(t *testing.T) {
	doc := numberedDoc(20, nil)
	rec := &recorder{}
	tr := New(rec, nil)
	tr.marks = []int{4, 8, 12}

	change := document.Change{Range: selection(1, 0, 2, 0), Text: ""}
	doc.Apply(change)
	if n := tr.Invalidate(context.Background(), doc, change); n != 3 {
		t.Errorf("expected 3 popped, got %d", n)
	}
	if !tr.IsEmpty() {
		t.Error("expected empty window")
	}
	if rec.count(wire.TypeUndoCode) != 3 {
		t.Errorf("expected 3 undo_code, got %d", rec.count(wire.TypeUndoCode))
	}
}

func TestTracker_NewlineAtEndOfMarkedLine(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		character int
		wantPop   int
	}{
		{"bare newline", "\n", 2, 0},
		{"newline with auto indent", "\n    ", 2, 0},
		{"crlf", "\r\n", 2, 0},
		{"character insertion", "x", 2, 1},
		{"newline with code", "\nfoo", 2, 1},
		{"two newlines", "\n\n", 2, 1},
		{"newline mid line", "\n", 1, 1},
	}
	for _, tt := range tests {
		doc := numberedDoc(10, nil) // line 5 is "L5"
		tr := New(&recorder{}, nil)
		tr.marks = []int{2, 5}

		change := document.Change{Range: selection(5, tt.character, 5, tt.character), Text: tt.text}
		if err := doc.Apply(change); err != nil {
			t.Fatalf("%s: Apply failed: %v", tt.name, err)
		}
		if n := tr.Invalidate(context.Background(), doc, change); n != tt.wantPop {
			t.Errorf("%s: expected %d popped, got %d", tt.name, tt.wantPop, n)
		}
	}
}

func TestTracker_NewlineBeforeTrailingWhitespace(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		character int
		wantPop   int
	}{
		{"inside trailing whitespace", "\n", 6, 1},
		{"at start of trailing whitespace", "\n", 5, 1},
		{"after trailing whitespace", "\n", 8, 0},
		{"after trailing whitespace with indent", "\n  ", 8, 0},
	}
	for _, tt := range tests {
		doc := document.NewBuffer("a = 1\nb = 2   \nc = 3")
		tr := New(&recorder{}, nil)
		tr.marks = []int{1}

		change := document.Change{Range: selection(1, tt.character, 1, tt.character), Text: tt.text}
		if err := doc.Apply(change); err != nil {
			t.Fatalf("%s: Apply failed: %v", tt.name, err)
		}
		if n := tr.Invalidate(context.Background(), doc, change); n != tt.wantPop {
			t.Errorf("%s: expected %d popped, got %d", tt.name, tt.wantPop, n)
		}
	}
}

func TestTracker_ResetAndLastMark(t *testing.T) {
	tr := New(&recorder{}, nil)
	if tr.LastMark() != -1 || !tr.IsEmpty() {
		t.Fatal("expected empty tracker with -1 sentinel")
	}
	tr.marks = []int{1}
	tr.Reset()
	if !tr.IsEmpty() {
		t.Error("expected empty after Reset")
	}
}
