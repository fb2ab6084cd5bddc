package document

import "testing"

func pos(line, char int) Position { return Position{Line: line, Character: char} }

func TestBuffer_Lines(t *testing.T) {
	b := NewBuffer("a\r\n  b\n\n    ")
	if b.LineCount() != 4 {
		t.Fatalf("expected 4 lines, got %d", b.LineCount())
	}
	if b.Line(1) != "  b" {
		t.Errorf("expected '  b', got %q", b.Line(1))
	}
	if b.Line(9) != "" {
		t.Errorf("expected empty out-of-range line, got %q", b.Line(9))
	}
}

func TestBuffer_IndentAndBlank(t *testing.T) {
	b := NewBuffer("x = 1\n    y = 2\n\t\tz\n      \n")
	tests := []struct {
		line   int
		indent int
		blank  bool
	}{
		{0, 0, false},
		{1, 4, false},
		{2, 2, false},
		{3, 6, true},
		{4, 0, true},
	}
	for _, tt := range tests {
		if got := b.Indent(tt.line); got != tt.indent {
			t.Errorf("Indent(%d) = %d, want %d", tt.line, got, tt.indent)
		}
		if got := b.IsBlank(tt.line); got != tt.blank {
			t.Errorf("IsBlank(%d) = %v, want %v", tt.line, got, tt.blank)
		}
	}
}

func TestBuffer_Text(t *testing.T) {
	b := NewBuffer("a\nb\nc")
	if got := b.Text(0, 1); got != "a\nb\n" {
		t.Errorf("Text(0,1) = %q", got)
	}
	if got := b.Text(2, 10); got != "c\n" {
		t.Errorf("Text(2,10) = %q", got)
	}
}

func TestBuffer_Apply(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		change Change
		want   string
	}{
		{"insert char", "abc", Change{Range{pos(0, 1), pos(0, 1)}, "X"}, "aXbc"},
		{"insert newline", "abc\ndef", Change{Range{pos(0, 3), pos(0, 3)}, "\n    "}, "abc\n    \ndef"},
		{"delete across lines", "abc\ndef\nghi", Change{Range{pos(0, 1), pos(2, 1)}, ""}, "ahi"},
		{"replace reversed range", "abc", Change{Range{pos(0, 3), pos(0, 0)}, "Z"}, "Z"},
		{"crlf normalised", "ab", Change{Range{pos(0, 1), pos(0, 1)}, "\r\n"}, "a\nb"},
		{"clamp past eol", "ab", Change{Range{pos(0, 99), pos(0, 99)}, "!"}, "ab!"},
		{"utf16 offsets", "é😀x", Change{Range{pos(0, 3), pos(0, 3)}, "|"}, "é😀|x"},
	}
	for _, tt := range tests {
		b := NewBuffer(tt.text)
		if err := b.Apply(tt.change); err != nil {
			t.Fatalf("%s: Apply failed: %v", tt.name, err)
		}
		if got := b.String(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestBuffer_ApplyOutOfRange(t *testing.T) {
	b := NewBuffer("a\nb")
	if err := b.Apply(Change{Range{pos(5, 0), pos(5, 0)}, "x"}); err == nil {
		t.Error("expected error for start line out of range")
	}
	if err := b.Apply(Change{Range{pos(0, 0), pos(7, 0)}, "x"}); err == nil {
		t.Error("expected error for end line out of range")
	}
}

func TestUTF16Len(t *testing.T) {
	if n := UTF16Len("a😀"); n != 3 {
		t.Errorf("expected 3 code units, got %d", n)
	}
}
