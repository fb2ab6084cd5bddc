package document

import (
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Position is a 0-based line and a character offset in UTF-16 code units,
// the convention editors use on the wire.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Character < q.Character
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// IsEmpty reports whether the range covers no text.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Normalized returns r with Start not after End.
func (r Range) Normalized() Range {
	if r.End.Before(r.Start) {
		return Range{Start: r.End, End: r.Start}
	}
	return r
}

// Change replaces Range with Text.
type Change struct {
	Range Range  `json:"range"`
	Text  string `json:"text"`
}

// Document is read access to one editor document.
type Document interface {
	LineCount() int
	Line(i int) string
	// Indent is the offset of the first non-whitespace character of line i.
	// A blank line reports its full length.
	Indent(i int) int
	IsBlank(i int) bool
	// Text returns lines first..last inclusive, each terminated by "\n".
	Text(first, last int) string
}

// Buffer is an in-memory line buffer that mirrors an editor document.
type Buffer struct {
	lines []string
}

// NewBuffer creates a buffer holding text.
func NewBuffer(text string) *Buffer {
	b := &Buffer{}
	b.Replace(text)
	return b
}

// Replace resets the buffer content.
func (b *Buffer) Replace(text string) {
	b.lines = strings.Split(normalizeNewlines(text), "\n")
}

// String returns the full content.
func (b *Buffer) String() string {
	return strings.Join(b.lines, "\n")
}

// LineCount returns the number of lines. An empty buffer has one empty line.
func (b *Buffer) LineCount() int {
	return len(b.lines)
}

// Line returns line i, or "" when i is out of range.
func (b *Buffer) Line(i int) string {
	if i < 0 || i >= len(b.lines) {
		return ""
	}
	return b.lines[i]
}

// Indent implements Document.
func (b *Buffer) Indent(i int) int {
	line := b.Line(i)
	trimmed := strings.TrimLeft(line, " \t")
	if strings.TrimSpace(trimmed) == "" {
		return UTF16Len(line)
	}
	return UTF16Len(line[:len(line)-len(trimmed)])
}

// IsBlank implements Document.
func (b *Buffer) IsBlank(i int) bool {
	return strings.TrimSpace(b.Line(i)) == ""
}

// Text implements Document.
func (b *Buffer) Text(first, last int) string {
	if first < 0 {
		first = 0
	}
	if last >= len(b.lines) {
		last = len(b.lines) - 1
	}
	var sb strings.Builder
	for i := first; i <= last; i++ {
		sb.WriteString(b.lines[i])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Apply replaces the change's range with its text. Character offsets past
// the end of a line are clamped to the line end.
func (b *Buffer) Apply(c Change) error {
	r := c.Range.Normalized()
	if r.Start.Line < 0 || r.Start.Line >= len(b.lines) {
		return fmt.Errorf("start line %d out of range (0..%d)", r.Start.Line, len(b.lines)-1)
	}
	if r.End.Line >= len(b.lines) {
		return fmt.Errorf("end line %d out of range (0..%d)", r.End.Line, len(b.lines)-1)
	}

	startLine := b.lines[r.Start.Line]
	endLine := b.lines[r.End.Line]
	merged := startLine[:byteOffset(startLine, r.Start.Character)] +
		normalizeNewlines(c.Text) +
		endLine[byteOffset(endLine, r.End.Character):]

	replacement := strings.Split(merged, "\n")
	lines := make([]string, 0, len(b.lines)-(r.End.Line-r.Start.Line)+len(replacement)-1)
	lines = append(lines, b.lines[:r.Start.Line]...)
	lines = append(lines, replacement...)
	lines = append(lines, b.lines[r.End.Line+1:]...)
	b.lines = lines
	return nil
}

// UTF16Len is the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// byteOffset converts a UTF-16 offset within s into a byte offset.
func byteOffset(s string, character int) int {
	if character <= 0 {
		return 0
	}
	units := 0
	for i, r := range s {
		if units >= character {
			return i
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
		if units > character {
			// Offset points inside a surrogate pair; keep the whole rune.
			return i + utf8.RuneLen(r)
		}
	}
	return len(s)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
