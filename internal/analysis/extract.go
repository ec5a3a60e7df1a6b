package analysis

import (
	"strings"
	"unicode/utf8"

	"go.starlark.net/syntax"
)

// Fragment is a cell split into the pieces needed to re-host it elsewhere.
type Fragment struct {
	// Loads holds the source of each top-level load statement, in order.
	Loads []string

	// Body is the source of every other top-level statement, excluding the
	// trailing display expression.
	Body string

	// Display is the source of the trailing bare expression, or "" when the
	// cell does not end in one.
	Display string
}

// Extract splits src into load statements, body and display expression.
func Extract(src string) (*Fragment, error) {
	f, err := Parse("<cell>", src)
	if err != nil {
		return nil, err
	}

	lines := strings.SplitAfter(src, "\n")
	frag := &Fragment{}

	display := SplitTrailingExpr(f)
	var cut syntax.Position
	if display != nil {
		var end syntax.Position
		cut, end = display.Span()
		text := runeSuffix(lineAt(lines, cut.Line), cut.Col-1) + sliceLines(lines, cut.Line+1, end.Line)
		frag.Display = strings.TrimSpace(text)
	}

	var body strings.Builder
	last := int32(0)
	for _, stmt := range f.Stmts {
		start, end := stmt.Span()
		if load, ok := stmt.(*syntax.LoadStmt); ok {
			frag.Loads = append(frag.Loads, strings.TrimSpace(sliceLines(lines, load.Load.Line, end.Line)))
			last = end.Line
			continue
		}
		from := start.Line
		if from <= last {
			from = last + 1
		}
		for line := from; line <= end.Line; line++ {
			text := lineAt(lines, line)
			if display != nil && line == cut.Line {
				text = strings.TrimRight(runePrefix(text, cut.Col-1), " \t;") + "\n"
			}
			body.WriteString(text)
		}
		if end.Line > last {
			last = end.Line
		}
	}
	frag.Body = strings.TrimRight(body.String(), "\n")
	if frag.Body != "" {
		frag.Body += "\n"
	}
	return frag, nil
}

// SplitTrailingExpr removes a trailing bare expression statement from f and
// returns its expression, or nil if the last statement is anything else.
func SplitTrailingExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) == 0 {
		return nil
	}
	last, ok := f.Stmts[len(f.Stmts)-1].(*syntax.ExprStmt)
	if !ok {
		return nil
	}
	f.Stmts = f.Stmts[:len(f.Stmts)-1]
	return last.X
}

// SourceSpan returns the text between two positions of src. Columns are
// counted in runes, as the scanner does.
func SourceSpan(src string, start, end syntax.Position) string {
	lines := strings.SplitAfter(src, "\n")
	if start.Line == end.Line {
		text := lineAt(lines, start.Line)
		return runeSlice(text, start.Col-1, end.Col-1)
	}
	var b strings.Builder
	b.WriteString(runeSuffix(lineAt(lines, start.Line), start.Col-1))
	for line := start.Line + 1; line < end.Line; line++ {
		b.WriteString(lineAt(lines, line))
	}
	b.WriteString(runePrefix(lineAt(lines, end.Line), end.Col-1))
	return b.String()
}

// SourceLines returns lines [from, to] of src, 1-based and inclusive.
func SourceLines(src string, from, to int32) string {
	return sliceLines(strings.SplitAfter(src, "\n"), from, to)
}

func sliceLines(lines []string, from, to int32) string {
	var b strings.Builder
	for line := from; line <= to; line++ {
		b.WriteString(lineAt(lines, line))
	}
	return b.String()
}

func lineAt(lines []string, line int32) string {
	if line < 1 || int(line) > len(lines) {
		return ""
	}
	return lines[line-1]
}

func runePrefix(s string, n int32) string {
	return s[:runeOffset(s, n)]
}

func runeSuffix(s string, n int32) string {
	return s[runeOffset(s, n):]
}

func runeSlice(s string, from, to int32) string {
	lo, hi := runeOffset(s, from), runeOffset(s, to)
	if hi < lo {
		return ""
	}
	return s[lo:hi]
}

// runeOffset converts a rune count into a byte offset within s.
func runeOffset(s string, n int32) int {
	off := 0
	for i := int32(0); i < n && off < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}
