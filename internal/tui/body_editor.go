package tui

import (
	"strings"

	"github.com/derailed/tcell/v2"
	"github.com/derailed/tview"
)

// BodyEditor is a small multiline editor on top of a TextView. Lines are kept
// as runes so cursor movement never splits a multi-byte character.
type BodyEditor struct {
	*tview.TextView

	lines    [][]rune
	line     int
	col      int
	changed  func(string)
	updating bool
}

// NewBodyEditor creates an empty editor
func NewBodyEditor() *BodyEditor {
	e := &BodyEditor{
		TextView: tview.NewTextView().SetWrap(true),
		lines:    [][]rune{{}},
	}
	e.TextView.SetInputCapture(e.handleKey)
	e.render()
	return e
}

// SetChangedFunc registers the callback invoked after every edit
func (e *BodyEditor) SetChangedFunc(fn func(string)) *BodyEditor {
	e.changed = fn
	return e
}

// GetText returns the edited text
func (e *BodyEditor) GetText() string {
	parts := make([]string, len(e.lines))
	for i, l := range e.lines {
		parts[i] = string(l)
	}
	return strings.Join(parts, "\n")
}

// SetText replaces the content and moves the cursor to the end.
// The changed callback is not invoked.
func (e *BodyEditor) SetText(text string) *BodyEditor {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	e.lines = make([][]rune, len(raw))
	for i, l := range raw {
		e.lines[i] = []rune(l)
	}
	e.line = len(e.lines) - 1
	e.col = len(e.lines[e.line])
	e.render()
	return e
}

// Cursor returns the cursor line and column
func (e *BodyEditor) Cursor() (int, int) {
	return e.line, e.col
}

func (e *BodyEditor) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape, tcell.KeyTab, tcell.KeyBacktab, tcell.KeyCtrlJ:
		// Dialog-level keys
		return event
	case tcell.KeyRune:
		e.Insert(event.Rune())
	case tcell.KeyEnter:
		e.Newline()
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		e.Backspace()
	case tcell.KeyDelete:
		e.Delete()
	case tcell.KeyLeft:
		e.Move(0, -1)
	case tcell.KeyRight:
		e.Move(0, 1)
	case tcell.KeyUp:
		e.Move(-1, 0)
	case tcell.KeyDown:
		e.Move(1, 0)
	default:
		return event
	}
	return nil
}

// Insert types r at the cursor
func (e *BodyEditor) Insert(r rune) {
	cur := e.lines[e.line]
	next := make([]rune, 0, len(cur)+1)
	next = append(next, cur[:e.col]...)
	next = append(next, r)
	next = append(next, cur[e.col:]...)
	e.lines[e.line] = next
	e.col++
	e.edited()
}

// Newline splits the current line at the cursor
func (e *BodyEditor) Newline() {
	cur := e.lines[e.line]
	left := append([]rune(nil), cur[:e.col]...)
	right := append([]rune(nil), cur[e.col:]...)

	lines := make([][]rune, 0, len(e.lines)+1)
	lines = append(lines, e.lines[:e.line]...)
	lines = append(lines, left, right)
	lines = append(lines, e.lines[e.line+1:]...)
	e.lines = lines
	e.line++
	e.col = 0
	e.edited()
}

// Backspace deletes before the cursor, joining lines at column zero
func (e *BodyEditor) Backspace() {
	switch {
	case e.col > 0:
		cur := e.lines[e.line]
		e.lines[e.line] = append(cur[:e.col-1:e.col-1], cur[e.col:]...)
		e.col--
	case e.line > 0:
		prev := e.lines[e.line-1]
		e.col = len(prev)
		e.lines[e.line-1] = append(prev[:len(prev):len(prev)], e.lines[e.line]...)
		e.lines = append(e.lines[:e.line], e.lines[e.line+1:]...)
		e.line--
	default:
		return
	}
	e.edited()
}

// Delete removes the rune under the cursor, joining the next line at line end
func (e *BodyEditor) Delete() {
	cur := e.lines[e.line]
	switch {
	case e.col < len(cur):
		e.lines[e.line] = append(cur[:e.col:e.col], cur[e.col+1:]...)
	case e.line < len(e.lines)-1:
		e.lines[e.line] = append(cur[:len(cur):len(cur)], e.lines[e.line+1]...)
		e.lines = append(e.lines[:e.line+1], e.lines[e.line+2:]...)
	default:
		return
	}
	e.edited()
}

// Move shifts the cursor by whole lines or columns, wrapping across line ends
func (e *BodyEditor) Move(dLine, dCol int) {
	switch {
	case dLine != 0:
		e.line = clamp(e.line+dLine, 0, len(e.lines)-1)
		e.col = clamp(e.col, 0, len(e.lines[e.line]))
	case dCol < 0 && e.col == 0 && e.line > 0:
		e.line--
		e.col = len(e.lines[e.line])
	case dCol > 0 && e.col == len(e.lines[e.line]) && e.line < len(e.lines)-1:
		e.line++
		e.col = 0
	default:
		e.col = clamp(e.col+dCol, 0, len(e.lines[e.line]))
	}
	e.render()
}

func (e *BodyEditor) edited() {
	e.render()
	if e.changed != nil && !e.updating {
		e.changed(e.GetText())
	}
}

// render draws the text with a block cursor
func (e *BodyEditor) render() {
	if e.updating {
		return
	}
	e.updating = true
	defer func() { e.updating = false }()

	parts := make([]string, len(e.lines))
	for i, l := range e.lines {
		if i != e.line {
			parts[i] = string(l)
			continue
		}
		if e.col >= len(l) {
			parts[i] = string(l) + "█"
		} else {
			parts[i] = string(l[:e.col]) + "█" + string(l[e.col+1:])
		}
	}
	e.TextView.SetText(strings.Join(parts, "\n"))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
