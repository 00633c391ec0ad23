// Package terminal holds the server-side model of the browser terminal:
// per-tab scrollback views with search, and the ordered tab registry.
// The actual rendering widget lives in the web client; keeping scrollback
// here lets a reconnecting client replay history and lets search run
// against the full buffer.
package terminal

import (
	"bytes"
	"strings"
	"sync"
)

// DefaultScrollbackLines bounds a view's history. Matches the large fixed
// capacity the web terminal widget is configured with.
const DefaultScrollbackLines = 10000

// View is one tab's display surface: a bounded scrollback buffer plus
// size and focus state. Safe for concurrent use; output pumps write
// while HTTP handlers read.
type View struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
	partial  []byte
	rows     int
	cols     int
	active   bool
	disposed bool

	search searchState
}

// ViewOption configures NewView.
type ViewOption func(*View)

// WithScrollbackLines overrides the scrollback capacity.
func WithScrollbackLines(n int) ViewOption {
	return func(v *View) {
		if n > 0 {
			v.maxLines = n
		}
	}
}

// NewView creates a view with default size 24x80.
func NewView(opts ...ViewOption) *View {
	v := &View{
		maxLines: DefaultScrollbackLines,
		rows:     24,
		cols:     80,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Write appends a chunk of process output to the scrollback. Chunks are
// split on newlines; an unterminated tail is kept as a partial line and
// completed by the next chunk. Implements io.Writer.
func (v *View) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.disposed {
		return 0, ErrViewDisposed
	}

	v.partial = append(v.partial, p...)
	for {
		idx := bytes.IndexByte(v.partial, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(string(v.partial[:idx]), "\r")
		v.lines = append(v.lines, line)
		v.partial = v.partial[idx+1:]
	}
	if over := len(v.lines) - v.maxLines; over > 0 {
		v.lines = append(v.lines[:0], v.lines[over:]...)
	}
	return len(p), nil
}

// WriteString appends s to the scrollback, ignoring a disposed view.
// Used for inline status and error lines.
func (v *View) WriteString(s string) {
	_, _ = v.Write([]byte(s))
}

// Lines returns a copy of the scrollback, including any partial line.
func (v *View) Lines() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]string, 0, len(v.lines)+1)
	out = append(out, v.lines...)
	if len(v.partial) > 0 {
		out = append(out, string(v.partial))
	}
	return out
}

// Contents returns the scrollback joined with newlines.
func (v *View) Contents() string {
	return strings.Join(v.Lines(), "\n")
}

// Resize records the container size. Invoked on creation and whenever
// the tab becomes active.
func (v *View) Resize(rows, cols int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rows > 0 {
		v.rows = rows
	}
	if cols > 0 {
		v.cols = cols
	}
}

// Size returns the current rows and cols.
func (v *View) Size() (rows, cols int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rows, v.cols
}

// SetActive records whether this view's tab is the active one.
// Scrollback is retained either way.
func (v *View) SetActive(active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.active = active
}

// Active reports whether the view's tab is currently selected.
func (v *View) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

// Dispose releases the view. Further writes fail with ErrViewDisposed.
func (v *View) Dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disposed = true
	v.lines = nil
	v.partial = nil
}

// Disposed reports whether Dispose has been called.
func (v *View) Disposed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.disposed
}
