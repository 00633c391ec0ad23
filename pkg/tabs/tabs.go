// Package tabs owns the ordered set of terminal tabs. Each tab pairs
// one terminal view with one process session; tabs are fully
// independent of each other.
package tabs

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/AbhiTheModder/r2web/pkg/logging"
	"github.com/AbhiTheModder/r2web/pkg/session"
	"github.com/AbhiTheModder/r2web/pkg/terminal"
)

// Tab is one open tab: its view, its session, and the wiring between
// them.
type Tab struct {
	ID      int
	File    string
	View    *terminal.View
	Session *session.Session
	Wiring  *session.Wiring
}

// Info is the list representation served to the UI.
type Info struct {
	ID     int    `json:"id"`
	File   string `json:"file"`
	Active bool   `json:"active"`
}

// OutputWrapper lets callers interpose on a tab's terminal output,
// e.g. to mirror it onto live websocket connections. The returned
// writer must also feed the view for scrollback to stay intact.
type OutputWrapper func(tabID int, view *terminal.View) io.Writer

// Manager maintains tab order, the active selection, and each tab's
// session lifecycle.
type Manager struct {
	start      session.StartFunc
	emitter    *logging.Emitter
	scrollback int
	wrapOut    OutputWrapper

	mu   sync.Mutex
	reg  *terminal.Registry
	tabs map[int]*Tab
}

type Option func(*Manager)

func WithEmitter(emitter *logging.Emitter) Option {
	return func(m *Manager) { m.emitter = emitter }
}

func WithScrollback(lines int) Option {
	return func(m *Manager) { m.scrollback = lines }
}

func WithOutputWrapper(wrap OutputWrapper) Option {
	return func(m *Manager) { m.wrapOut = wrap }
}

func NewManager(start session.StartFunc, opts ...Option) *Manager {
	m := &Manager{
		start:      start,
		scrollback: terminal.DefaultScrollbackLines,
		reg:        terminal.NewRegistry(),
		tabs:       make(map[int]*Tab),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a tab bound to file, makes it active, and starts its
// session. A session that cannot start leaves the tab open with an
// inline message in its terminal; the tab stays usable for retry.
func (m *Manager) Open(ctx context.Context, file session.InputFile) *Tab {
	m.mu.Lock()
	id := m.reg.Open()
	view := terminal.NewView(terminal.WithScrollbackLines(m.scrollback))
	sess := session.New(id, file, m.start, session.WithEmitter(m.emitter))
	out := io.Writer(view)
	if m.wrapOut != nil {
		out = m.wrapOut(id, view)
	}
	wiring := session.NewWiring(id, out, sess, session.WiringEmitter(m.emitter))
	tab := &Tab{ID: id, File: file.Name, View: view, Session: sess, Wiring: wiring}
	m.tabs[id] = tab
	m.refreshActiveLocked()
	m.mu.Unlock()

	m.startTab(ctx, tab, false)
	return tab
}

func (m *Manager) startTab(ctx context.Context, tab *Tab, restart bool) {
	proc, err := tab.Session.Start(ctx)
	if err != nil {
		fmt.Fprintf(tab.View, "\r\n[cannot start session: %v]\r\n", err)
		return
	}
	tab.Wiring.Attach(proc)
	if restart && m.emitter != nil {
		_ = m.emitter.Emit(logging.EventSessionRestart,
			fmt.Sprintf("session restarted for tab %d", tab.ID), nil,
			&logging.SessionData{TabID: tab.ID, File: tab.File})
	}
}

// Close disposes the tab's view and session and removes it. When the
// active tab closes, the one immediately before it in display order
// takes over.
func (m *Manager) Close(ctx context.Context, id int) error {
	m.mu.Lock()
	tab, ok := m.tabs[id]
	if !ok {
		m.mu.Unlock()
		return terminal.ErrTabNotFound
	}
	if err := m.reg.Close(id); err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.tabs, id)
	m.refreshActiveLocked()
	m.mu.Unlock()

	tab.Session.Close(ctx)
	tab.View.Dispose()
	return nil
}

// Restart closes the current process's stdin before the banner so old
// and new output never interleave mid line, then starts a fresh
// process for the same file.
func (m *Manager) Restart(ctx context.Context, id int) error {
	tab, err := m.Get(id)
	if err != nil {
		return err
	}
	tab.Session.Stop(ctx)
	tab.View.WriteString(fmt.Sprintf("\r\n[restarting %s]\r\n", tab.Session.Describe()))
	m.startTab(ctx, tab, true)
	return nil
}

// Get returns the tab with the given identifier.
func (m *Manager) Get(id int) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tab, ok := m.tabs[id]
	if !ok {
		return nil, terminal.ErrTabNotFound
	}
	return tab, nil
}

// Active returns the active tab, or false when no tabs are open.
func (m *Manager) Active() (*Tab, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.reg.Active()
	if id == terminal.NoActiveTab {
		return nil, false
	}
	return m.tabs[id], true
}

// Select makes the tab with the given identifier active.
func (m *Manager) Select(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.reg.Select(id); err != nil {
		return err
	}
	m.refreshActiveLocked()
	return nil
}

// SelectOrdinal selects the n-th tab in display order, clamped to the
// last tab when n exceeds the count.
func (m *Manager) SelectOrdinal(n int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.reg.SelectOrdinal(n)
	if err != nil {
		return 0, err
	}
	m.refreshActiveLocked()
	return id, nil
}

// Next cycles to the following tab in display order.
func (m *Manager) Next() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.reg.Next()
	if err != nil {
		return 0, err
	}
	m.refreshActiveLocked()
	return id, nil
}

// Prev cycles to the preceding tab in display order.
func (m *Manager) Prev() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, err := m.reg.Prev()
	if err != nil {
		return 0, err
	}
	m.refreshActiveLocked()
	return id, nil
}

func (m *Manager) refreshActiveLocked() {
	active := m.reg.Active()
	for id, tab := range m.tabs {
		tab.View.SetActive(id == active)
	}
}

// List returns all tabs in display order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.reg.Active()
	infos := make([]Info, 0, len(m.tabs))
	for _, id := range m.reg.IDs() {
		tab := m.tabs[id]
		infos = append(infos, Info{ID: id, File: tab.File, Active: id == active})
	}
	return infos
}

// Len returns the number of open tabs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.Len()
}

// Shutdown closes every tab.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.tabs))
	for _, tab := range m.tabs {
		tabs = append(tabs, tab)
	}
	m.tabs = make(map[int]*Tab)
	for _, id := range m.reg.IDs() {
		m.reg.Close(id)
	}
	m.mu.Unlock()

	for _, tab := range tabs {
		tab.Session.Close(ctx)
		tab.View.Dispose()
	}
}
