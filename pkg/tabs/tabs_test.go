package tabs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AbhiTheModder/r2web/pkg/engine"
	"github.com/AbhiTheModder/r2web/pkg/session"
	"github.com/AbhiTheModder/r2web/pkg/terminal"
)

type stubProc struct {
	mu          sync.Mutex
	stdinClosed bool
	closed      bool
}

type stubStdin struct{ p *stubProc }

func (s stubStdin) Write(b []byte) (int, error) { return len(b), nil }
func (s stubStdin) Close() error {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.p.stdinClosed = true
	return nil
}

func (p *stubProc) Stdin() io.WriteCloser { return stubStdin{p} }
func (p *stubProc) Stdout() io.Reader     { return bytes.NewReader(nil) }
func (p *stubProc) Stderr() io.Reader     { return bytes.NewReader(nil) }
func (p *stubProc) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type stubStarter struct {
	mu    sync.Mutex
	procs []*stubProc
	err   error
}

func (s *stubStarter) start(ctx context.Context, spec engine.StartSpec) (session.Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := &stubProc{}
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *stubStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func file(name string) session.InputFile {
	return session.InputFile{Name: name, Content: []byte("ELF")}
}

func TestOpenAssignsIDsAndActivates(t *testing.T) {
	ctx := context.Background()
	m := NewManager((&stubStarter{}).start)
	defer m.Shutdown(ctx)

	a := m.Open(ctx, file("a.bin"))
	b := m.Open(ctx, file("b.bin"))

	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 1, b.ID)

	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, b.ID, active.ID)
	assert.True(t, b.View.Active())
	assert.False(t, a.View.Active())
}

func TestCloseActiveSelectsPreviousNeighbor(t *testing.T) {
	ctx := context.Background()
	starter := &stubStarter{}
	m := NewManager(starter.start)
	defer m.Shutdown(ctx)

	m.Open(ctx, file("a.bin"))
	mid := m.Open(ctx, file("b.bin"))
	m.Open(ctx, file("c.bin"))
	require.NoError(t, m.Select(mid.ID))

	require.NoError(t, m.Close(ctx, mid.ID))

	assert.Equal(t, 2, m.Len())
	active, ok := m.Active()
	require.True(t, ok)
	assert.Equal(t, 0, active.ID)
	assert.True(t, mid.View.Disposed())
	assert.True(t, starter.procs[1].closed, "closed tab releases its process")
}

func TestIDsNeverReusedAcrossCloses(t *testing.T) {
	ctx := context.Background()
	m := NewManager((&stubStarter{}).start)
	defer m.Shutdown(ctx)

	m.Open(ctx, file("a.bin"))
	b := m.Open(ctx, file("b.bin"))
	m.Open(ctx, file("c.bin"))
	require.NoError(t, m.Close(ctx, b.ID))

	fresh := m.Open(ctx, file("d.bin"))
	assert.Equal(t, 3, fresh.ID)
}

func TestSwitchingPreservesScrollback(t *testing.T) {
	ctx := context.Background()
	m := NewManager((&stubStarter{}).start)
	defer m.Shutdown(ctx)

	a := m.Open(ctx, file("a.bin"))
	a.View.WriteString("disasm of a\n")
	b := m.Open(ctx, file("b.bin"))
	b.View.WriteString("disasm of b\n")

	require.NoError(t, m.Select(a.ID))
	require.NoError(t, m.Select(b.ID))
	require.NoError(t, m.Select(a.ID))

	assert.Contains(t, a.View.Contents(), "disasm of a")
	assert.Contains(t, b.View.Contents(), "disasm of b")
}

func TestRestartClosesOldStdinAndStartsFresh(t *testing.T) {
	ctx := context.Background()
	starter := &stubStarter{}
	m := NewManager(starter.start)
	defer m.Shutdown(ctx)

	tab := m.Open(ctx, file("a.bin"))
	require.Equal(t, 1, starter.count())

	require.NoError(t, m.Restart(ctx, tab.ID))

	assert.Equal(t, 2, starter.count())
	assert.True(t, starter.procs[0].stdinClosed, "old stdin closed before the banner")
	assert.Contains(t, tab.View.Contents(), "restarting")
}

func TestOpenWithoutFileShowsInlineMessage(t *testing.T) {
	ctx := context.Background()
	starter := &stubStarter{}
	m := NewManager(starter.start)
	defer m.Shutdown(ctx)

	tab := m.Open(ctx, session.InputFile{})

	assert.Equal(t, 0, starter.count(), "no process starts without a file")
	assert.Contains(t, tab.View.Contents(), session.ErrNoInputFile.Error())
	assert.Equal(t, 1, m.Len(), "the tab itself still opens")
}

func TestOpenStartFailureKeepsTabUsable(t *testing.T) {
	ctx := context.Background()
	starter := &stubStarter{err: errors.New("module trap")}
	m := NewManager(starter.start)
	defer m.Shutdown(ctx)

	tab := m.Open(ctx, file("a.bin"))
	assert.Contains(t, tab.View.Contents(), "module trap")

	// A later restart can succeed once the underlying cause clears.
	starter.mu.Lock()
	starter.err = nil
	starter.mu.Unlock()
	require.NoError(t, m.Restart(ctx, tab.ID))
	assert.Equal(t, 1, starter.count())
}

func TestSelectOrdinalAndCycling(t *testing.T) {
	ctx := context.Background()
	m := NewManager((&stubStarter{}).start)
	defer m.Shutdown(ctx)

	m.Open(ctx, file("a.bin"))
	m.Open(ctx, file("b.bin"))
	m.Open(ctx, file("c.bin"))

	id, err := m.SelectOrdinal(9)
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	id, err = m.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	id, err = m.Prev()
	require.NoError(t, err)
	assert.Equal(t, 2, id)
}

func TestGetUnknownTab(t *testing.T) {
	m := NewManager((&stubStarter{}).start)
	_, err := m.Get(42)
	assert.ErrorIs(t, err, terminal.ErrTabNotFound)
}

func TestShutdownClosesEverything(t *testing.T) {
	ctx := context.Background()
	starter := &stubStarter{}
	m := NewManager(starter.start)

	a := m.Open(ctx, file("a.bin"))
	b := m.Open(ctx, file("b.bin"))
	m.Shutdown(ctx)

	assert.Equal(t, 0, m.Len())
	assert.True(t, a.View.Disposed())
	assert.True(t, b.View.Disposed())
	for _, p := range starter.procs {
		assert.True(t, p.closed)
	}
}
