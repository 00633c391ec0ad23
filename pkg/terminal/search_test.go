package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchView(t *testing.T, lines ...string) *View {
	t.Helper()
	v := NewView()
	for _, line := range lines {
		v.WriteString(line + "\n")
	}
	return v
}

func TestFindNextAdvancesAndWraps(t *testing.T) {
	v := searchView(t, "mov eax, 1", "ret", "mov ebx, 2")

	m, ok, err := v.FindNext("mov", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, m.Line)

	m, ok, err = v.FindNext("mov", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, m.Line)

	// Wraps back to the first occurrence.
	m, ok, err = v.FindNext("mov", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, m.Line)
}

func TestFindPrevious(t *testing.T) {
	v := searchView(t, "push rbp", "pop rbp", "push rax")

	m, ok, err := v.FindPrevious("push", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, m.Line)

	m, ok, err = v.FindPrevious("push", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, m.Line)
}

func TestFindCaseSensitivity(t *testing.T) {
	v := searchView(t, "Hello", "hello")

	m, ok, err := v.FindNext("HELLO", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok, "case-insensitive by default")
	assert.Equal(t, 0, m.Line)

	v2 := searchView(t, "Hello", "hello")
	m, ok, err = v2.FindNext("hello", SearchOptions{CaseSensitive: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Line)
}

func TestFindRegex(t *testing.T) {
	v := searchView(t, "0x004005d0 call sym.main", "0x004005d5 ret")

	m, ok, err := v.FindNext(`0x[0-9a-f]+ ret`, SearchOptions{Regex: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Line)
	assert.Equal(t, 0, m.Start)
}

func TestFindBadRegex(t *testing.T) {
	v := searchView(t, "anything")

	_, _, err := v.FindNext("([", SearchOptions{Regex: true})
	assert.ErrorIs(t, err, ErrBadSearchPattern)
}

func TestFindSingleOccurrenceRefound(t *testing.T) {
	v := searchView(t, "a", "needle", "b")

	m, ok, err := v.FindNext("needle", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Line)

	// Only one hit in the buffer: FindNext wraps onto the same match.
	m, ok, err = v.FindNext("needle", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, m.Line)
}

func TestFindMultipleMatchesPerLine(t *testing.T) {
	v := searchView(t, "ab ab ab")

	first, ok, err := v.FindNext("ab", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, first.Start)

	second, ok, err := v.FindNext("ab", SearchOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, second.Start)
}

func TestFindEmptyTermAndEmptyBuffer(t *testing.T) {
	v := searchView(t, "line")
	_, ok, err := v.FindNext("", SearchOptions{})
	require.NoError(t, err)
	assert.False(t, ok)

	empty := NewView()
	_, ok, err = empty.FindNext("x", SearchOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindNotFound(t *testing.T) {
	v := searchView(t, "nothing here")
	_, ok, err := v.FindNext("absent", SearchOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
}
