package errx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("sentinel")

func TestWrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Wrap(errSentinel, cause)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errSentinel))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "sentinel: underlying failure", err.Error())
}

func TestWith(t *testing.T) {
	err := With(errSentinel, ": version %q", "6.0.3")

	require.Error(t, err)
	assert.True(t, errors.Is(err, errSentinel))
	assert.Equal(t, `sentinel: version "6.0.3"`, err.Error())
}

func TestWithWrapsNestedErrors(t *testing.T) {
	cause := errors.New("boom")
	err := With(errSentinel, " %q: %w", "input", cause)

	assert.True(t, errors.Is(err, errSentinel))
	assert.True(t, errors.Is(err, cause))
}
