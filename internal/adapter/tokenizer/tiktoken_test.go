package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/domain"
)

func TestNewUnknownModel(t *testing.T) {
	_, err := New("definitely-not-a-model")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedModel))
	assert.False(t, errors.Is(err, domain.ErrTokenizerLoad))

	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.CodeUnsupportedModel, de.Code())
}

func TestEncodingFor(t *testing.T) {
	name, ok := encodingFor("gpt-3.5-turbo")
	assert.True(t, ok)
	assert.Equal(t, "cl100k_base", name)

	_, ok = encodingFor("gpt-3.5-turbo-0613")
	assert.True(t, ok, "dated snapshots resolve by prefix")

	_, ok = encodingFor("definitely-not-a-model")
	assert.False(t, ok)
}

func TestLoadFailureIsNotUnsupportedModel(t *testing.T) {
	_, err := newWithEncoding("gpt-3.5-turbo", "no_such_encoding")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTokenizerLoad))
	assert.False(t, errors.Is(err, domain.ErrUnsupportedModel))
	assert.Equal(t, domain.CodeTokenizerLoad, domain.ErrorCodeOf(err))
}

// newCounter loads a real encoding. The BPE ranks are fetched on first use,
// so environments that cannot load them skip; any other error fails.
func newCounter(t *testing.T) *Counter {
	t.Helper()
	c, err := New("gpt-3.5-turbo")
	if errors.Is(err, domain.ErrTokenizerLoad) {
		t.Skipf("encoding unavailable: %v", err)
	}
	require.NoError(t, err)
	return c
}

func TestCountText(t *testing.T) {
	c := newCounter(t)

	assert.Equal(t, 0, c.CountText(""))
	assert.Equal(t, 2, c.CountText("hello world"))
	assert.Equal(t, "gpt-3.5-turbo", c.Model())
}
