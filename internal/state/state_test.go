package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTokenIsIdempotentForSameValue(t *testing.T) {
	s := New(nil, nil, nil, nil)
	assert.False(t, s.Ready())

	s.SetToken("abc")
	assert.True(t, s.Ready())

	assert.NotPanics(t, func() { s.SetToken("abc") })

	token, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "abc", token)
}

func TestSetTokenPanicsOnDifferentValue(t *testing.T) {
	s := New(nil, nil, nil, nil)
	s.SetToken("abc")

	assert.Panics(t, func() { s.SetToken("xyz") })
}
