package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStackEmptyPopFails(t *testing.T) {
	s := NewStack[string](0)
	assert.True(t, s.IsEmpty())
	_, ok := s.Pop()
	assert.False(t, ok)
}

func TestStackPushPopOrderLIFO(t *testing.T) {
	s := NewStack[int](2)
	s.Push(1)
	s.Push(2)
	s.Push(3) // exceeds initial capacity, must grow like resizeStack did

	v, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	v, ok = s.Pop()
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.Equal(t, 1, s.Len())
}

func TestStackPeekDoesNotRemove(t *testing.T) {
	s := NewStack[string](1)
	s.Push("a")
	v, ok := s.Peek()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, s.Len())
}

func TestStackGenericOverSegments(t *testing.T) {
	// The path resolver pushes string segments, the way Resolve walks
	// "." / ".." components.
	s := NewStack[string](4)
	for _, seg := range []string{"a", "b", ".."} {
		if seg == ".." {
			s.Pop()
			continue
		}
		s.Push(seg)
	}
	v, ok := s.Pop()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.True(t, s.IsEmpty())
}
