package lbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContStackPushPopTop(t *testing.T) {
	s := NewContStack(2, 8)
	require.NoError(t, s.Push(Frame{Kind: FrameIf, Op0: EncodeSmallInt(1)}))
	require.NoError(t, s.Push(Frame{Kind: FrameEval, Op0: EncodeSmallInt(2)}))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, FrameEval, s.Top().Kind)

	f := s.Pop()
	assert.Equal(t, FrameEval, f.Kind)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, FrameIf, s.Top().Kind)
}

func TestContStackOverflow(t *testing.T) {
	s := NewContStack(1, 2)
	require.NoError(t, s.Push(Frame{Kind: FrameEval}))
	require.NoError(t, s.Push(Frame{Kind: FrameEval}))

	err := s.Push(Frame{Kind: FrameEval})
	require.Error(t, err)
	kind, ok := ErrorKindOf(err.(*RuntimeError).AsSymbolValue())
	assert.True(t, ok)
	assert.Equal(t, SymErrStackOverflow, kind)
}

func TestContStackRoots(t *testing.T) {
	s := NewContStack(2, 8)
	require.NoError(t, s.Push(Frame{Kind: FrameIf, Op0: EncodeSmallInt(1), Op1: EncodeSmallInt(2), Op2: EncodeSmallInt(3)}))

	roots := s.Roots()
	assert.Equal(t, []Word{EncodeSmallInt(1), EncodeSmallInt(2), EncodeSmallInt(3)}, roots)
}

func TestContStackClearAndTruncate(t *testing.T) {
	s := NewContStack(2, 8)
	require.NoError(t, s.Push(Frame{Kind: FrameEval}))
	require.NoError(t, s.Push(Frame{Kind: FrameEval}))
	require.NoError(t, s.Push(Frame{Kind: FrameEval}))

	s.Truncate(1)
	assert.Equal(t, 1, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
}
