package lbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteMemoryAllocateWriteReadBytes(t *testing.T) {
	m := NewByteMemory(32)
	data := []byte("hello, lbm")
	idx, err := m.Allocate(WordsNeeded(len(data)))
	require.NoError(t, err)

	m.WriteBytes(idx, data)
	assert.Equal(t, data, m.Bytes(idx, len(data)))
}

func TestByteMemoryFreeReclaimsRun(t *testing.T) {
	m := NewByteMemory(8)
	idx, err := m.Allocate(4)
	require.NoError(t, err)
	m.Free(idx)

	idx2, err := m.Allocate(8)
	require.NoError(t, err)
	assert.Equal(t, 0, idx2)
}

func TestByteMemoryExhaustion(t *testing.T) {
	m := NewByteMemory(4)
	_, err := m.Allocate(4)
	require.NoError(t, err)
	_, err = m.Allocate(1)
	assert.True(t, IsOutOfMemory(err))
}

func TestByteMemoryFreeOnlyAcceptsRunStart(t *testing.T) {
	m := NewByteMemory(8)
	idx, err := m.Allocate(4)
	require.NoError(t, err)

	m.Free(idx + 1) // not a run start, must be a no-op
	_, err = m.Allocate(5) // only words 4..7 are free
	assert.True(t, IsOutOfMemory(err))
}

func TestWordsNeeded(t *testing.T) {
	assert.Equal(t, 0, WordsNeeded(0))
	assert.Equal(t, 1, WordsNeeded(1))
	assert.Equal(t, 1, WordsNeeded(int(unsafeWordSize)))
	assert.Equal(t, 2, WordsNeeded(int(unsafeWordSize)+1))
}
