package lbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsHeapAllocateAndAccess(t *testing.T) {
	h := NewConsHeap(4)
	w, err := h.Allocate(EncodeSmallInt(1), EncodeSmallInt(2))
	require.NoError(t, err)
	assert.True(t, IsCons(w))
	assert.Equal(t, EncodeSmallInt(1), h.Car(w))
	assert.Equal(t, EncodeSmallInt(2), h.Cdr(w))

	h.SetCar(w, EncodeSmallInt(9))
	h.SetCdr(w, EncodeSmallInt(10))
	assert.Equal(t, EncodeSmallInt(9), h.Car(w))
	assert.Equal(t, EncodeSmallInt(10), h.Cdr(w))
}

func TestConsHeapExhaustion(t *testing.T) {
	h := NewConsHeap(2)
	_, err := h.Allocate(EncodeSmallInt(1), EncodeSmallInt(1))
	require.NoError(t, err)
	_, err = h.Allocate(EncodeSmallInt(1), EncodeSmallInt(1))
	require.NoError(t, err)

	_, err = h.Allocate(EncodeSmallInt(1), EncodeSmallInt(1))
	assert.True(t, IsOutOfMemory(err))
}

func TestConsHeapFreeReturnsCellToFreeList(t *testing.T) {
	h := NewConsHeap(1)
	w, err := h.Allocate(EncodeSmallInt(1), EncodeSmallInt(1))
	require.NoError(t, err)
	assert.False(t, h.IsFree(ConsIndex(w)))

	h.Free(ConsIndex(w))
	assert.True(t, h.IsFree(ConsIndex(w)))

	w2, err := h.Allocate(EncodeSmallInt(2), EncodeSmallInt(2))
	require.NoError(t, err)
	assert.Equal(t, ConsIndex(w), ConsIndex(w2))
}

func TestConsHeapMarkBits(t *testing.T) {
	h := NewConsHeap(16)
	h.setMarkBit(3)
	h.setMarkBit(15)
	assert.True(t, h.markBit(3))
	assert.True(t, h.markBit(15))
	assert.False(t, h.markBit(4))

	h.clearMarks()
	assert.False(t, h.markBit(3))
	assert.False(t, h.markBit(15))
}

func TestConsHeapStats(t *testing.T) {
	h := NewConsHeap(4)
	_, _ = h.Allocate(EncodeSmallInt(1), EncodeSmallInt(1))
	_, _ = h.Allocate(EncodeSmallInt(1), EncodeSmallInt(1))
	h.noteCollection(1)

	allocated, collections, recovered := h.Stats()
	assert.Equal(t, 2, allocated)
	assert.Equal(t, 1, collections)
	assert.Equal(t, 1, recovered)
}
