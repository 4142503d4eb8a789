package lbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	cfg := NewConfig()
	cfg.SetInt("heap.cells", 256)
	cfg.SetInt("memory.words", 256)
	cfg.SetInt("const_heap.words", 256)
	cfg.SetInt("env.global_roots", 8)
	return NewRuntime(cfg)
}

func TestGlobalEnvDefineAndLookup(t *testing.T) {
	rt := newTestRuntime(t)
	x := rt.Symbols.Intern("x")

	_, ok := rt.Globals.Lookup(rt, x)
	assert.False(t, ok)

	require.NoError(t, rt.Globals.Define(rt, x, EncodeSmallInt(10)))
	v, ok := rt.Globals.Lookup(rt, x)
	require.True(t, ok)
	assert.Equal(t, EncodeSmallInt(10), v)

	require.NoError(t, rt.Globals.Define(rt, x, EncodeSmallInt(20)))
	v, ok = rt.Globals.Lookup(rt, x)
	require.True(t, ok)
	assert.Equal(t, EncodeSmallInt(20), v)
}

func TestEnvLookupFallsBackToGlobal(t *testing.T) {
	rt := newTestRuntime(t)
	x := rt.Symbols.Intern("x")
	y := rt.Symbols.Intern("y")
	require.NoError(t, rt.Globals.Define(rt, y, EncodeSmallInt(99)))

	local, err := EnvBind(rt, EncodeSymbol(SymNil), x, EncodeSmallInt(1))
	require.NoError(t, err)

	v, ok := EnvLookup(rt, local, x)
	require.True(t, ok)
	assert.Equal(t, EncodeSmallInt(1), v)

	v, ok = EnvLookup(rt, local, y)
	require.True(t, ok)
	assert.Equal(t, EncodeSmallInt(99), v)

	_, ok = EnvLookup(rt, local, rt.Symbols.Intern("z"))
	assert.False(t, ok)
}

func TestEnvPreBindAllPreservesOrder(t *testing.T) {
	rt := newTestRuntime(t)
	a := rt.Symbols.Intern("a")
	b := rt.Symbols.Intern("b")
	c := rt.Symbols.Intern("c")

	env, pairs, err := EnvPreBindAll(rt, EncodeSymbol(SymNil), []SymbolID{a, b, c})
	require.NoError(t, err)
	require.Len(t, pairs, 3)

	assert.Equal(t, a, DecodeSymbol(rt.Car(pairs[0])))
	assert.Equal(t, b, DecodeSymbol(rt.Car(pairs[1])))
	assert.Equal(t, c, DecodeSymbol(rt.Car(pairs[2])))

	require.NoError(t, rt.SetCdr(pairs[1], EncodeSmallInt(42)))
	v, ok := EnvLookup(rt, env, b)
	require.True(t, ok)
	assert.Equal(t, EncodeSmallInt(42), v)
}

func TestClosureAccessors(t *testing.T) {
	rt := newTestRuntime(t)
	params := EncodeSymbol(SymNil)
	body := EncodeSymbol(SymNil)
	env := EncodeSymbol(SymNil)

	clo, err := NewClosure(rt, params, body, env)
	require.NoError(t, err)

	assert.True(t, IsClosure(rt, clo))
	assert.Equal(t, params, ClosureParams(rt, clo))
	assert.Equal(t, body, ClosureBody(rt, clo))
	assert.Equal(t, env, ClosureEnv(rt, clo))
	assert.False(t, IsClosure(rt, EncodeSmallInt(1)))
}

func TestListSliceConversions(t *testing.T) {
	rt := newTestRuntime(t)
	items := []Word{EncodeSmallInt(1), EncodeSmallInt(2), EncodeSmallInt(3)}

	list, err := SliceToList(rt, items)
	require.NoError(t, err)
	assert.Equal(t, 3, ListLength(rt, list))
	assert.Equal(t, items, ListToSlice(rt, list))

	assert.True(t, IsNil(EncodeSymbol(SymNil)))
	assert.False(t, IsNil(EncodeSmallInt(0)))
}
