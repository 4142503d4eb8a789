package lbm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickUntilDead drives the scheduler until c leaves the ready/blocked/
// sleeping queues, failing the test if that takes implausibly long.
func tickUntilDead(t *testing.T, rt *Runtime, c *Context) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if c.State == ContextDead {
			return
		}
		rt.Sched.Tick()
	}
	t.Fatalf("context %d never reached ContextDead (stuck in state %s)", c.ID, c.State)
}

// TestSchedulerRecvBlocksThenWakesOnSend covers S4: a context
// dispatching (recv) blocks when its mailbox is empty, and a Send from
// another context moves it back onto the ready queue with the sent
// value in its result register.
func TestSchedulerRecvBlocksThenWakesOnSend(t *testing.T) {
	rt := newTestRuntime(t)
	form := list(t, rt, sym(rt, "recv"))
	program, err := SliceToList(rt, []Word{form})
	require.NoError(t, err)

	c := rt.Sched.Spawn("receiver", program, EncodeSymbol(SymNil))
	rt.Sched.Tick()
	assert.Equal(t, ContextBlocked, c.State)
	assert.Equal(t, 1, rt.Sched.BlockedLen())

	require.NoError(t, rt.Sched.Send(c.ID, EncodeSmallInt(42)))
	assert.Equal(t, ContextReady, c.State)
	assert.Equal(t, 0, rt.Sched.BlockedLen())

	tickUntilDead(t, rt, c)
	assert.Nil(t, c.Err)
	assert.Equal(t, EncodeSmallInt(42), c.Result)
}

// TestSchedulerRecvSucceedsImmediatelyWhenMailboxNonEmpty covers a
// send that arrives before the receiver ever dispatches (recv): the
// context must never visit the blocked queue at all.
func TestSchedulerRecvSucceedsImmediatelyWhenMailboxNonEmpty(t *testing.T) {
	rt := newTestRuntime(t)
	form := list(t, rt, sym(rt, "recv"))
	program, err := SliceToList(rt, []Word{form})
	require.NoError(t, err)

	c := rt.Sched.Spawn("receiver", program, EncodeSymbol(SymNil))
	require.NoError(t, rt.Sched.Send(c.ID, EncodeSmallInt(7)))

	tickUntilDead(t, rt, c)
	assert.Equal(t, 0, rt.Sched.BlockedLen())
	assert.Equal(t, EncodeSmallInt(7), c.Result)
}

// TestSchedulerSleepReturnsToReadyAtWakeTick covers a context
// dispatching (sleep 3): it leaves the ready queue immediately and
// only becomes ready again once the scheduler's tick counter reaches
// its recorded wake tick.
func TestSchedulerSleepReturnsToReadyAtWakeTick(t *testing.T) {
	rt := newTestRuntime(t)
	form := list(t, rt, sym(rt, "sleep"), EncodeSmallInt(3))
	program, err := SliceToList(rt, []Word{form})
	require.NoError(t, err)

	c := rt.Sched.Spawn("sleeper", program, EncodeSymbol(SymNil))
	rt.Sched.Tick()
	require.Equal(t, ContextSleeping, c.State)
	assert.Equal(t, 1, rt.Sched.SleepingLen())

	tickUntilDead(t, rt, c)
	assert.Nil(t, c.Err)
	assert.Equal(t, EncodeSymbol(SymNil), c.Result)
}

// TestSchedulerSendOrderIsPreservedPerSender covers the mailbox FIFO
// ordering guarantee: two sends from the same caller are delivered to
// two sequential (recv) calls in issue order. The two values are
// subtracted, so delivery in reverse order would give 1, not -1.
func TestSchedulerSendOrderIsPreservedPerSender(t *testing.T) {
	rt := newTestRuntime(t)
	registerArithForTest(t, rt)

	recvForm := list(t, rt, sym(rt, "recv"))
	diffForm := list(t, rt, sym(rt, "-"), recvForm, recvForm)
	program, err := SliceToList(rt, []Word{diffForm})
	require.NoError(t, err)

	c := rt.Sched.Spawn("adder", program, EncodeSymbol(SymNil))
	require.NoError(t, rt.Sched.Send(c.ID, EncodeSmallInt(1)))
	require.NoError(t, rt.Sched.Send(c.ID, EncodeSmallInt(2)))

	tickUntilDead(t, rt, c)
	assert.Nil(t, c.Err)
	assert.Equal(t, EncodeSmallInt(-1), c.Result)
}

// TestSchedulerRecvTimeoutFiresERR_TIMEOUT covers a (recv n) whose
// deadline passes before any send arrives: the context must unblock
// on its own, without ever receiving a message, carrying ERR_TIMEOUT.
func TestSchedulerRecvTimeoutFiresERR_TIMEOUT(t *testing.T) {
	rt := newTestRuntime(t)
	form := list(t, rt, sym(rt, "recv"), EncodeSmallInt(2))
	program, err := SliceToList(rt, []Word{form})
	require.NoError(t, err)

	c := rt.Sched.Spawn("waiter", program, EncodeSymbol(SymNil))
	tickUntilDead(t, rt, c)

	require.Error(t, c.Err)
	kind, ok := ErrorKindOf(c.Result)
	require.True(t, ok)
	assert.Equal(t, SymErrTimeout, kind)
}

// TestSchedulerRecvTimeoutDoesNotFireWhenMessageArrivesFirst checks a
// send that lands before the deadline satisfies the (recv n) form
// normally, instead of timing out later.
func TestSchedulerRecvTimeoutDoesNotFireWhenMessageArrivesFirst(t *testing.T) {
	rt := newTestRuntime(t)
	form := list(t, rt, sym(rt, "recv"), EncodeSmallInt(100))
	program, err := SliceToList(rt, []Word{form})
	require.NoError(t, err)

	c := rt.Sched.Spawn("waiter", program, EncodeSymbol(SymNil))
	rt.Sched.Tick() // evaluates the timeout arg, then blocks
	require.Equal(t, ContextBlocked, c.State)

	require.NoError(t, rt.Sched.Send(c.ID, EncodeSmallInt(9)))
	tickUntilDead(t, rt, c)
	assert.Nil(t, c.Err)
	assert.Equal(t, EncodeSmallInt(9), c.Result)
}

// TestSchedulerKillIsAsynchronous covers kill applying no later than
// the next quantum boundary: killing a ready context before it ever
// runs retires it without it ever producing a result.
func TestSchedulerKillIsAsynchronous(t *testing.T) {
	rt := newTestRuntime(t)
	form := list(t, rt, sym(rt, "recv"))
	program, err := SliceToList(rt, []Word{form})
	require.NoError(t, err)

	c := rt.Sched.Spawn("victim", program, EncodeSymbol(SymNil))
	require.NoError(t, rt.Sched.Kill(c.ID))
	assert.Equal(t, ContextDead, c.State)
	assert.Equal(t, 0, rt.Sched.ReadyLen())
}
