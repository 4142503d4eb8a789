package lbm

// ContextState is the scheduling state a context currently occupies
// (§5). A context moves state-to-state only at quantum boundaries or
// on an explicit blocking operation. Kill retires a queued context at
// once; a context in the middle of a quantum is retired at its next
// step boundary.
type ContextState int

const (
	ContextReady ContextState = iota
	ContextBlocked
	ContextSleeping
	ContextDead
)

func (s ContextState) String() string {
	switch s {
	case ContextReady:
		return "ready"
	case ContextBlocked:
		return "blocked"
	case ContextSleeping:
		return "sleeping"
	case ContextDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ContextID names a context for Send/Kill/inspection purposes.
type ContextID uint32

// mailbox is a bounded FIFO queue of messages, one per context,
// preserving per-sender order (§5's mailbox semantics).
type mailbox struct {
	msgs []Word
	cap  int
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{cap: capacity}
}

func (m *mailbox) send(w Word) error {
	if len(m.msgs) >= m.cap {
		return newError(SymErrFatal, "mailbox full")
	}
	m.msgs = append(m.msgs, w)
	return nil
}

func (m *mailbox) recv() (Word, bool) {
	if len(m.msgs) == 0 {
		return 0, false
	}
	w := m.msgs[0]
	m.msgs = m.msgs[1:]
	return w, true
}

func (m *mailbox) roots() []Word {
	out := make([]Word, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Context is one lightweight cooperative execution: a program to run,
// the expression and environment currently being evaluated, a result
// register, a continuation stack, and a mailbox (§5). Many contexts
// share the single worker thread; only the scheduler ever switches
// which one is "current".
type Context struct {
	ID    ContextID
	Name  string
	State ContextState

	Program Word // remaining top-level forms, a list
	Expr    Word // expression currently being dispatched
	Env     Word // environment currently in scope
	Result  Word // last completed value, or an error symbol

	Stack *ContStack
	mbox  *mailbox

	WakeAt     int64 // sleeping contexts wake at this scheduler tick
	SleepTicks int64 // ticks to sleep for, set just before a StepSleep result
	Err        error // set when State == ContextDead from an uncaught error

	RecvTimeoutTicks int64 // set just before a timed StepBlock; 0 means block forever
	RecvDeadline     int64 // scheduler tick at which a timed-out recv fires; 0 means none
	RecvTimedOut     bool  // set by the scheduler when RecvDeadline has passed

	mode evalMode
}

// NewContext creates a context ready to evaluate program in env, with
// a continuation stack and mailbox sized from cfg. It starts in
// apply-cont mode with an empty stack, so its first step takes the
// first form of program.
func NewContext(id ContextID, name string, program, env Word, cfg *Config) *Context {
	return &Context{
		ID:      id,
		Name:    name,
		State:   ContextReady,
		Program: program,
		Env:     env,
		Result:  EncodeSymbol(SymNil),
		Stack:   NewContStack(cfg.GetInt("context.stack_init"), cfg.GetInt("context.stack_cap")),
		mbox:    newMailbox(cfg.GetInt("context.mailbox_cap")),
		mode:    modeApplyCont,
	}
}

// Send enqueues w in this context's mailbox.
func (c *Context) Send(w Word) error { return c.mbox.send(w) }

// Recv dequeues the oldest queued message, if any.
func (c *Context) Recv() (Word, bool) { return c.mbox.recv() }

// Roots returns every word this context keeps a live reference to:
// its registers, continuation stack, and mailbox contents. Mailbox
// contents stay roots even while the context is paused (§5 Open
// Question: a paused context's queued messages must survive a
// collection run from an auxiliary thread).
func (c *Context) Roots() []Word {
	out := []Word{c.Program, c.Expr, c.Env, c.Result}
	out = append(out, c.Stack.Roots()...)
	out = append(out, c.mbox.roots()...)
	return out
}
