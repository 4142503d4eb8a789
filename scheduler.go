package lbm

import (
	"container/list"
	"sync"
)

// Scheduler runs many Contexts cooperatively on a single worker
// thread (§5): a ready queue, a blocked queue (waiting on a mailbox
// recv), and a sleeping queue (waiting for a wakeup tick), each a
// container/list.List of *Context.
//
// mu is the single lock guarding every queue and every context's
// mutable fields. Tick holds it for the duration of one context's
// quantum; Pause acquires it and Continue releases it, so an
// auxiliary thread that brackets its Runtime access with Pause/
// Continue can never observe the worker mid-step.
type Scheduler struct {
	rt      *Runtime
	quantum int

	mu       sync.Mutex
	contexts map[ContextID]*Context
	elems    map[ContextID]*list.Element
	ready    *list.List
	blocked  *list.List
	sleeping *list.List
	killed   map[ContextID]bool

	nextID ContextID
	tick   int64
}

// NewScheduler creates a scheduler for rt with the given per-context
// quantum (max dispatch/apply-cont steps per turn).
func NewScheduler(rt *Runtime, quantum int) *Scheduler {
	if quantum <= 0 {
		quantum = 100
	}
	return &Scheduler{
		rt:       rt,
		quantum:  quantum,
		contexts: make(map[ContextID]*Context),
		elems:    make(map[ContextID]*list.Element),
		ready:    list.New(),
		blocked:  list.New(),
		sleeping: list.New(),
		killed:   make(map[ContextID]bool),
	}
}

// Spawn creates a new ready context evaluating program in env and
// enqueues it.
func (s *Scheduler) Spawn(name string, program, env Word) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	c := NewContext(id, name, program, env, s.rt.Config)
	s.contexts[id] = c
	s.elems[id] = s.ready.PushBack(c)
	return c
}

// Contexts returns a snapshot slice of every known context,
// regardless of queue, for inspection and GC root gathering.
func (s *Scheduler) Contexts() []*Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	return out
}

// Lookup returns the context registered under id.
func (s *Scheduler) Lookup(id ContextID) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[id]
	return c, ok
}

// Tick advances the scheduler by one quantum: it wakes any sleepers
// whose wakeup tick has arrived, then runs the front of the ready
// queue for up to quantum steps, requeueing, blocking, sleeping, or
// retiring it depending on what that run produced.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick++
	s.wakeSleepers()
	s.wakeTimedOutRecvs()

	front := s.ready.Front()
	if front == nil {
		return
	}
	c := s.ready.Remove(front).(*Context)
	delete(s.elems, c.ID)

	if s.killed[c.ID] {
		c.State = ContextDead
		return
	}

	ev := NewEvaluator(s.rt)
	for step := 0; step < s.quantum; step++ {
		result, err := ev.Step(c)
		if err != nil {
			c.State = ContextDead
			c.Err = err
			return
		}
		switch result {
		case StepDone:
			return
		case StepBlock:
			c.State = ContextBlocked
			if c.RecvTimeoutTicks > 0 {
				c.RecvDeadline = s.tick + c.RecvTimeoutTicks
			} else {
				c.RecvDeadline = 0
			}
			s.elems[c.ID] = s.blocked.PushBack(c)
			return
		case StepSleep:
			c.State = ContextSleeping
			c.WakeAt = s.tick + c.SleepTicks
			s.elems[c.ID] = s.sleeping.PushBack(c)
			return
		}
		if s.killed[c.ID] {
			c.State = ContextDead
			return
		}
	}
	c.State = ContextReady
	s.elems[c.ID] = s.ready.PushBack(c)
}

func (s *Scheduler) wakeSleepers() {
	var next *list.Element
	for e := s.sleeping.Front(); e != nil; e = next {
		next = e.Next()
		c := e.Value.(*Context)
		if c.WakeAt <= s.tick {
			s.sleeping.Remove(e)
			c.State = ContextReady
			s.elems[c.ID] = s.ready.PushBack(c)
		}
	}
}

// wakeTimedOutRecvs moves every blocked context whose recv deadline
// has passed back onto the ready queue with RecvTimedOut set, so its
// next dispatch of (recv n) fails with ERR_TIMEOUT instead of
// rechecking the still-empty mailbox (spec: "on expiry the predicate
// is forced to false").
func (s *Scheduler) wakeTimedOutRecvs() {
	var next *list.Element
	for e := s.blocked.Front(); e != nil; e = next {
		next = e.Next()
		c := e.Value.(*Context)
		if c.RecvDeadline != 0 && c.RecvDeadline <= s.tick {
			s.blocked.Remove(e)
			c.RecvDeadline = 0
			c.RecvTimedOut = true
			c.State = ContextReady
			s.elems[c.ID] = s.ready.PushBack(c)
		}
	}
}

// Send enqueues msg in the target context's mailbox, unblocking it if
// it was waiting on a recv.
func (s *Scheduler) Send(id ContextID, msg Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[id]
	if !ok {
		return newError(SymErrUnbound, "no context %d", id)
	}
	if err := c.Send(msg); err != nil {
		return err
	}
	if c.State == ContextBlocked {
		if e, ok := s.elems[id]; ok {
			s.blocked.Remove(e)
		}
		c.RecvDeadline = 0
		c.State = ContextReady
		s.elems[id] = s.ready.PushBack(c)
	}
	return nil
}

// Kill marks a context dead. If it is currently queued (ready,
// blocked, or sleeping) it is retired immediately; if it is the one
// mid-quantum inside Tick right now, Tick notices the kill flag at
// the next step boundary (§5: "asynchronous kill effective by the
// next quantum boundary").
func (s *Scheduler) Kill(id ContextID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[id]
	if !ok {
		return newError(SymErrUnbound, "no context %d", id)
	}
	s.killed[id] = true
	if e, ok := s.elems[id]; ok {
		switch c.State {
		case ContextReady:
			s.ready.Remove(e)
		case ContextBlocked:
			s.blocked.Remove(e)
		case ContextSleeping:
			s.sleeping.Remove(e)
		}
		delete(s.elems, id)
		c.State = ContextDead
	}
	return nil
}

// Pause acquires the scheduler lock so an auxiliary thread can safely
// read or mutate Runtime state between quanta. Continue must be
// called exactly once to release it.
func (s *Scheduler) Pause() { s.mu.Lock() }

// Continue releases the lock acquired by Pause.
func (s *Scheduler) Continue() { s.mu.Unlock() }

// ReadyLen, BlockedLen and SleepingLen report queue depths, for the
// REPL's :state command.
func (s *Scheduler) ReadyLen() int    { return s.ready.Len() }
func (s *Scheduler) BlockedLen() int  { return s.blocked.Len() }
func (s *Scheduler) SleepingLen() int { return s.sleeping.Len() }
