package lbm

// collect runs one stop-the-world mark-sweep pass over the cons heap
// and returns how many cells it recovered (§4.1). The root set is
// every global-environment slot plus every context's registers,
// continuation stack, and mailbox queue — mailbox contents included
// even for a paused context, so a collection triggered from an
// auxiliary thread never frees a message still in flight.
func collect(rt *Runtime) int {
	rt.Cons.clearMarks()

	mark(rt, rt.Globals.Roots())
	for _, c := range rt.Sched.Contexts() {
		mark(rt, c.Roots())
	}

	return sweep(rt)
}

// mark traces every root in roots, and everything reachable from it,
// using an explicit worklist rather than Go call recursion — the
// equivalent of the Deutsch-Schorr-Waite fallback spec.md calls for
// when a recursive mark would itself exhaust a stack (here, Go's own
// goroutine stack for a very deep structure).
//
// A word is traced whenever its tag addresses the cons heap — a cons
// cell, or a boxed number/array/defrag-array handle whose payload is
// the index of its descriptor cell (§4.1 step 2: "a cons-cell tag or
// a typed-pointer tag pointing into the cons heap"). tagCustom is the
// one isPtrTag member excluded here: its payload is an extension-
// registry slot, not a cons index, so tracing it as one would mark an
// unrelated cell by coincidence.
func mark(rt *Runtime, roots []Word) {
	work := append([]Word(nil), roots...)
	for len(work) > 0 {
		w := work[len(work)-1]
		work = work[:len(work)-1]

		t := tagOf(w)
		if t == tagCustom || !isPtrTag(t) {
			continue
		}
		idx := ConsIndex(w)
		if idx >= rt.Cons.Len() {
			// Constant-heap cons pair: lifted values are never
			// traced or collected (I5).
			continue
		}
		if rt.Cons.markBit(idx) {
			continue
		}
		rt.Cons.setMarkBit(idx)
		if t != tagCons {
			// The descriptor cell's car/cdr are internal bookkeeping
			// (a byte-memory or defrag-pool address and a type
			// symbol), not further values to trace. Keeping the
			// descriptor cell marked is enough to stop sweep from
			// reclaiming it, and freeBackingStore along with it,
			// while a live binding still holds this handle.
			continue
		}
		work = append(work, rt.Cons.Car(w), rt.Cons.Cdr(w))
	}
}

// sweep reclaims every unmarked, non-free cell, releasing whatever
// byte-memory or defrag-pool record it describes along the way, and
// reports the recovered count back into the cons heap's stats.
func sweep(rt *Runtime) int {
	recovered := 0
	for idx := 0; idx < rt.Cons.Len(); idx++ {
		if rt.Cons.IsFree(idx) || rt.Cons.markBit(idx) {
			continue
		}
		freeBackingStore(rt, idx)
		rt.Cons.Free(idx)
		recovered++
	}
	rt.Cons.noteCollection(recovered)
	return recovered
}

// freeBackingStore releases the byte-memory or defrag-pool record a
// doomed descriptor cell points at, if it is one (§3's boxed-value
// and array-descriptor cell shapes: car is the backing pointer, cdr
// is a type-discriminating symbol).
func freeBackingStore(rt *Runtime, idx int) {
	cell := EncodeCons(idx)
	car := rt.Cons.Car(cell)
	cdr := rt.Cons.Cdr(cell)
	if !IsSymbol(cdr) {
		return
	}
	switch DecodeSymbol(cdr) {
	case SymBoxIntType, SymBoxUintType, SymBoxFloatType, SymArrayType:
		rt.Bytes.Free(int(payloadOf(car)))
	case SymDefragArrayType:
		rt.Defrag.Free(int(car))
	}
}
