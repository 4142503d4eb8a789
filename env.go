package lbm

// GlobalEnv is the top-level environment: a fixed array of slots,
// each an association list of (symbol . value) pairs, hashed by
// symbol id (§3 "Environment"). A power-of-two slot count keeps the
// hash a plain modulus.
type GlobalEnv struct {
	slots []Word
}

// NewGlobalEnv creates a global environment with n slots, all empty.
func NewGlobalEnv(n int) *GlobalEnv {
	if n <= 0 {
		n = 32
	}
	s := make([]Word, n)
	for i := range s {
		s[i] = EncodeSymbol(SymNil)
	}
	return &GlobalEnv{slots: s}
}

func (g *GlobalEnv) slotIndex(id SymbolID) int { return int(id) % len(g.slots) }

// Lookup searches the global environment for id, returning its value
// and whether it was found.
func (g *GlobalEnv) Lookup(rt *Runtime, id SymbolID) (Word, bool) {
	cur := g.slots[g.slotIndex(id)]
	for IsCons(cur) {
		pair := rt.Car(cur)
		if IsCons(pair) && IsSymbol(rt.Car(pair)) && DecodeSymbol(rt.Car(pair)) == id {
			return rt.Cdr(pair), true
		}
		cur = rt.Cdr(cur)
	}
	return 0, false
}

// Define binds id to val at the top level, overwriting any existing
// binding in place (P5: a later lookup of k returns v).
func (g *GlobalEnv) Define(rt *Runtime, id SymbolID, val Word) error {
	slot := g.slotIndex(id)
	cur := g.slots[slot]
	for IsCons(cur) {
		pair := rt.Car(cur)
		if IsCons(pair) && IsSymbol(rt.Car(pair)) && DecodeSymbol(rt.Car(pair)) == id {
			return rt.SetCdr(pair, val)
		}
		cur = rt.Cdr(cur)
	}
	pair, err := rt.AllocCons(EncodeSymbol(id), val)
	if err != nil {
		return err
	}
	head, err := rt.AllocCons(pair, g.slots[slot])
	if err != nil {
		return err
	}
	g.slots[slot] = head
	return nil
}

// Roots returns every slot head, for GC root gathering.
func (g *GlobalEnv) Roots() []Word {
	out := make([]Word, len(g.slots))
	copy(out, g.slots)
	return out
}

// EnvLookup resolves id in a local environment (an association list
// threaded ahead of the global one), falling back to the global
// environment when the local chain is exhausted.
func EnvLookup(rt *Runtime, env Word, id SymbolID) (Word, bool) {
	cur := env
	for IsCons(cur) {
		pair := rt.Car(cur)
		if IsCons(pair) && IsSymbol(rt.Car(pair)) && DecodeSymbol(rt.Car(pair)) == id {
			return rt.Cdr(pair), true
		}
		cur = rt.Cdr(cur)
	}
	return rt.Globals.Lookup(rt, id)
}

// EnvBind conses a fresh (id . val) pair onto env and returns the
// extended environment.
func EnvBind(rt *Runtime, env Word, id SymbolID, val Word) (Word, error) {
	pair, err := rt.AllocCons(EncodeSymbol(id), val)
	if err != nil {
		return 0, err
	}
	return rt.AllocCons(pair, env)
}

// EnvPreBindAll extends env with one fresh (key . nil) pair per key,
// in order, and returns the extended environment together with the
// pair cells themselves so the caller can fill them in left to right
// (the letrec-style pre-binding §4.5 describes for `let`).
func EnvPreBindAll(rt *Runtime, env Word, keys []SymbolID) (Word, []Word, error) {
	nilWord := EncodeSymbol(SymNil)
	pairs := make([]Word, len(keys))
	for _, id := range keys {
		pair, err := rt.AllocCons(EncodeSymbol(id), nilWord)
		if err != nil {
			return 0, nil, err
		}
		var perr error
		env, perr = rt.AllocCons(pair, env)
		if perr != nil {
			return 0, nil, perr
		}
	}
	// pairs were consed onto env in forward order, so env's spine
	// lists them tail-first; walk it once to recover them in the
	// caller's original left-to-right order.
	cur := env
	for i := len(keys) - 1; i >= 0; i-- {
		pairs[i] = rt.Car(cur)
		cur = rt.Cdr(cur)
	}
	return env, pairs, nil
}

// NewClosure builds the four-element closure list (closure-sym,
// params, body, env) described in §3.
func NewClosure(rt *Runtime, params, body, env Word) (Word, error) {
	nilWord := EncodeSymbol(SymNil)
	tail, err := rt.AllocCons(env, nilWord)
	if err != nil {
		return 0, err
	}
	tail, err = rt.AllocCons(body, tail)
	if err != nil {
		return 0, err
	}
	tail, err = rt.AllocCons(params, tail)
	if err != nil {
		return 0, err
	}
	return rt.AllocCons(EncodeSymbol(SymClosure), tail)
}

// IsClosure reports whether w is a closure list.
func IsClosure(rt *Runtime, w Word) bool {
	if !IsCons(w) {
		return false
	}
	head := rt.Car(w)
	return IsSymbol(head) && DecodeSymbol(head) == SymClosure
}

// ClosureParams, ClosureBody and ClosureEnv read the respective slot
// out of a closure value. The caller must have checked IsClosure.
func ClosureParams(rt *Runtime, clo Word) Word { return rt.Car(rt.Cdr(clo)) }
func ClosureBody(rt *Runtime, clo Word) Word   { return rt.Car(rt.Cdr(rt.Cdr(clo))) }
func ClosureEnv(rt *Runtime, clo Word) Word    { return rt.Car(rt.Cdr(rt.Cdr(rt.Cdr(clo)))) }

// ListToSlice walks a proper list of words into a Go slice.
func ListToSlice(rt *Runtime, list Word) []Word {
	var out []Word
	for IsCons(list) {
		out = append(out, rt.Car(list))
		list = rt.Cdr(list)
	}
	return out
}

// SliceToList builds a proper list from a Go slice, right to left.
func SliceToList(rt *Runtime, items []Word) (Word, error) {
	list := EncodeSymbol(SymNil)
	for i := len(items) - 1; i >= 0; i-- {
		var err error
		list, err = rt.AllocCons(items[i], list)
		if err != nil {
			return 0, err
		}
	}
	return list, nil
}

// ListLength counts the elements of a proper list.
func ListLength(rt *Runtime, list Word) int {
	n := 0
	for IsCons(list) {
		n++
		list = rt.Cdr(list)
	}
	return n
}

// IsNil reports whether w is the symbol nil.
func IsNil(w Word) bool { return IsSymbol(w) && DecodeSymbol(w) == SymNil }
