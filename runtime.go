package lbm

import "github.com/rs/zerolog"

// Runtime groups every process-global mutable subsystem into one
// value passed explicitly to every entry point (spec.md §9's design
// note: "a clean rewrite groups them into a Runtime value ... the
// single-threaded worker invariant then becomes 'only the worker
// holds a mutable borrow of Runtime'"). Auxiliary threads only reach
// Runtime through the Pause/Continue-guarded methods in scheduler.go.
type Runtime struct {
	Cons    *ConsHeap
	Bytes   *ByteMemory
	Defrag  *DefragPool
	Const   *ConstHeap
	Symbols *SymbolTable
	Globals *GlobalEnv
	Exts    *ExtensionRegistry
	Sched   *Scheduler

	Config *Config
	Log    zerolog.Logger

	gcCount   int
	recovered int
}

// NewRuntime builds a Runtime sized and tuned from cfg. A nil cfg
// uses NewConfig's defaults.
func NewRuntime(cfg *Config) *Runtime {
	if cfg == nil {
		cfg = NewConfig()
	}
	rt := &Runtime{
		Cons:    NewConsHeap(cfg.GetInt("heap.cells")),
		Bytes:   NewByteMemory(cfg.GetInt("memory.words")),
		Defrag:  NewDefragPool(cfg.GetInt("memory.defrag_words")),
		Const:   NewConstHeap(cfg.GetInt("const_heap.words")),
		Symbols: NewSymbolTable(),
		Exts:    NewExtensionRegistry(64),
		Config:  cfg,
		Log:     zerolog.Nop(),
	}
	rt.Globals = NewGlobalEnv(cfg.GetInt("env.global_roots"))
	rt.Sched = NewScheduler(rt, cfg.GetInt("scheduler.quantum"))
	return rt
}

// Car and Cdr dispatch a cons-tagged word to either the mutable cons
// heap or, for indices beyond it, the constant heap's lifted cons
// pairs — the two regions share one address space per cons pointer
// (see constheap.go).
func (rt *Runtime) Car(w Word) Word {
	idx := ConsIndex(w)
	if idx < rt.Cons.Len() {
		return rt.Cons.Car(w)
	}
	return rt.Const.ConsPairCar(idx - rt.Cons.Len())
}

func (rt *Runtime) Cdr(w Word) Word {
	idx := ConsIndex(w)
	if idx < rt.Cons.Len() {
		return rt.Cons.Cdr(w)
	}
	return rt.Const.ConsPairCdr(idx - rt.Cons.Len())
}

// SetCar and SetCdr reject mutation of a constant cell: I5 forbids
// rewriting a written constant-heap word.
func (rt *Runtime) SetCar(w, v Word) error {
	idx := ConsIndex(w)
	if idx >= rt.Cons.Len() {
		return newError(SymErrFatal, "attempt to mutate a constant cons cell")
	}
	rt.Cons.SetCar(w, v)
	return nil
}

func (rt *Runtime) SetCdr(w, v Word) error {
	idx := ConsIndex(w)
	if idx >= rt.Cons.Len() {
		return newError(SymErrFatal, "attempt to mutate a constant cons cell")
	}
	rt.Cons.SetCdr(w, v)
	return nil
}

// AllocCons allocates a cons cell, retrying once after a collection
// on OOM the way §4.5's evaluator contract describes. Evaluator.Step
// runs its own restore-and-retry protocol when this still fails.
func (rt *Runtime) AllocCons(car, cdr Word) (Word, error) {
	w, err := rt.Cons.Allocate(car, cdr)
	if err == nil {
		return w, nil
	}
	rt.Collect()
	return rt.Cons.Allocate(car, cdr)
}

// NewBoxedInt allocates a boxed signed integer.
func (rt *Runtime) NewBoxedInt(v int64) (Word, error) {
	return rt.newBoxed(tagBoxInt, SymBoxIntType, uint64(v))
}

// NewBoxedUint allocates a boxed unsigned integer.
func (rt *Runtime) NewBoxedUint(v uint64) (Word, error) {
	return rt.newBoxed(tagBoxUint, SymBoxUintType, v)
}

func (rt *Runtime) newBoxed(t tag, typeSym SymbolID, bits uint64) (Word, error) {
	idx, err := rt.Bytes.Allocate(1)
	if err != nil {
		rt.Collect()
		idx, err = rt.Bytes.Allocate(1)
		if err != nil {
			return 0, err
		}
	}
	rt.Bytes.Write(idx, Word(bits))
	cell, err := rt.AllocCons(makeWord(t, Word(idx)), EncodeSymbol(typeSym))
	if err != nil {
		rt.Bytes.Free(idx)
		return 0, err
	}
	return makeWord(t, Word(ConsIndex(cell))), nil
}

// BoxedBits returns the raw bit pattern stored for a boxed number.
// The descriptor's car addresses a unified byte-memory space: indices
// below Bytes.Len() are mutable byte memory, indices at or beyond it
// address the constant heap's lifted byte regions (see Lift).
func (rt *Runtime) BoxedBits(w Word) uint64 {
	descriptor := EncodeCons(ConsIndex(w))
	byteIdx := int(payloadOf(rt.Car(descriptor)))
	if byteIdx < rt.Bytes.Len() {
		return uint64(rt.Bytes.Read(byteIdx))
	}
	return uint64(rt.Const.byteWord(byteIdx-rt.Bytes.Len(), 0))
}

const arrayHeaderWords = 1

// NewArray allocates a byte-memory backed array of len(data) bytes
// and returns its tagArray handle. The allocation carries a one-word
// length header ahead of the payload so ArrayLen/ArrayBytes can
// recover the exact byte count later, not just its word-rounded span.
func (rt *Runtime) NewArray(data []byte) (Word, error) {
	n := arrayHeaderWords + WordsNeeded(len(data))
	idx, err := rt.Bytes.Allocate(n)
	if err != nil {
		rt.Collect()
		idx, err = rt.Bytes.Allocate(n)
		if err != nil {
			return 0, err
		}
	}
	rt.Bytes.Write(idx, Word(len(data)))
	rt.Bytes.WriteBytes(idx+arrayHeaderWords, data)
	cell, err := rt.AllocCons(makeWord(tagArray, Word(idx)), EncodeSymbol(SymArrayType))
	if err != nil {
		rt.Bytes.Free(idx)
		return 0, err
	}
	return makeWord(tagArray, Word(ConsIndex(cell))), nil
}

// ArrayLen returns an array value's exact byte length.
func (rt *Runtime) ArrayLen(w Word) int {
	descriptor := EncodeCons(ConsIndex(w))
	byteIdx := int(payloadOf(rt.Car(descriptor)))
	if byteIdx < rt.Bytes.Len() {
		return int(rt.Bytes.Read(byteIdx))
	}
	return int(rt.Const.byteWord(byteIdx-rt.Bytes.Len(), 0))
}

// ArrayBytes reads the byte contents of an array value, dispatching
// through the same unified byte-memory/constant-heap addressing
// BoxedBits uses.
func (rt *Runtime) ArrayBytes(w Word) []byte {
	descriptor := EncodeCons(ConsIndex(w))
	byteIdx := int(payloadOf(rt.Car(descriptor)))
	n := rt.ArrayLen(w)
	if byteIdx < rt.Bytes.Len() {
		return rt.Bytes.Bytes(byteIdx+arrayHeaderWords, n)
	}
	return rt.Const.byteRegionBytes(byteIdx-rt.Bytes.Len(), arrayHeaderWords, n)
}

// NewDefragArray allocates a record of len(data) bytes for data in
// the defragmenting pool and returns its tagDefrag handle.
func (rt *Runtime) NewDefragArray(data []byte) (Word, error) {
	if len(data) == 0 {
		// A zero-byte record's header word would be indistinguishable
		// from DefragPool's free-slot sentinel (§4.2); there is no
		// zero-width encoding that survives a later firstFit scan.
		return 0, newError(SymErrType, "defrag array must be non-empty")
	}
	cell, err := rt.AllocCons(EncodeSymbol(SymNil), EncodeSymbol(SymDefragArrayType))
	if err != nil {
		return 0, err
	}
	cellIdx := ConsIndex(cell)
	off, err := rt.Defrag.Alloc(rt.Cons, cellIdx, len(data))
	if err != nil {
		rt.Collect()
		off, err = rt.Defrag.Alloc(rt.Cons, cellIdx, len(data))
		if err != nil {
			return 0, err
		}
	}
	rt.Defrag.WriteBytes(off, data)
	rt.Cons.SetCar(cell, Word(uint64(off)))
	return makeWord(tagDefrag, Word(cellIdx)), nil
}

// DefragArrayBytes reads the byte contents of a defrag-array value.
func (rt *Runtime) DefragArrayBytes(w Word) []byte {
	cellIdx := int(payloadOf(w))
	off := int(rt.Cons.Car(EncodeCons(cellIdx)))
	return rt.Defrag.Bytes(off)
}

// Collect runs a stop-the-world mark-sweep using every context's
// roots as the root set (§4.1).
func (rt *Runtime) Collect() {
	recovered := collect(rt)
	rt.gcCount++
	rt.recovered = recovered
	rt.Log.Debug().Int("recovered", recovered).Int("gc_count", rt.gcCount).Msg("gc")
}

// GCStats reports how many collections have run and how many cells
// the most recent one recovered.
func (rt *Runtime) GCStats() (count, recovered int) { return rt.gcCount, rt.recovered }
