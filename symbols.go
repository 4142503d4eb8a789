package lbm

// SymbolID is an opaque interned name id. The evaluator never looks
// at the bits; it only compares ids for equality, the way §4.7
// describes the registry as a consumed {name <-> id} mapping.
type SymbolID uint32

// Built-in symbol ids are assigned first, in this fixed order, so
// that they remain stable across a process and across an image load
// (§6 image format re-interns symbols to the same ids on boot).
const (
	SymNil SymbolID = iota
	SymTrue
	SymQuote
	SymDefine
	SymProgn
	SymLambda
	SymIf
	SymLet
	SymClosure
	SymRecv
	SymSleep

	// Descriptor symbols. These occupy a cons cell's cdr to tell
	// the collector and the byte-memory allocators what a car
	// payload points at (§3: "boxed-value header ... cdr holds a
	// type-discriminating symbol"; "array descriptor ... cdr =
	// descriptor symbol").
	SymBoxIntType
	SymBoxUintType
	SymBoxFloatType
	SymArrayType
	SymDefragArrayType

	// Error kinds. Code paths test these by comparing the id, as
	// spec.md §3 directs; they are drawn from this well-known
	// sub-range.
	SymErrType
	SymErrEval
	SymErrArity
	SymErrUnbound
	SymErrOutOfMemory
	SymErrGCProgress
	SymErrStackOverflow
	SymErrTimeout
	SymErrFatal

	symBuiltinCount
)

var builtinNames = [symBuiltinCount]string{
	SymNil:              "nil",
	SymTrue:             "t",
	SymQuote:            "quote",
	SymDefine:           "define",
	SymProgn:            "progn",
	SymLambda:           "lambda",
	SymIf:               "if",
	SymLet:              "let",
	SymClosure:          "closure",
	SymRecv:             "recv",
	SymSleep:            "sleep",
	SymBoxIntType:       "box-int-type",
	SymBoxUintType:      "box-uint-type",
	SymBoxFloatType:     "box-float-type",
	SymArrayType:        "array-type",
	SymDefragArrayType:  "defrag-array-type",
	SymErrType:          "error-type",
	SymErrEval:          "error-eval",
	SymErrArity:         "error-arity",
	SymErrUnbound:       "error-unbound",
	SymErrOutOfMemory:   "error-out-of-memory",
	SymErrGCProgress:    "error-gc-progress",
	SymErrStackOverflow: "error-stack-overflow",
	SymErrTimeout:       "error-timeout",
	SymErrFatal:         "error-fatal",
}

// isErrorSymbol reports whether id falls in the well-known error
// sub-range reserved above.
func isErrorSymbol(id SymbolID) bool {
	return id >= SymErrType && id <= SymErrFatal
}

// SymbolTable interns names to small integer ids. Only the worker
// thread ever calls Intern, per the single-writer discipline of §5;
// auxiliary threads read through NameOf after a Pause.
type SymbolTable struct {
	names []string
	ids   map[string]SymbolID
}

// NewSymbolTable creates a table pre-populated with the built-in ids
// in builtinNames, so their ids match the constants above exactly.
func NewSymbolTable() *SymbolTable {
	t := &SymbolTable{
		names: make([]string, symBuiltinCount),
		ids:   make(map[string]SymbolID, symBuiltinCount*2),
	}
	for id, name := range builtinNames {
		t.names[id] = name
		t.ids[name] = SymbolID(id)
	}
	return t
}

// Intern returns the id for name, allocating a new one if name has
// not been seen before.
func (t *SymbolTable) Intern(name string) SymbolID {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := SymbolID(len(t.names))
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

// NameOf returns the name registered for id, or false if id is
// unknown to this table.
func (t *SymbolTable) NameOf(id SymbolID) (string, bool) {
	if int(id) < 0 || int(id) >= len(t.names) {
		return "", false
	}
	return t.names[id], true
}

// Lookup returns the id for name without interning it.
func (t *SymbolTable) Lookup(name string) (SymbolID, bool) {
	id, ok := t.ids[name]
	return id, ok
}

// Len returns the number of interned symbols, including built-ins.
func (t *SymbolTable) Len() int { return len(t.names) }
