package lbm

import (
	"encoding/binary"
	"fmt"
)

// imageMagic and imageVersion identify a snapshot written by SaveImage,
// the way the teacher's bytecode format leads with its own framing
// before any payload (vm_encoder.go's Bytecode). A mismatch on either
// is a load-time error rather than undefined behavior.
const (
	imageMagic   uint32 = 0x4c424d31 // "LBM1"
	imageVersion uint16 = 1
)

// SaveImage serializes rt's symbol table (beyond the built-ins, which
// every runtime already carries), constant heap, and global
// environment into a flat byte stream (§6). Global bindings whose
// value lives in the mutable cons heap, byte memory, or defrag pool
// are not portable across a restart and are rejected — callers must
// Lift a value before define-ing it if it needs to survive a save.
func SaveImage(rt *Runtime) ([]byte, error) {
	var buf []byte
	buf = appendU32(buf, imageMagic)
	buf = appendU16(buf, imageVersion)

	// Symbol table: every id beyond the built-in range.
	names := make([]string, 0)
	for id := SymbolID(symBuiltinCount); int(id) < rt.Symbols.Len(); id++ {
		name, _ := rt.Symbols.NameOf(id)
		names = append(names, name)
	}
	buf = appendU32(buf, uint32(len(names)))
	for _, name := range names {
		buf = appendU16(buf, uint16(len(name)))
		buf = append(buf, name...)
	}

	// Constant heap: raw words up to the bump cursor, plus the
	// cons-pair and byte-region offset tables needed to address them.
	buf = appendU32(buf, uint32(rt.Const.next))
	for i := 0; i < rt.Const.next; i++ {
		buf = appendWord(buf, rt.Const.words[i])
	}
	buf = appendU32(buf, uint32(len(rt.Const.consOffsets)))
	for _, off := range rt.Const.consOffsets {
		buf = appendU32(buf, uint32(off))
	}
	buf = appendU32(buf, uint32(len(rt.Const.byteOffsets)))
	for _, off := range rt.Const.byteOffsets {
		buf = appendU32(buf, uint32(off))
	}

	// Global environment: every (symbol, value) pair per slot, in
	// traversal order. Values must already be immediates or constant-
	// heap pointers (see the doc comment above).
	buf = appendU32(buf, uint32(len(rt.Globals.slots)))
	for _, slot := range rt.Globals.slots {
		pairs := ListToSlice(rt, slot)
		buf = appendU32(buf, uint32(len(pairs)))
		for _, pair := range pairs {
			sym := rt.Car(pair)
			val := rt.Cdr(pair)
			if !isImageSafe(rt, val) {
				return nil, newError(SymErrFatal, "global %q is not image-safe; lift it first", nameOf(rt, DecodeSymbol(sym)))
			}
			buf = appendWord(buf, sym)
			buf = appendWord(buf, val)
		}
	}

	return buf, nil
}

// isImageSafe reports whether w is an immediate or a pointer into the
// constant heap rather than the mutable cons heap, byte memory, or
// defrag pool.
func isImageSafe(rt *Runtime, w Word) bool {
	switch {
	case isImmediate(w):
		return true
	case IsCons(w):
		return ConsIndex(w) >= rt.Cons.Len()
	case IsBoxed(w), IsArray(w):
		return int(payloadOf(w)) >= rt.Cons.Len()
	default:
		return false
	}
}

// LoadImage rebuilds a Runtime from a snapshot written by SaveImage.
// cfg sizes the fresh mutable cons heap, byte memory, and defrag pool
// exactly as NewRuntime would; the constant heap and global
// environment are then repopulated from the image.
func LoadImage(cfg *Config, data []byte) (*Runtime, error) {
	rt := NewRuntime(cfg)
	r := &reader{data: data}

	magic, err := r.u32()
	if err != nil {
		return nil, err
	}
	if magic != imageMagic {
		return nil, newError(SymErrFatal, "bad image magic")
	}
	version, err := r.u16()
	if err != nil {
		return nil, err
	}
	if version != imageVersion {
		return nil, newError(SymErrFatal, "unsupported image version %d", version)
	}

	nameCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nameCount; i++ {
		nlen, err := r.u16()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(int(nlen))
		if err != nil {
			return nil, err
		}
		rt.Symbols.Intern(string(name))
	}

	constLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(constLen) > rt.Const.Len() {
		return nil, newError(SymErrFatal, "image constant heap larger than configured const_heap.words")
	}
	for i := uint32(0); i < constLen; i++ {
		w, err := r.word()
		if err != nil {
			return nil, err
		}
		rt.Const.words[i] = w
	}
	rt.Const.next = int(constLen)

	consOffCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	rt.Const.consOffsets = make([]int, consOffCount)
	for i := range rt.Const.consOffsets {
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		rt.Const.consOffsets[i] = int(off)
	}

	byteOffCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	rt.Const.byteOffsets = make([]int, byteOffCount)
	for i := range rt.Const.byteOffsets {
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		rt.Const.byteOffsets[i] = int(off)
	}

	slotCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(slotCount) != len(rt.Globals.slots) {
		return nil, newError(SymErrFatal, "image global-env slot count does not match env.global_roots")
	}
	for i := uint32(0); i < slotCount; i++ {
		pairCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < pairCount; j++ {
			sym, err := r.word()
			if err != nil {
				return nil, err
			}
			val, err := r.word()
			if err != nil {
				return nil, err
			}
			if err := rt.Globals.Define(rt, DecodeSymbol(sym), val); err != nil {
				return nil, err
			}
		}
	}

	return rt, nil
}

func appendU16(buf []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(buf, v) }
func appendU32(buf []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(buf, v) }

func appendWord(buf []byte, w Word) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(w))
}

// reader walks an image byte stream sequentially, the way the
// teacher's MemInput walks source bytes.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("image truncated")
	}
	return nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) word() (Word, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return Word(v), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
