package lbm

// Lift copies w, and everything reachable from it, into the constant
// heap, returning the lifted pointer (§4.3). Lifted values survive
// every collection without being traced, so Lift is how a value is
// made safe to store in a global that must outlive a GC or, via
// image.go, a process restart.
//
// Immediates need no copying — they carry their entire value in the
// word itself. Cons structure, boxed numbers, and byte-memory arrays
// recursively lift into fresh constant-heap records. A defrag array
// cannot be lifted: the defragging pool's whole point is that its
// records relocate, which the constant heap's write-once contract
// forbids.
func Lift(rt *Runtime, w Word) (Word, error) {
	switch {
	case IsSymbol(w), IsSmallInt(w), IsSmallUint(w), IsChar(w):
		return w, nil
	case IsCons(w):
		return liftCons(rt, w)
	case IsBoxed(w):
		return liftBoxed(rt, w)
	case IsArray(w):
		return liftArray(rt, w)
	case IsDefragArray(w):
		return 0, newError(SymErrType, "a defrag array cannot be lifted into the constant heap")
	default:
		return 0, newError(SymErrType, "value cannot be lifted into the constant heap")
	}
}

func liftCons(rt *Runtime, w Word) (Word, error) {
	idx := ConsIndex(w)
	if idx >= rt.Cons.Len() {
		return w, nil // already constant
	}
	car, err := Lift(rt, rt.Cons.Car(w))
	if err != nil {
		return 0, err
	}
	cdr, err := Lift(rt, rt.Cons.Cdr(w))
	if err != nil {
		return 0, err
	}
	pairIdx, err := rt.Const.allocConsPair()
	if err != nil {
		return 0, err
	}
	if err := rt.Const.setConsPair(pairIdx, car, cdr); err != nil {
		return 0, err
	}
	return EncodeCons(rt.Cons.Len() + pairIdx), nil
}

func liftBoxed(rt *Runtime, w Word) (Word, error) {
	idx := int(payloadOf(w))
	if idx >= rt.Cons.Len() {
		return w, nil // already constant
	}
	descriptor := EncodeCons(idx)
	typeSym := rt.Cons.Cdr(descriptor)
	bits := rt.BoxedBits(w)

	regionIdx, err := rt.Const.allocByteRegion(1)
	if err != nil {
		return 0, err
	}
	if err := rt.Const.setByteWord(regionIdx, 0, Word(bits)); err != nil {
		return 0, err
	}
	unifiedByteIdx := rt.Bytes.Len() + regionIdx

	pairIdx, err := rt.Const.allocConsPair()
	if err != nil {
		return 0, err
	}
	t := tagOf(w)
	if err := rt.Const.setConsPair(pairIdx, makeWord(t, Word(unifiedByteIdx)), typeSym); err != nil {
		return 0, err
	}
	return makeWord(t, Word(rt.Cons.Len()+pairIdx)), nil
}

func liftArray(rt *Runtime, w Word) (Word, error) {
	idx := ConsIndex(w)
	if idx >= rt.Cons.Len() {
		return w, nil // already constant
	}
	data := rt.ArrayBytes(w)

	regionIdx, err := rt.Const.allocByteRegion(arrayHeaderWords + WordsNeeded(len(data)))
	if err != nil {
		return 0, err
	}
	if err := rt.Const.setByteWord(regionIdx, 0, Word(len(data))); err != nil {
		return 0, err
	}
	if err := rt.Const.setByteRegionBytes(regionIdx, arrayHeaderWords, data); err != nil {
		return 0, err
	}
	unifiedByteIdx := rt.Bytes.Len() + regionIdx

	pairIdx, err := rt.Const.allocConsPair()
	if err != nil {
		return 0, err
	}
	if err := rt.Const.setConsPair(pairIdx, makeWord(tagArray, Word(unifiedByteIdx)), EncodeSymbol(SymArrayType)); err != nil {
		return 0, err
	}
	return makeWord(tagArray, Word(rt.Cons.Len()+pairIdx)), nil
}
