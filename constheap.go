package lbm

// ConstHeap is the write-once word array of §4.3: once a slot holds
// a value, writing the same value again is a no-op and writing a
// different value is an error (I5, P3). It backs flash-resident
// constants and, on an embedded target, may be a flash page instead
// of RAM; here it is always RAM, mirroring the "RAM emulation" option
// spec.md §2 calls out for the constant heap.
//
// Lifting a structure copies it word-by-word into this array. Two
// higher-level views are layered on top of the raw word array so
// that cons cells and byte payloads can be reconstructed:
// constant cons-cell pairs and constant byte regions. Neither
// partitions the array up front; both bump-allocate from the same
// append-only cursor, append-only exactly like the teacher's
// Bytecode.Encode walks a program once and only ever appends
// (vm_encoder.go).
type ConstHeap struct {
	words []Word
	next  int

	consOffsets []int // constant cons-pair index -> raw word offset
	byteOffsets []int // constant byte-region index -> raw word offset
}

// NewConstHeap allocates a constant heap of n words, all unwritten.
func NewConstHeap(n int) *ConstHeap {
	w := make([]Word, n)
	for i := range w {
		w[i] = sentinelUnset
	}
	return &ConstHeap{words: w}
}

// Len returns the raw word capacity.
func (c *ConstHeap) Len() int { return len(c.words) }

// Write implements const_heap_write: idempotent on a matching value,
// an error on a conflicting one or an out-of-range index.
func (c *ConstHeap) Write(idx int, v Word) error {
	if idx < 0 || idx >= len(c.words) {
		return newError(SymErrFatal, "constant heap index %d out of range", idx)
	}
	cur := c.words[idx]
	if cur == sentinelUnset {
		c.words[idx] = v
		return nil
	}
	if cur == v {
		return nil
	}
	return newError(SymErrFatal, "constant heap index %d already holds a different value", idx)
}

// Read returns the word at idx and whether it has been written.
func (c *ConstHeap) Read(idx int) (Word, bool) {
	if idx < 0 || idx >= len(c.words) {
		return 0, false
	}
	w := c.words[idx]
	return w, w != sentinelUnset
}

// allocConsPair bump-allocates two fresh words for a lifted cons
// cell and returns its constant cons-pair index.
func (c *ConstHeap) allocConsPair() (int, error) {
	if c.next+2 > len(c.words) {
		return -1, errOutOfMemory
	}
	off := c.next
	c.next += 2
	idx := len(c.consOffsets)
	c.consOffsets = append(c.consOffsets, off)
	return idx, nil
}

func (c *ConstHeap) setConsPair(pairIdx int, car, cdr Word) error {
	off := c.consOffsets[pairIdx]
	if err := c.Write(off, car); err != nil {
		return err
	}
	return c.Write(off+1, cdr)
}

// ConsPairCar and ConsPairCdr read a previously-lifted cons pair.
func (c *ConstHeap) ConsPairCar(pairIdx int) Word { return c.words[c.consOffsets[pairIdx]] }
func (c *ConstHeap) ConsPairCdr(pairIdx int) Word { return c.words[c.consOffsets[pairIdx]+1] }

// allocByteRegion bump-allocates nwords fresh words for a lifted
// byte array or boxed-number payload and returns its constant
// byte-region index.
func (c *ConstHeap) allocByteRegion(nwords int) (int, error) {
	if nwords <= 0 {
		nwords = 1
	}
	if c.next+nwords > len(c.words) {
		return -1, errOutOfMemory
	}
	off := c.next
	c.next += nwords
	idx := len(c.byteOffsets)
	c.byteOffsets = append(c.byteOffsets, off)
	return idx, nil
}

func (c *ConstHeap) setByteWord(byteIdx, word int, v Word) error {
	return c.Write(c.byteOffsets[byteIdx]+word, v)
}

func (c *ConstHeap) byteWord(byteIdx, word int) Word {
	return c.words[c.byteOffsets[byteIdx]+word]
}

func (c *ConstHeap) byteRegionLen(byteIdx int) int {
	if byteIdx == len(c.byteOffsets)-1 {
		return c.next - c.byteOffsets[byteIdx]
	}
	return c.byteOffsets[byteIdx+1] - c.byteOffsets[byteIdx]
}

// byteRegionBytes reinterprets wordOffset words into a lifted byte
// region as a byte slice, truncated to nbytes — the constant-heap
// analogue of ByteMemory.Bytes. wordOffset lets a region carry a
// small header (e.g. an array's length word) ahead of its payload.
func (c *ConstHeap) byteRegionBytes(byteIdx, wordOffset, nbytes int) []byte {
	nwords := WordsNeeded(nbytes)
	out := make([]byte, 0, nbytes)
	for w := 0; w < nwords; w++ {
		word := c.byteWord(byteIdx, wordOffset+w)
		for b := 0; b < int(unsafeWordSize) && len(out) < nbytes; b++ {
			out = append(out, byte(word>>(8*uint(b))))
		}
	}
	return out
}

// setByteRegionBytes packs data into a previously allocated byte
// region starting at wordOffset, little-endian — the constant-heap
// analogue of ByteMemory.WriteBytes.
func (c *ConstHeap) setByteRegionBytes(byteIdx, wordOffset int, data []byte) error {
	nwords := WordsNeeded(len(data))
	for w := 0; w < nwords; w++ {
		var word Word
		for b := 0; b < int(unsafeWordSize); b++ {
			pos := w*int(unsafeWordSize) + b
			if pos >= len(data) {
				break
			}
			word |= Word(data[pos]) << (8 * uint(b))
		}
		if err := c.setByteWord(byteIdx, wordOffset+w, word); err != nil {
			return err
		}
	}
	return nil
}
