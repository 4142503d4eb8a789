package lbm

// DefragPool is a word array holding relocatable byte-array
// records. Each record is three header words — {size in bytes, data
// offset, back-pointer cell index} — followed by padded payload
// words (§3, §4.2). A zero header word marks a hole; allocation
// scans first-fit the way original_source/src/lbm_defrag_mem.c's
// lbm_defrag_mem_alloc does. A failed allocation returns
// errOutOfMemory and sets a "needs compaction" flag, so the next
// allocation compacts the pool first.
type DefragPool struct {
	words           []Word
	needsCompaction bool
}

const defragHeaderWords = 3

// NewDefragPool allocates a pool of n words, entirely free.
func NewDefragPool(n int) *DefragPool {
	return &DefragPool{words: make([]Word, n)}
}

// Len returns the pool's fixed word capacity.
func (p *DefragPool) Len() int { return len(p.words) }

// firstFit scans for a run of allocWords consecutive zero words,
// jumping over live records by their recorded width instead of
// re-scanning word by word.
func (p *DefragPool) firstFit(allocWords int) (int, bool) {
	n := len(p.words)
	i := 0
	for i < n {
		if p.words[i] == 0 {
			start := i
			free := 0
			for i < n && p.words[i] == 0 {
				free++
				i++
				if free >= allocWords {
					return start, true
				}
			}
		} else {
			size := int(p.words[i])
			i += defragHeaderWords + WordsNeeded(size)
		}
	}
	return 0, false
}

// Alloc reserves a record of nbytes, with back-pointer cellIdx, and
// returns the record's offset. If the pool previously failed to
// satisfy an allocation, Defrag runs first. Returns errOutOfMemory
// if no run is found (a failing call does not compact and retry
// itself), and marks the pool for compaction on the next attempt.
func (p *DefragPool) Alloc(heap *ConsHeap, cellIdx int, nbytes int) (int, error) {
	if p.needsCompaction {
		p.Defrag(heap)
		p.needsCompaction = false
	}
	allocWords := defragHeaderWords + WordsNeeded(nbytes)
	off, ok := p.firstFit(allocWords)
	if !ok {
		p.needsCompaction = true
		return -1, errOutOfMemory
	}
	p.words[off] = Word(nbytes)
	p.words[off+1] = Word(off + defragHeaderWords)
	p.words[off+2] = Word(uint64(cellIdx))
	for i := off + defragHeaderWords; i < off+allocWords; i++ {
		p.words[i] = 0
	}
	return off, nil
}

// Free clears the record at off, from its header through its
// payload, so later scans recognize the space as a hole.
func (p *DefragPool) Free(off int) {
	if off < 0 || off >= len(p.words) {
		return
	}
	size := int(p.words[off])
	allocWords := defragHeaderWords + WordsNeeded(size)
	for i := off; i < off+allocWords && i < len(p.words); i++ {
		p.words[i] = 0
	}
}

// Defrag walks live records left-to-right and slides each into the
// lowest unused offset, rewriting its back-pointer cell's car to the
// new address (P2: this must still hold after compaction).
func (p *DefragPool) Defrag(heap *ConsHeap) {
	n := len(p.words)
	hole, i := 0, 0
	for i < n {
		if p.words[i] == 0 {
			i++
			continue
		}
		size := int(p.words[i])
		allocWords := defragHeaderWords + WordsNeeded(size)
		if hole == i {
			i += allocWords
			hole = i
			continue
		}
		copy(p.words[hole:hole+allocWords], p.words[i:i+allocWords])
		for j := hole + allocWords; j < i+allocWords; j++ {
			p.words[j] = 0
		}
		p.words[hole+1] = Word(hole + defragHeaderWords)
		cellIdx := int(p.words[hole+2])
		heap.SetCar(EncodeCons(cellIdx), Word(uint64(hole)))
		i += allocWords
		hole += allocWords
	}
}

// Size returns the byte size recorded in the record at off.
func (p *DefragPool) Size(off int) int { return int(p.words[off]) }

// Data returns the payload words of the record at off.
func (p *DefragPool) Data(off int) []Word {
	size := int(p.words[off])
	return p.words[off+defragHeaderWords : off+defragHeaderWords+WordsNeeded(size)]
}

// Bytes returns the payload of the record at off reinterpreted as a
// byte slice truncated to its recorded size.
func (p *DefragPool) Bytes(off int) []byte {
	size := int(p.words[off])
	out := make([]byte, 0, size)
	for _, w := range p.Data(off) {
		for b := 0; b < int(unsafeWordSize) && len(out) < size; b++ {
			out = append(out, byte(w>>(8*uint(b))))
		}
	}
	return out
}

// WriteBytes packs data into the record at off, little-endian,
// truncated or zero-padded to the record's declared size.
func (p *DefragPool) WriteBytes(off int, data []byte) {
	payload := p.Data(off)
	for w := range payload {
		var word Word
		for b := 0; b < int(unsafeWordSize); b++ {
			pos := w*int(unsafeWordSize) + b
			if pos >= len(data) {
				break
			}
			word |= Word(data[pos]) << (8 * uint(b))
		}
		payload[w] = word
	}
}
