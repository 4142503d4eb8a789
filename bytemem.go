package lbm

// byteWordState is one of the four states a word-addressed byte
// memory slot can be in, packed two bits per word the way the
// teacher's charset packs one bit per code point (vm_charset.go).
type byteWordState byte

const (
	bmFree byteWordState = iota
	bmStart
	bmMiddle
	bmEnd
)

// ByteMemory is a word-addressed arena backing variable-sized byte
// arrays and symbol names (§4.2). Allocation searches for a free run
// and marks its boundaries; free clears start-through-end.
type ByteMemory struct {
	words []Word
	state []byte // 2 bits per word slot
}

// NewByteMemory allocates an arena of n words, all initially free.
func NewByteMemory(n int) *ByteMemory {
	return &ByteMemory{
		words: make([]Word, n),
		state: make([]byte, (n*2+7)/8),
	}
}

// Len returns the arena's fixed word capacity.
func (m *ByteMemory) Len() int { return len(m.words) }

func (m *ByteMemory) getState(i int) byteWordState {
	shift := uint((i & 3) * 2)
	return byteWordState((m.state[i/4] >> shift) & 0x3)
}

func (m *ByteMemory) setState(i int, s byteWordState) {
	shift := uint((i & 3) * 2)
	m.state[i/4] = (m.state[i/4] &^ (0x3 << shift)) | (byte(s) << shift)
}

// Allocate reserves a contiguous run of n words and returns the
// index of the first. It returns errOutOfMemory if no run of that
// length is free.
func (m *ByteMemory) Allocate(n int) (int, error) {
	if n <= 0 {
		n = 1
	}
	run, start := 0, -1
	for i := 0; i < len(m.words); i++ {
		if m.getState(i) == bmFree {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				m.setState(start, bmStart)
				for j := start + 1; j < start+n-1; j++ {
					m.setState(j, bmMiddle)
				}
				if n > 1 {
					m.setState(start+n-1, bmEnd)
				}
				return start, nil
			}
		} else {
			run = 0
		}
	}
	return 0, errOutOfMemory
}

// Free releases the allocation beginning at idx, clearing every word
// from its start marker through its end marker inclusive.
func (m *ByteMemory) Free(idx int) {
	if m.getState(idx) != bmStart {
		return
	}
	m.setState(idx, bmFree)
	m.words[idx] = 0
	i := idx + 1
	for i < len(m.words) && m.getState(i) == bmMiddle {
		m.setState(i, bmFree)
		m.words[i] = 0
		i++
	}
	if i < len(m.words) && m.getState(i) == bmEnd {
		m.setState(i, bmFree)
		m.words[i] = 0
	}
}

// Read returns the word at byte-memory index idx.
func (m *ByteMemory) Read(idx int) Word { return m.words[idx] }

// Write sets the word at byte-memory index idx.
func (m *ByteMemory) Write(idx int, v Word) { m.words[idx] = v }

// Bytes reinterprets the n words starting at idx as a byte slice,
// truncated to nbytes. Used to implement string/byte-array values.
func (m *ByteMemory) Bytes(idx, nbytes int) []byte {
	nwords := (nbytes + int(unsafeWordSize) - 1) / int(unsafeWordSize)
	out := make([]byte, 0, nbytes)
	for w := 0; w < nwords; w++ {
		word := m.words[idx+w]
		for b := 0; b < int(unsafeWordSize) && len(out) < nbytes; b++ {
			out = append(out, byte(word>>(8*uint(b))))
		}
	}
	return out
}

// WriteBytes packs data into the nwords starting at idx, little-endian.
func (m *ByteMemory) WriteBytes(idx int, data []byte) {
	for w := 0; w*int(unsafeWordSize) < len(data); w++ {
		var word Word
		for b := 0; b < int(unsafeWordSize); b++ {
			pos := w*int(unsafeWordSize) + b
			if pos >= len(data) {
				break
			}
			word |= Word(data[pos]) << (8 * uint(b))
		}
		m.words[idx+w] = word
	}
}

const unsafeWordSize = wordBits / 8

// WordsNeeded returns how many words are needed to hold nbytes.
func WordsNeeded(nbytes int) int {
	return (nbytes + int(unsafeWordSize) - 1) / int(unsafeWordSize)
}
