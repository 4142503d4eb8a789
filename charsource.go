package lbm

// CharSource is the tokenizer-facing contract the core demands of
// whatever feeds it source text (§6): the core itself never reads
// characters, only pre-parsed values, but it defines the interface so
// an external reader and the core agree on one shape. Adapted from
// the teacher's MemInput (vm_input.go), generalized from a
// byte/rune-oriented parser input into the five primitives §6 names.
type CharSource interface {
	// More reports whether at least one more byte is available.
	More() bool
	// Peek returns the byte k positions ahead of the cursor without
	// consuming it. ok is false if that position is past the end.
	Peek(k int) (b byte, ok bool)
	// Get consumes and returns the next byte. ok is false at end of
	// input.
	Get() (b byte, ok bool)
	// Drop discards the next k bytes without returning them.
	Drop(k int)
	// Put pushes b back onto the front of the stream, so the next
	// Get or Peek(0) observes it again.
	Put(b byte)
}

// MemSource is a CharSource backed by an in-memory byte slice.
type MemSource struct {
	data []byte
	pos  int
}

// NewMemSource creates a MemSource reading from data.
func NewMemSource(data []byte) *MemSource {
	return &MemSource{data: data}
}

func (m *MemSource) More() bool { return m.pos < len(m.data) }

func (m *MemSource) Peek(k int) (byte, bool) {
	i := m.pos + k
	if i < 0 || i >= len(m.data) {
		return 0, false
	}
	return m.data[i], true
}

func (m *MemSource) Get() (byte, bool) {
	b, ok := m.Peek(0)
	if !ok {
		return 0, false
	}
	m.pos++
	return b, true
}

func (m *MemSource) Drop(k int) {
	m.pos += k
	if m.pos > len(m.data) {
		m.pos = len(m.data)
	}
}

// Put pushes b back in front of the cursor. If the cursor is not
// already positioned just past b (the common case of un-reading the
// byte just Get returned), it splices b into the backing slice so the
// next Get still observes it.
func (m *MemSource) Put(b byte) {
	if m.pos > 0 && m.data[m.pos-1] == b {
		m.pos--
		return
	}
	m.data = append(m.data[:m.pos], append([]byte{b}, m.data[m.pos:]...)...)
}
