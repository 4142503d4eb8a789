package lbm

// Cell is a two-word cons cell: Car and Cdr. A cell may be a live
// list/tree node, a boxed-value header (Car = payload, Cdr =
// discriminating symbol), an array descriptor (Car = pointer into
// byte memory or the defrag pool, Cdr = descriptor symbol), or a
// free-list link (Car = cellFreeMarker, Cdr = next-free index).
type Cell struct {
	Car Word
	Cdr Word
}

// cellFreeMarker tags a cell currently on the free list. It is not a
// valid tag any live value can carry, so sweep can tell free cells
// apart from boxed-value headers at a glance.
const cellFreeMarker Word = ^Word(0) ^ 1

const freeListEnd = -1

// ConsHeap is a fixed-capacity array of cells, a free list threaded
// through unused cells, and a one-bit-per-cell mark bitmap. It
// implements I1-I2 of spec.md §3: every live index is reachable or
// free, and mark bits are cleared before each collection.
type ConsHeap struct {
	cells []Cell
	mark  []byte // one bit per cell, bitshift-addressed like the teacher's charset bitmap
	free  int

	allocCount int
	gcCount    int
	recovered  int
	marked     int
}

// NewConsHeap allocates a heap of n cells, all initially free and
// threaded into a single free list.
func NewConsHeap(n int) *ConsHeap {
	h := &ConsHeap{
		cells: make([]Cell, n),
		mark:  make([]byte, (n+7)/8),
	}
	h.resetFreeList()
	return h
}

func (h *ConsHeap) resetFreeList() {
	for i := range h.cells {
		next := i + 1
		if i == len(h.cells)-1 {
			next = freeListEnd
		}
		h.cells[i] = Cell{Car: cellFreeMarker, Cdr: Word(uint64(int64(next)))}
	}
	h.free = 0
	if len(h.cells) == 0 {
		h.free = freeListEnd
	}
}

// Len returns the heap's fixed cell capacity.
func (h *ConsHeap) Len() int { return len(h.cells) }

// Allocate pops the free-list head, writes car/cdr, and returns a
// tagged cons pointer. It returns errOutOfMemory (never a partially
// initialized cell) if the free list is empty.
func (h *ConsHeap) Allocate(car, cdr Word) (Word, error) {
	if h.free == freeListEnd {
		return 0, errOutOfMemory
	}
	idx := h.free
	if next := h.cells[idx].Cdr; next == ^Word(0) {
		h.free = freeListEnd
	} else {
		h.free = int(next)
	}
	h.cells[idx] = Cell{Car: car, Cdr: cdr}
	h.allocCount++
	return EncodeCons(idx), nil
}

// Car returns the car of the cons cell w points at.
func (h *ConsHeap) Car(w Word) Word { return h.cells[ConsIndex(w)].Car }

// Cdr returns the cdr of the cons cell w points at.
func (h *ConsHeap) Cdr(w Word) Word { return h.cells[ConsIndex(w)].Cdr }

// SetCar mutates the car of the cons cell w points at.
func (h *ConsHeap) SetCar(w, v Word) { h.cells[ConsIndex(w)].Car = v }

// SetCdr mutates the cdr of the cons cell w points at.
func (h *ConsHeap) SetCdr(w, v Word) { h.cells[ConsIndex(w)].Cdr = v }

// markBit reports whether cell idx is currently marked.
func (h *ConsHeap) markBit(idx int) bool {
	return h.mark[idx>>3]&(1<<(uint(idx)&7)) != 0
}

func (h *ConsHeap) setMarkBit(idx int) {
	h.mark[idx>>3] |= 1 << (uint(idx) & 7)
}

func (h *ConsHeap) clearMarks() {
	for i := range h.mark {
		h.mark[i] = 0
	}
}

// IsFree reports whether cell idx currently sits on the free list.
func (h *ConsHeap) IsFree(idx int) bool {
	return h.cells[idx].Car == cellFreeMarker
}

// Free returns cell idx to the head of the free list. Used only by
// sweep: every other path into the free list goes through Allocate.
func (h *ConsHeap) Free(idx int) {
	h.cells[idx] = Cell{Car: cellFreeMarker, Cdr: Word(uint64(int64(h.free)))}
	h.free = idx
}

// noteCollection records that a collection ran and recovered cells
// cells, for Stats.
func (h *ConsHeap) noteCollection(recovered int) {
	h.gcCount++
	h.recovered = recovered
}

// Stats returns (allocations served, collections run, cells
// recovered by the most recent collection).
func (h *ConsHeap) Stats() (allocated, collections, lastRecovered int) {
	return h.allocCount, h.gcCount, h.recovered
}
