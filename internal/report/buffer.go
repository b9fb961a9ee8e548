// internal/report/buffer.go
package report

// Buffer is a fixed-capacity FIFO of readings in timestamp order.
// It does not enforce ordering itself; Report.Add does.
type Buffer struct {
	items []Reading
	head  int
	size  int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{items: make([]Reading, capacity)}
}

func (b *Buffer) Len() int   { return b.size }
func (b *Buffer) Cap() int   { return len(b.items) }
func (b *Buffer) Full() bool { return b.size == len(b.items) }

// At returns the i-th oldest reading. It panics when i is out of range.
func (b *Buffer) At(i int) Reading {
	if i < 0 || i >= b.size {
		panic("report: buffer index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

func (b *Buffer) Front() (Reading, bool) {
	if b.size == 0 {
		return Reading{}, false
	}
	return b.items[b.head], true
}

func (b *Buffer) Back() (Reading, bool) {
	if b.size == 0 {
		return Reading{}, false
	}
	return b.At(b.size - 1), true
}

// PushBack appends r. It returns false when the buffer is full.
func (b *Buffer) PushBack(r Reading) bool {
	if b.Full() {
		return false
	}
	b.items[(b.head+b.size)%len(b.items)] = r
	b.size++
	return true
}

func (b *Buffer) PopFront() (Reading, bool) {
	r, ok := b.Front()
	if !ok {
		return r, false
	}
	b.items[b.head] = Reading{}
	b.head = (b.head + 1) % len(b.items)
	b.size--
	return r, true
}

// PruneThrough removes the leading readings with a timestamp <= ts and
// returns how many were removed.
func (b *Buffer) PruneThrough(ts uint32) int {
	n := 0
	for {
		r, ok := b.Front()
		if !ok || r.Timestamp() > ts {
			return n
		}
		b.PopFront()
		n++
	}
}
