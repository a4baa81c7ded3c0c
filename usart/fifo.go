package usart

// fifo is a bounded byte queue backed by a ring buffer. It is not safe for
// concurrent use; all access happens under the Usart lock.
type fifo struct {
	buf  []byte
	head int
	n    int
}

func newFifo(capacity int) *fifo {
	return &fifo{buf: make([]byte, capacity)}
}

// push appends b and reports whether there was room for it.
func (f *fifo) push(b byte) bool {
	if f.n == len(f.buf) {
		return false
	}
	f.buf[(f.head+f.n)%len(f.buf)] = b
	f.n++
	return true
}

// pop removes and returns the oldest byte.
func (f *fifo) pop() (byte, bool) {
	if f.n == 0 {
		return 0, false
	}
	b := f.buf[f.head]
	f.head = (f.head + 1) % len(f.buf)
	f.n--
	return b, true
}

// peek returns the oldest byte without removing it.
func (f *fifo) peek() (byte, bool) {
	if f.n == 0 {
		return 0, false
	}
	return f.buf[f.head], true
}

func (f *fifo) len() int { return f.n }

func (f *fifo) free() int { return len(f.buf) - f.n }

func (f *fifo) reset() {
	f.head = 0
	f.n = 0
}
