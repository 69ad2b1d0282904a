package transport

// Pool is a free list that hands out reused instances and falls back to the
// factory when empty. It is NOT safe for concurrent use: every pool in this
// package is owned by a pipe and only touched under the pipe's mutex.
type Pool[T any] struct {
	objects     []T
	newFn       func() T
	outstanding int
}

// NewPool creates a pool that calls newFn whenever it runs dry.
func NewPool[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{newFn: newFn}
}

// Take pops a free instance or creates a new one.
func (p *Pool[T]) Take() T {
	p.outstanding++
	if n := len(p.objects); n > 0 {
		obj := p.objects[n-1]
		var zero T
		p.objects[n-1] = zero
		p.objects = p.objects[:n-1]
		return obj
	}
	return p.newFn()
}

// Return hands an instance back for reuse. Returning the same instance
// twice corrupts the pool; callers own that invariant.
func (p *Pool[T]) Return(obj T) {
	p.outstanding--
	p.objects = append(p.objects, obj)
}

// Count is the number of free instances.
func (p *Pool[T]) Count() int {
	return len(p.objects)
}

// Outstanding is the number of instances taken and not yet returned.
func (p *Pool[T]) Outstanding() int {
	return p.outstanding
}

// Clear drops every free instance.
func (p *Pool[T]) Clear() {
	clear(p.objects)
	p.objects = p.objects[:0]
}

// message is the pooled unit shared by both pipes. buf is sized for a full
// frame (header + MaxMessageSize) and allocated on first data use, so
// Connected/Disconnected events never pay for it.
type message struct {
	connectionID int
	eventType    EventType
	buf          []byte
	n            int
}

func newMessagePool() *Pool[*message] {
	return NewPool(func() *message { return &message{} })
}

// fill copies data into the message, allocating its fixed-size buffer on
// first use. data must not exceed maxMessageSize.
func (m *message) fill(data []byte, maxMessageSize int) {
	if m.buf == nil {
		m.buf = make([]byte, HeaderSize+maxMessageSize)
	}
	m.n = copy(m.buf, data)
}

func (m *message) bytes() []byte {
	return m.buf[:m.n]
}

func (m *message) reset() {
	m.connectionID = 0
	m.eventType = 0
	m.n = 0
}
