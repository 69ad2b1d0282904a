package transport

import (
	"sync"

	"github.com/eapache/queue"
)

// SendPipe carries outbound payloads from the owning goroutine to one
// connection's send pump.
//
// Payloads are copied into pooled messages on Enqueue, so the caller may
// reuse its slice as soon as Enqueue returns. The pump drains everything at
// once and serializes it into a single buffer, turning N sends into one
// write syscall.
type SendPipe struct {
	mu             sync.Mutex
	queue          *queue.Queue // of *message
	pool           *Pool[*message]
	maxMessageSize int
}

// NewSendPipe creates a pipe whose pooled buffers fit maxMessageSize payloads.
func NewSendPipe(maxMessageSize int) *SendPipe {
	return &SendPipe{
		queue:          queue.New(),
		pool:           newMessagePool(),
		maxMessageSize: maxMessageSize,
	}
}

// Count is for statistics and limit checks; it may change right after the call.
func (p *SendPipe) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Length()
}

// PoolCount is the number of free pooled messages.
func (p *SendPipe) PoolCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Count()
}

// Outstanding is the number of pooled messages currently queued.
func (p *SendPipe) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Outstanding()
}

// Enqueue copies payload into the pipe. The size bound is enforced by the
// caller; Enqueue itself always succeeds.
func (p *SendPipe) Enqueue(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := p.pool.Take()
	msg.fill(payload, p.maxMessageSize)
	p.queue.Add(msg)
}

// DequeueAndSerializeAll moves every pending message into *payload as a run
// of [len][bytes] frames and returns the number of bytes used.
//
// *payload is a scratch buffer owned by the pump. It only grows, so its
// length may exceed the returned size; only payload[:n] is valid.
// Returns false when nothing was queued.
func (p *SendPipe) DequeueAndSerializeAll(payload *[]byte) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := p.queue.Length()
	if count == 0 {
		return 0, false
	}

	packetSize := 0
	for i := 0; i < count; i++ {
		packetSize += FrameSize(p.queue.Get(i).(*message).n)
	}

	if len(*payload) < packetSize {
		*payload = make([]byte, packetSize)
	}

	buf := *payload
	position := 0
	for p.queue.Length() > 0 {
		msg := p.queue.Remove().(*message)
		position += PutFrame(buf[position:], msg.bytes())
		msg.reset()
		p.pool.Return(msg)
	}

	return position, true
}

// Clear drops every pending message back into the pool without sending.
// Only the connection's own send pump calls this, after its loop ends.
func (p *SendPipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Length() > 0 {
		msg := p.queue.Remove().(*message)
		msg.reset()
		p.pool.Return(msg)
	}
}
