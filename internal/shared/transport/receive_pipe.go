package transport

import (
	"sync"

	"github.com/eapache/queue"
)

// EventType tags an entry in the ReceivePipe.
type EventType uint8

const (
	EventConnected EventType = iota + 1
	EventData
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a read-only view of the head of a ReceivePipe.
//
// Data aliases a pooled buffer: it is only valid until the next TryDequeue
// and must be copied if kept.
type Event struct {
	ConnectionID int
	Type         EventType
	Data         []byte
}

// ReceivePipe is the inbound event queue between receive pumps and the
// goroutine calling Tick. A server shares one pipe across all of its
// connections; a client owns one per connection attempt.
//
// Any number of pumps may Enqueue concurrently. TryPeek and TryDequeue must
// be called from a single consumer goroutine.
type ReceivePipe struct {
	mu             sync.Mutex
	queue          *queue.Queue // of *message
	pool           *Pool[*message]
	maxMessageSize int

	// Pending events per connection, for the per-connection receive limit.
	// Entries are deleted at zero so short-lived connections don't pile up.
	queueCounter map[int]int
}

// NewReceivePipe creates a pipe whose pooled buffers fit maxMessageSize payloads.
func NewReceivePipe(maxMessageSize int) *ReceivePipe {
	return &ReceivePipe{
		queue:          queue.New(),
		pool:           newMessagePool(),
		maxMessageSize: maxMessageSize,
		queueCounter:   make(map[int]int),
	}
}

// Count is the number of undelivered events for one connection.
func (p *ReceivePipe) Count(connectionID int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueCounter[connectionID]
}

// TotalCount is the number of undelivered events across all connections.
func (p *ReceivePipe) TotalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Length()
}

// PoolCount is the number of free pooled messages.
func (p *ReceivePipe) PoolCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Count()
}

// Outstanding is the number of pooled messages currently queued.
func (p *ReceivePipe) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool.Outstanding()
}

// Enqueue appends an event. For EventData the payload is copied, so the
// caller's read buffer can be reused immediately.
func (p *ReceivePipe) Enqueue(connectionID int, eventType EventType, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msg := p.pool.Take()
	msg.connectionID = connectionID
	msg.eventType = eventType
	if len(data) > 0 {
		msg.fill(data, p.maxMessageSize)
	}
	p.queue.Add(msg)

	p.queueCounter[connectionID]++
}

// TryPeek returns the head event without releasing its buffer.
func (p *ReceivePipe) TryPeek() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Length() == 0 {
		return Event{}, false
	}

	msg := p.queue.Peek().(*message)
	ev := Event{ConnectionID: msg.connectionID, Type: msg.eventType}
	if msg.n > 0 {
		ev.Data = msg.bytes()
	}
	return ev, true
}

// TryDequeue removes the head event and returns its buffer to the pool.
func (p *ReceivePipe) TryDequeue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.queue.Length() == 0 {
		return false
	}

	msg := p.queue.Remove().(*message)
	p.release(msg)
	return true
}

// Clear drops every event. Servers never call this on the shared pipe while
// connections are live: it would discard other connections' events.
func (p *ReceivePipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.queue.Length() > 0 {
		p.release(p.queue.Remove().(*message))
	}
	clear(p.queueCounter)
}

// release must be called with mu held.
func (p *ReceivePipe) release(msg *message) {
	id := msg.connectionID
	if c := p.queueCounter[id]; c <= 1 {
		delete(p.queueCounter, id)
	} else {
		p.queueCounter[id] = c - 1
	}
	msg.reset()
	p.pool.Return(msg)
}
