package transport

import "sync"

// Registry tracks live connections by id so the dispatcher can push
// unsolicited frames (pubsub fan-out) to a connection it didn't originate
// the request on. It implements dispatch.Pusher.
type Registry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewRegistry creates an empty connection registry. Construct it before the
// Dispatcher and the Server, and wire the same instance into both: the
// dispatcher pushes through it, the server registers/unregisters connections
// in it.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint64]*Connection)}
}

func (r *Registry) add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Push implements dispatch.Pusher: it delivers frame to connID's send queue,
// silently dropping it if the connection is gone or its queue is full.
func (r *Registry) Push(connID uint64, frame []byte) {
	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	c.Push(frame)
}

// Count returns the number of currently tracked connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
