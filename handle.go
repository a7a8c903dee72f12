package cvs

import "sync"

// Handle is an opaque reference to a result buffer handed across a call
// boundary. The zero Handle is never issued.
type Handle uint64

type registry struct {
	mu   sync.Mutex
	next Handle
	live map[Handle]*Candidates
}

// Export keeps c alive under a new handle until ReleaseHandle is called.
func (e *Engine) Export(c *Candidates) Handle {
	r := &e.handles
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = make(map[Handle]*Candidates)
	}
	r.next++
	r.live[r.next] = c
	return r.next
}

func (e *Engine) Lookup(h Handle) (*Candidates, error) {
	r := &e.handles
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live[h]
	if !ok {
		return nil, invalidArg("handle", "%d is not a live result buffer", uint64(h))
	}
	return c, nil
}

// ReleaseHandle releases the buffer behind h. Releasing an unknown or
// already released handle is an InvalidArgument error.
func (e *Engine) ReleaseHandle(h Handle) error {
	r := &e.handles
	r.mu.Lock()
	c, ok := r.live[h]
	delete(r.live, h)
	r.mu.Unlock()
	if !ok {
		return invalidArg("handle", "%d is not a live result buffer", uint64(h))
	}
	return c.Release()
}

// Live is the number of exported buffers not yet released.
func (e *Engine) Live() int {
	r := &e.handles
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
