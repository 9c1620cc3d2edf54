// Package correlate allocates request ids and matches responses to waiting
// callers.
package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/quantfold/gatewire/errs"
)

// Pending tracks one outstanding request awaiting its terminal response.
type Pending struct {
	Kind      string
	Submitted time.Time

	done    chan struct{}
	once    sync.Once
	payload any
	err     error
}

func (p *Pending) resolve(payload any, err error) {
	p.once.Do(func() {
		p.payload = payload
		p.err = err
		close(p.done)
	})
}

// Correlator owns the request id space for one client instance. Ids are
// strictly increasing for the client's lifetime and are never reused, even
// across reconnects; a server-issued "next valid id" only raises the floor.
type Correlator struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*Pending
}

// New constructs a correlator starting at id 1 until the server raises the floor.
func New() *Correlator {
	return &Correlator{
		nextID:  1,
		pending: make(map[int64]*Pending),
	}
}

// SetFloor honours a server-issued next-valid-id as the new allocation floor.
// The floor never lowers: a reconnect that hands out a smaller id is ignored
// so ids stay unique across the client's lifetime.
func (c *Correlator) SetFloor(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id > c.nextID {
		c.nextID = id
	}
}

// NextID allocates the next request id without registering a pending request,
// used for streaming subscriptions that have no single terminal response.
func (c *Correlator) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

// Allocate returns the next request id and registers a pending request of the
// given kind.
func (c *Correlator) Allocate(kind string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.pending[id] = &Pending{
		Kind:      kind,
		Submitted: time.Now(),
		done:      make(chan struct{}),
	}
	return id
}

// Register tracks an externally allocated id (e.g. an order id used as the
// correlation key) as pending.
func (c *Correlator) Register(id int64, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return
	}
	c.pending[id] = &Pending{
		Kind:      kind,
		Submitted: time.Now(),
		done:      make(chan struct{}),
	}
}

// Resolve transitions the pending request to success and wakes its waiter.
// It reports whether a pending request existed for the id.
func (c *Correlator) Resolve(id int64, payload any) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve(payload, nil)
	return true
}

// Fail transitions the pending request to failure and wakes its waiter.
func (c *Correlator) Fail(id int64, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve(nil, err)
	return true
}

// FailAll fails every still-pending request, used when the connection drops.
// Each waiter observes the error exactly once.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	drained := make([]*Pending, 0, len(c.pending))
	for id, p := range c.pending {
		drained = append(drained, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	for _, p := range drained {
		p.resolve(nil, err)
	}
}

// PendingCount reports the number of unresolved requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Await blocks the calling context until the request resolves or the timeout
// elapses. On timeout the request stays registered — the server may still
// respond late, in which case the result is observable only via the event
// bus, never re-delivered to the timed-out waiter.
func (c *Correlator) Await(ctx context.Context, id int64, timeout time.Duration) (any, error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return nil, errs.New("correlate/await", errs.CodeInvalid,
			errs.WithReqID(id), errs.WithMessage("no pending request for id"))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.payload, p.err
	case <-timer.C:
		return nil, errs.New("correlate/await", errs.CodeRequestTimeout,
			errs.WithReqID(id), errs.WithMessage(p.Kind+" timed out"))
	case <-ctx.Done():
		return nil, errs.New("correlate/await", errs.CodeRequestTimeout,
			errs.WithReqID(id), errs.WithCause(ctx.Err()))
	}
}
