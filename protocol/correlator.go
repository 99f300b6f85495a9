package protocol

import (
	"errors"
	"sync"
	"time"

	"github.com/babylon-markets/a2a/types"
)

// Errors delivered to callers waiting on a pending request.
var (
	ErrTimeout      = errors.New("protocol: request timed out")
	ErrDisconnected = errors.New("protocol: connection closed before response")
)

// DefaultRequestTimeout bounds how long a pending request waits for its
// response before the caller is failed locally.
const DefaultRequestTimeout = 30 * time.Second

// Result is delivered exactly once per tracked request: either a matched
// response or a local failure (timeout, disconnect).
type Result struct {
	Response *types.Response
	Err      error
}

type pendingRequest struct {
	ch    chan Result
	timer *time.Timer
}

// Correlator assigns per-connection request ids and matches responses back
// to their callers. Every tracked entry leaves the table exactly once: by a
// matching response, by its deadline, or by FailAll on disconnect.
type Correlator struct {
	mu      sync.Mutex
	nextID  uint64
	timeout time.Duration
	pending map[uint64]*pendingRequest
}

// NewCorrelator creates a correlator; timeout <= 0 uses the default.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		timeout: timeout,
		pending: make(map[uint64]*pendingRequest),
	}
}

// Track assigns the next request id and registers a pending entry with a
// deadline. The returned channel receives exactly one Result.
func (c *Correlator) Track() (uint64, <-chan Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	entry := &pendingRequest{ch: make(chan Result, 1)}
	entry.timer = time.AfterFunc(c.timeout, func() { c.expire(id) })
	c.pending[id] = entry
	return id, entry.ch
}

// Resolve delivers a response to its pending entry and removes it. It
// reports false when no entry matched, which is how late responses for
// already-timed-out requests get discarded.
func (c *Correlator) Resolve(resp *types.Response) bool {
	c.mu.Lock()
	entry, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	entry.ch <- Result{Response: resp}
	return true
}

// FailAll rejects every pending request with err and empties the table.
// Called synchronously on disconnect so callers are not left to time out.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[uint64]*pendingRequest)
	c.mu.Unlock()

	for _, entry := range drained {
		entry.timer.Stop()
		entry.ch <- Result{Err: err}
	}
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id uint64) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if ok {
		entry.ch <- Result{Err: ErrTimeout}
	}
}
