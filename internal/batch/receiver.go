package batch

import (
	"sync"

	"github.com/klauern/rowsync/internal/syncerr"
)

// Receiver enforces in-order consumption of parts. Parts that arrive early
// are buffered until every lower index has been consumed; parts below the
// expected index were already consumed and are ignored.
type Receiver struct {
	mu       sync.Mutex
	expected int
	count    int
	pending  map[int]*Part
}

// NewReceiver creates a receiver expecting index 0 first.
func NewReceiver() *Receiver {
	return &Receiver{count: -1, pending: make(map[int]*Part)}
}

// Accept offers a part announced as one of count parts. It returns the parts
// that are now ready to apply, in index order.
func (r *Receiver) Accept(p *Part, count int) ([]*Part, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	const op = "receive_batch"
	if p == nil {
		return nil, syncerr.New(syncerr.KindProtocol, op, "missing batch part")
	}
	if count <= 0 {
		return nil, syncerr.Newf(syncerr.KindProtocol, op, "invalid batch count %d", count)
	}
	if r.count >= 0 && r.count != count {
		return nil, syncerr.Newf(syncerr.KindProtocol, op, "batch count changed from %d to %d", r.count, count)
	}
	if p.Index < 0 || p.Index >= count {
		return nil, syncerr.Newf(syncerr.KindProtocol, op, "batch index %d out of range [0,%d)", p.Index, count)
	}
	if p.IsLast != (p.Index == count-1) {
		return nil, syncerr.Newf(syncerr.KindProtocol, op, "batch %d of %d has IsLast=%t", p.Index, count, p.IsLast)
	}
	r.count = count

	if p.Index < r.expected {
		return nil, nil
	}
	r.pending[p.Index] = p

	var ready []*Part
	for {
		next, ok := r.pending[r.expected]
		if !ok {
			break
		}
		delete(r.pending, r.expected)
		ready = append(ready, next)
		r.expected++
	}
	return ready, nil
}

// Expected returns the next index the receiver will release.
func (r *Receiver) Expected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected
}

// Count returns the announced part count, or -1 before the first part.
func (r *Receiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Complete reports whether every announced part has been released.
func (r *Receiver) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count > 0 && r.expected == r.count
}
