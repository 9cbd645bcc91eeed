package distribution

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/fixedpoint"
)

// AllocationTracker turns cumulative per-pool allocation counters reported by
// an external escrow into deltas, remembering the last total seen for each
// (holder, pool) pair.
type AllocationTracker struct {
	mu       sync.Mutex
	lastSeen map[allocationKey]*uint256.Int
}

type allocationKey struct {
	holder HolderID
	pool   common.Hash
}

// Allocation is a persisted tracker entry.
type Allocation struct {
	Holder   HolderID     `json:"holder"`
	Pool     common.Hash  `json:"pool"`
	LastSeen *uint256.Int `json:"lastSeen"`
}

// NewAllocationTracker constructs an empty tracker.
func NewAllocationTracker() *AllocationTracker {
	return &AllocationTracker{lastSeen: make(map[allocationKey]*uint256.Int)}
}

// Observe returns newTotal minus the last total seen for the pair and caches
// newTotal. The first observation of an unknown pair yields the full total.
func (t *AllocationTracker) Observe(holder HolderID, pool common.Hash, newTotal *uint256.Int) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := allocationKey{holder: holder, pool: pool}
	last := fixedpoint.Clone(t.lastSeen[key])
	delta, err := fixedpoint.Sub(newTotal, last)
	if err != nil {
		return nil, fmt.Errorf("%w: pool %s reported %s after %s", ErrAllocationRegressed, pool.Hex(), fixedpoint.Format(newTotal), last.Dec())
	}
	t.lastSeen[key] = fixedpoint.Clone(newTotal)
	return delta, nil
}

// Baseline records total as already accounted for, so only later growth is
// attributed to holder.
func (t *AllocationTracker) Baseline(holder HolderID, pool common.Hash, total *uint256.Int) {
	t.mu.Lock()
	t.lastSeen[allocationKey{holder: holder, pool: pool}] = fixedpoint.Clone(total)
	t.mu.Unlock()
}

// Forget drops the cached total for the pair.
func (t *AllocationTracker) Forget(holder HolderID, pool common.Hash) {
	t.mu.Lock()
	delete(t.lastSeen, allocationKey{holder: holder, pool: pool})
	t.mu.Unlock()
}

// LastSeen returns the cached total for the pair.
func (t *AllocationTracker) LastSeen(holder HolderID, pool common.Hash) (*uint256.Int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.lastSeen[allocationKey{holder: holder, pool: pool}]
	if !ok {
		return nil, false
	}
	return fixedpoint.Clone(v), true
}

// Entries returns every cached total.
func (t *AllocationTracker) Entries() []Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Allocation, 0, len(t.lastSeen))
	for key, v := range t.lastSeen {
		out = append(out, Allocation{Holder: key.holder, Pool: key.pool, LastSeen: fixedpoint.Clone(v)})
	}
	return out
}
