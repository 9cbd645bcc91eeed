package distribution

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAllocationTrackerDeltas(t *testing.T) {
	tracker := NewAllocationTracker()
	owner := AddressHolder(common.HexToAddress("0x00000000000000000000000000000000000000a1"))
	pool := common.HexToHash("0x01")

	delta, err := tracker.Observe(owner, pool, u(100))
	if err != nil || delta.Uint64() != 100 {
		t.Fatalf("first observe: %v %v", delta, err)
	}
	delta, err = tracker.Observe(owner, pool, u(130))
	if err != nil || delta.Uint64() != 30 {
		t.Fatalf("second observe: %v %v", delta, err)
	}
	delta, err = tracker.Observe(owner, pool, u(130))
	if err != nil || !delta.IsZero() {
		t.Fatalf("repeat observe should be zero: %v %v", delta, err)
	}
	if _, err := tracker.Observe(owner, pool, u(129)); !errors.Is(err, ErrAllocationRegressed) {
		t.Fatalf("expected ErrAllocationRegressed, got %v", err)
	}
	last, ok := tracker.LastSeen(owner, pool)
	if !ok || last.Uint64() != 130 {
		t.Fatalf("regression must not update cache: %v", last)
	}
}

func TestAllocationTrackerBaseline(t *testing.T) {
	tracker := NewAllocationTracker()
	next := AddressHolder(common.HexToAddress("0x00000000000000000000000000000000000000b2"))
	pool := common.HexToHash("0x02")
	tracker.Baseline(next, pool, u(500))
	delta, err := tracker.Observe(next, pool, u(520))
	if err != nil || delta.Uint64() != 20 {
		t.Fatalf("observe after baseline: %v %v", delta, err)
	}
	tracker.Forget(next, pool)
	if _, ok := tracker.LastSeen(next, pool); ok {
		t.Fatalf("forget did not drop entry")
	}
	if len(tracker.Entries()) != 0 {
		t.Fatalf("expected no entries")
	}
}
