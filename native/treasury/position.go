package treasury

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/distribution"
	"revledger/native/fixedpoint"
	"revledger/observability"
)

// PositionManager attributes escrow pool allocations to the owner of each
// pool position. The escrow reports cumulative totals per pool; the manager
// credits only the growth since it last looked, after the protocol cut.
type PositionManager struct {
	*base

	tracker   *distribution.AllocationTracker
	poolsMu   sync.Mutex
	pools     map[common.Hash]common.Address
	withdrawn *uint256.Int
}

// NewPositionManager constructs an uninitialised position manager.
func NewPositionManager(id string, deps Deps) *PositionManager {
	return &PositionManager{
		base:      newBase(id, KindPosition, deps),
		tracker:   distribution.NewAllocationTracker(),
		pools:     make(map[common.Hash]common.Address),
		withdrawn: new(uint256.Int),
	}
}

// Initialize validates cfg and registers the configured pools.
func (m *PositionManager) Initialize(owner common.Address, cfg Config) error {
	applyDefaults(&cfg)
	if m.deps.Escrow == nil {
		return ErrEscrowNotConfigured
	}
	policy, err := cfg.policy(false)
	if err != nil {
		return err
	}
	m.mu.Lock()
	err = m.initialize(owner, cfg, policy, owner, nil)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for i, pool := range cfg.Pools {
		poolOwner, err := ParseAddress(pool.Owner)
		if err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
		if err := m.RegisterPool(context.Background(), owner, common.HexToHash(pool.ID), poolOwner); err != nil {
			return fmt.Errorf("pool %d: %w", i, err)
		}
	}
	return nil
}

// RegisterPool starts tracking poolID on behalf of poolOwner. Fees allocated
// before registration are not attributed to poolOwner.
func (m *PositionManager) RegisterPool(ctx context.Context, caller common.Address, poolID common.Hash, poolOwner common.Address) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if poolOwner == (common.Address{}) {
		return distribution.ErrInvalidRecipient
	}
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	if _, exists := m.pools[poolID]; exists {
		return fmt.Errorf("%w: pool %s", distribution.ErrHolderExists, poolID.Hex())
	}
	total, err := m.deps.Escrow.TotalFeesAllocated(ctx, poolID)
	if err != nil {
		return err
	}
	m.tracker.Baseline(distribution.AddressHolder(poolOwner), poolID, total)
	m.pools[poolID] = poolOwner
	return nil
}

// ReassignPool settles the pool's growth to its current owner and attributes
// later growth to next.
func (m *PositionManager) ReassignPool(ctx context.Context, caller common.Address, poolID common.Hash, next common.Address) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return distribution.ErrInvalidRecipient
	}
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	current, ok := m.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, poolID.Hex())
	}
	if caller != current && caller != m.Owner() {
		return fmt.Errorf("%w: pool %s", distribution.ErrNotOwner, poolID.Hex())
	}
	total, err := m.settlePoolLocked(ctx, poolID, current)
	if err != nil {
		return err
	}
	m.tracker.Forget(distribution.AddressHolder(current), poolID)
	m.tracker.Baseline(distribution.AddressHolder(next), poolID, total)
	m.pools[poolID] = next
	return nil
}

// Pools returns the tracked pools and their owners.
func (m *PositionManager) Pools() map[common.Hash]common.Address {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	out := make(map[common.Hash]common.Address, len(m.pools))
	for id, owner := range m.pools {
		out[id] = owner
	}
	return out
}

// Sync withdraws accrued fees and credits every pool's growth to its owner.
// It returns the amount newly attributed to pool owners and the protocol.
func (m *PositionManager) Sync(ctx context.Context) (*uint256.Int, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	address, unwrap := m.address, m.cfg.UnwrapToNative
	m.mu.RUnlock()
	withdrawn, err := m.deps.Escrow.WithdrawFees(ctx, address, unwrap)
	if err != nil {
		return nil, fmt.Errorf("treasury: withdraw fees for %s: %w", m.id, err)
	}
	ctx = context.WithoutCancel(ctx)
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	if withdrawn != nil {
		m.withdrawn.Add(m.withdrawn, withdrawn)
	}
	ids := make([]common.Hash, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	attributed := new(uint256.Int)
	for _, id := range ids {
		before := m.lastSeen(id)
		total, err := m.settlePoolLocked(ctx, id, m.pools[id])
		if err != nil {
			return nil, err
		}
		attributed.Add(attributed, new(uint256.Int).Sub(total, before))
	}
	return attributed, nil
}

// Withdrawn returns the total pulled from escrow by Sync.
func (m *PositionManager) Withdrawn() *uint256.Int {
	m.poolsMu.Lock()
	defer m.poolsMu.Unlock()
	return fixedpoint.Clone(m.withdrawn)
}

// ClaimPosition syncs and pays poolOwner everything credited to it.
func (m *PositionManager) ClaimPosition(ctx context.Context, poolOwner common.Address) (*uint256.Int, error) {
	if _, err := m.Sync(ctx); err != nil {
		return nil, err
	}
	return m.ClaimFixed(ctx, poolOwner)
}

func (m *PositionManager) lastSeen(poolID common.Hash) *uint256.Int {
	v, ok := m.tracker.LastSeen(distribution.AddressHolder(m.pools[poolID]), poolID)
	if !ok {
		return new(uint256.Int)
	}
	return v
}

// settlePoolLocked credits the growth of poolID to owner and returns the
// pool's cumulative total. Callers hold poolsMu.
func (m *PositionManager) settlePoolLocked(ctx context.Context, poolID common.Hash, owner common.Address) (*uint256.Int, error) {
	total, err := m.deps.Escrow.TotalFeesAllocated(ctx, poolID)
	if err != nil {
		return nil, err
	}
	delta, err := m.tracker.Observe(distribution.AddressHolder(owner), poolID, total)
	if err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return total, nil
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	breakdown, err := m.currentPolicy().Apply(delta)
	if err != nil {
		return nil, err
	}
	cuts := make([]distribution.FixedCut, 0, len(breakdown.Cuts)+1)
	for _, cut := range breakdown.Cuts {
		cuts = append(cuts, distribution.FixedCut{Recipient: cut.Share.Recipient, Kind: cut.Share.Kind.String(), Amount: cut.Amount})
	}
	cuts = append(cuts, distribution.FixedCut{Recipient: owner, Kind: "position", Amount: breakdown.Pool})
	if err := m.Source().Apply(ctx, cuts, nil); err != nil {
		// Roll the tracker back so the growth is attributed on the next sync.
		m.tracker.Baseline(distribution.AddressHolder(owner), poolID, new(uint256.Int).Sub(total, delta))
		return nil, err
	}
	observability.Distribution().RecordInflow(m.id, "escrow", m.Source().Asset(), delta)
	return total, nil
}
