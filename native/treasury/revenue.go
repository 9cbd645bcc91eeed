package treasury

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/distribution"
	"revledger/native/splitter"
)

// RevenueManager splits revenue between the protocol cut and a table of fixed
// recipients whose percentages sum to the configured scale. A table with a
// single row behaves as a single-recipient manager.
type RevenueManager struct {
	*base
	table []splitter.Allocation
}

// NewRevenueManager constructs an uninitialised revenue manager.
func NewRevenueManager(id string, deps Deps) *RevenueManager {
	return &RevenueManager{base: newBase(id, KindRevenue, deps)}
}

// Initialize validates cfg and registers the recipient table.
func (m *RevenueManager) Initialize(owner common.Address, cfg Config) error {
	applyDefaults(&cfg)
	policy, err := cfg.policy(false)
	if err != nil {
		return err
	}
	table, err := cfg.table()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	register := func(source *distribution.Source) error {
		if err := source.SetWeights(tableWeights(nil, table)); err != nil {
			return fmt.Errorf("treasury: register recipients: %w", err)
		}
		return nil
	}
	if err := m.initialize(owner, cfg, policy, owner, register); err != nil {
		return err
	}
	m.table = table
	return nil
}

// Recipients returns the current share table.
func (m *RevenueManager) Recipients() []splitter.Allocation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]splitter.Allocation(nil), m.table...)
}

// UpdateShares replaces the recipient table. Every recipient is settled at the
// old percentages before the new ones take effect; removed recipients keep
// what they accrued.
func (m *RevenueManager) UpdateShares(caller common.Address, rows []splitter.Allocation) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	m.mu.RLock()
	denom := m.cfg.MaxPercent
	previous := append([]splitter.Allocation(nil), m.table...)
	source := m.source
	m.mu.RUnlock()
	if err := splitter.ValidateTable(rows, denom); err != nil {
		return err
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := source.SetWeights(tableWeights(previous, rows)); err != nil {
		return err
	}
	m.mu.Lock()
	m.table = append([]splitter.Allocation(nil), rows...)
	m.mu.Unlock()
	return nil
}

// Claim pays recipient its accrued share.
func (m *RevenueManager) Claim(ctx context.Context, recipient common.Address) (*uint256.Int, error) {
	return m.claimHolder(ctx, distribution.AddressHolder(recipient), recipient)
}

// ClaimAll pays every current recipient. Legs fail independently.
func (m *RevenueManager) ClaimAll(ctx context.Context) ([]distribution.LegResult, error) {
	rows := m.Recipients()
	legs := make([]distribution.ClaimLeg, 0, len(rows))
	for _, row := range rows {
		legs = append(legs, distribution.ClaimLeg{Holder: distribution.AddressHolder(row.Recipient), Recipient: row.Recipient})
	}
	return m.claimBatch(ctx, legs)
}

// tableWeights maps the rows of next to holder weights and zeroes every row of
// previous that next drops.
func tableWeights(previous, next []splitter.Allocation) map[distribution.HolderID]*uint256.Int {
	weights := make(map[distribution.HolderID]*uint256.Int, len(previous)+len(next))
	for _, row := range previous {
		weights[distribution.AddressHolder(row.Recipient)] = new(uint256.Int)
	}
	for _, row := range next {
		weights[distribution.AddressHolder(row.Recipient)] = uint256.NewInt(row.Percent)
	}
	return weights
}
