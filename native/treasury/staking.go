package treasury

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/distribution"
	"revledger/native/splitter"
)

// StakingManager distributes revenue to stakers by staked amount after the
// protocol and creator cuts. Revenue arriving while nothing is staked goes to
// the creator.
type StakingManager struct {
	*base
}

// NewStakingManager constructs an uninitialised staking manager.
func NewStakingManager(id string, deps Deps) *StakingManager {
	return &StakingManager{base: newBase(id, KindStaking, deps)}
}

// Initialize validates cfg and opens the staking source.
func (m *StakingManager) Initialize(owner common.Address, cfg Config) error {
	applyDefaults(&cfg)
	policy, err := cfg.policy(true)
	if err != nil {
		return err
	}
	creator, err := ParseAddress(cfg.Creator.Recipient)
	if err != nil {
		return err
	}
	if creator == (common.Address{}) {
		return splitter.ErrInvalidCreatorAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialize(owner, cfg, policy, creator, nil)
}

// Creator returns the current creator recipient.
func (m *StakingManager) Creator() common.Address {
	for _, share := range m.currentPolicy().Cuts {
		if share.Kind == splitter.KindCreator {
			return share.Recipient
		}
	}
	return common.Address{}
}

// SetCreator replaces the creator recipient. Revenue already owed to the
// previous creator stays claimable by it.
func (m *StakingManager) SetCreator(caller, creator common.Address) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if creator == (common.Address{}) {
		return splitter.ErrInvalidCreatorAddress
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if err := m.Source().SetFallback(creator); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cuts := append([]splitter.Share(nil), m.policy.Cuts...)
	for i := range cuts {
		if cuts[i].Kind == splitter.KindCreator {
			cuts[i].Recipient = creator
		}
	}
	m.policy = splitter.Policy{MaxPercent: m.policy.MaxPercent, Cuts: cuts}
	m.cfg.Creator.Recipient = creator.Hex()
	return nil
}

// Stake adds amount to the staker's position and restarts its timelock.
func (m *StakingManager) Stake(staker common.Address, amount *uint256.Int) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	if staker == (common.Address{}) {
		return distribution.ErrInvalidRecipient
	}
	m.mu.RLock()
	lockedUntil := m.deps.Now().Add(m.cfg.MinStakeDuration.Duration).Unix()
	if m.cfg.MinStakeDuration.Duration == 0 {
		lockedUntil = 0
	}
	m.mu.RUnlock()
	return m.Source().AddWeight(distribution.AddressHolder(staker), amount, lockedUntil)
}

// Unstake removes amount from the staker's position once its timelock has
// passed.
func (m *StakingManager) Unstake(staker common.Address, amount *uint256.Int) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	return m.Source().DecreaseWeight(distribution.AddressHolder(staker), amount)
}

// TransferStake moves the sender's whole position, including accrued revenue,
// to the receiver.
func (m *StakingManager) TransferStake(from, to common.Address) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return distribution.ErrInvalidRecipient
	}
	return m.Source().Transfer(distribution.AddressHolder(from), distribution.AddressHolder(to))
}

// StakeOf returns the staked amount of staker.
func (m *StakingManager) StakeOf(staker common.Address) (*uint256.Int, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	h, ok := m.Source().Holder(distribution.AddressHolder(staker))
	if !ok {
		return new(uint256.Int), nil
	}
	return h.Weight, nil
}

// Claim pays the staker's accrued revenue to itself.
func (m *StakingManager) Claim(ctx context.Context, staker common.Address) (*uint256.Int, error) {
	amount, err := m.claimHolder(ctx, distribution.AddressHolder(staker), staker)
	if err != nil {
		return nil, fmt.Errorf("treasury: claim for %s: %w", staker.Hex(), err)
	}
	return amount, nil
}
