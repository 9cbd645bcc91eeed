package treasury

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/distribution"
)

// OwnerManager distributes revenue across ERC721 tokens. Accrual belongs to
// the token, so an ownership transfer moves the unclaimed balance with it.
type OwnerManager struct {
	*base

	tokensMu sync.RWMutex
	tokens   map[distribution.HolderID]common.Address
}

// NewOwnerManager constructs an uninitialised owner manager.
func NewOwnerManager(id string, deps Deps) *OwnerManager {
	return &OwnerManager{
		base:   newBase(id, KindOwner, deps),
		tokens: make(map[distribution.HolderID]common.Address),
	}
}

// Initialize validates cfg. Revenue received while no token exists goes to
// the configured fallback, or to the owner when none is set.
func (m *OwnerManager) Initialize(owner common.Address, cfg Config) error {
	applyDefaults(&cfg)
	policy, err := cfg.policy(true)
	if err != nil {
		return err
	}
	fallback, err := ParseAddress(cfg.Fallback)
	if err != nil {
		return err
	}
	if fallback == (common.Address{}) {
		fallback = owner
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialize(owner, cfg, policy, fallback, nil)
}

// Mint registers a token owned by to. weight defaults to one.
func (m *OwnerManager) Mint(caller common.Address, tokenID *uint256.Int, to common.Address, weight *uint256.Int) error {
	if err := m.requireOwner(caller); err != nil {
		return err
	}
	if to == (common.Address{}) || tokenID == nil {
		return distribution.ErrInvalidRecipient
	}
	if weight == nil || weight.IsZero() {
		weight = uint256.NewInt(1)
	}
	id := distribution.TokenHolder(tokenID)
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	if _, exists := m.tokens[id]; exists {
		return fmt.Errorf("%w: token %s", distribution.ErrHolderExists, tokenID.Dec())
	}
	if err := m.Source().Join(id, weight, 0); err != nil {
		return err
	}
	m.tokens[id] = to
	return nil
}

// OnTransfer records an ERC721 transfer. The token keeps its accrual, so the
// new owner can claim what was unclaimed at transfer time.
func (m *OwnerManager) OnTransfer(tokenID *uint256.Int, from, to common.Address) error {
	if err := m.requireInitialized(); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return distribution.ErrInvalidRecipient
	}
	id := distribution.TokenHolder(tokenID)
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	current, ok := m.tokens[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, tokenID.Dec())
	}
	if current != from {
		return fmt.Errorf("%w: token %s", distribution.ErrNotOwner, tokenID.Dec())
	}
	if _, err := m.Source().Settle(id); err != nil {
		return err
	}
	m.tokens[id] = to
	return nil
}

// Burn pays the token's accrual to its owner and removes its weight.
func (m *OwnerManager) Burn(ctx context.Context, caller common.Address, tokenID *uint256.Int) (*uint256.Int, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	id := distribution.TokenHolder(tokenID)
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()
	holder, ok := m.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID.Dec())
	}
	if caller != holder && caller != m.Owner() {
		return nil, fmt.Errorf("%w: token %s", distribution.ErrNotOwner, tokenID.Dec())
	}
	paid, err := m.claimHolder(ctx, id, holder)
	if err != nil {
		return nil, err
	}
	if err := m.Source().Leave(id); err != nil {
		return nil, err
	}
	delete(m.tokens, id)
	return paid, nil
}

// OwnerOf returns the owner of tokenID.
func (m *OwnerManager) OwnerOf(tokenID *uint256.Int) (common.Address, bool) {
	m.tokensMu.RLock()
	defer m.tokensMu.RUnlock()
	owner, ok := m.tokens[distribution.TokenHolder(tokenID)]
	return owner, ok
}

// Claimable sums what caller could claim for the supplied tokens.
func (m *OwnerManager) Claimable(tokenIDs []*uint256.Int) (*uint256.Int, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, tokenID := range tokenIDs {
		v, err := m.Source().Claimable(distribution.TokenHolder(tokenID))
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// ClaimTokens pays caller the accrual of each listed token. Every token must
// be owned by caller; repeated token ids are paid once.
func (m *OwnerManager) ClaimTokens(ctx context.Context, caller common.Address, tokenIDs []*uint256.Int) ([]distribution.LegResult, error) {
	if err := m.requireInitialized(); err != nil {
		return nil, err
	}
	legs := make([]distribution.ClaimLeg, 0, len(tokenIDs))
	// Ownership cannot change while the batch is paying out.
	m.tokensMu.RLock()
	defer m.tokensMu.RUnlock()
	for _, tokenID := range tokenIDs {
		id := distribution.TokenHolder(tokenID)
		owner, ok := m.tokens[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, tokenID.Dec())
		}
		if owner != caller {
			return nil, fmt.Errorf("%w: token %s", distribution.ErrNotOwner, tokenID.Dec())
		}
		legs = append(legs, distribution.ClaimLeg{Holder: id, Recipient: caller})
	}
	return m.claimBatch(ctx, legs)
}
