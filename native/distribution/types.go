package distribution

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/fixedpoint"
)

// HolderID identifies a stakeholder within a source. Address holders use the
// lower-case hex address; token holders use "token:<id>".
type HolderID string

const tokenPrefix = "token:"

// AddressHolder returns the holder identifier for an account.
func AddressHolder(addr common.Address) HolderID {
	return HolderID(strings.ToLower(addr.Hex()))
}

// TokenHolder returns the holder identifier for an NFT position.
func TokenHolder(tokenID *uint256.Int) HolderID {
	return HolderID(tokenPrefix + fixedpoint.Format(tokenID))
}

// Address returns the account behind an address holder.
func (id HolderID) Address() (common.Address, bool) {
	raw := string(id)
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Token returns the token identifier behind a token holder.
func (id HolderID) Token() (*uint256.Int, bool) {
	raw, ok := strings.CutPrefix(string(id), tokenPrefix)
	if !ok {
		return nil, false
	}
	value, err := fixedpoint.ParseAmount(raw)
	if err != nil {
		return nil, false
	}
	return value, true
}

// ParseHolderID normalises user supplied holder identifiers.
func ParseHolderID(raw string) (HolderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty holder", ErrUnknownHolder)
	}
	if common.IsHexAddress(trimmed) {
		return AddressHolder(common.HexToAddress(trimmed)), nil
	}
	if _, ok := HolderID(trimmed).Token(); ok {
		return HolderID(trimmed), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownHolder, trimmed)
}

// Holder is the per-stakeholder checkpoint record.
type Holder struct {
	ID          HolderID     `json:"id"`
	Weight      *uint256.Int `json:"weight"`
	Checkpoint  *uint256.Int `json:"checkpoint"`
	Carried     *uint256.Int `json:"carried"`
	Claimed     *uint256.Int `json:"claimed"`
	LockedUntil int64        `json:"lockedUntil,omitempty"`
}

// Clone returns a deep copy of the holder.
func (h *Holder) Clone() *Holder {
	if h == nil {
		return nil
	}
	return &Holder{
		ID:          h.ID,
		Weight:      fixedpoint.Clone(h.Weight),
		Checkpoint:  fixedpoint.Clone(h.Checkpoint),
		Carried:     fixedpoint.Clone(h.Carried),
		Claimed:     fixedpoint.Clone(h.Claimed),
		LockedUntil: h.LockedUntil,
	}
}

func newHolder(id HolderID, checkpoint *uint256.Int) *Holder {
	return &Holder{
		ID:         id,
		Weight:     new(uint256.Int),
		Checkpoint: fixedpoint.Clone(checkpoint),
		Carried:    new(uint256.Int),
		Claimed:    new(uint256.Int),
	}
}

// FixedAccount tracks the owed and claimed balances of a fixed-cut recipient
// (protocol treasury, creator or fallback).
type FixedAccount struct {
	Recipient common.Address `json:"recipient"`
	Owed      *uint256.Int   `json:"owed"`
	Claimed   *uint256.Int   `json:"claimed"`
}

// Clone returns a deep copy of the account.
func (f *FixedAccount) Clone() *FixedAccount {
	if f == nil {
		return nil
	}
	return &FixedAccount{
		Recipient: f.Recipient,
		Owed:      fixedpoint.Clone(f.Owed),
		Claimed:   fixedpoint.Clone(f.Claimed),
	}
}

// State is the persisted header of a source. DustScaled holds undistributed
// value in 2^-128 units.
type State struct {
	ID             string         `json:"id"`
	Asset          string         `json:"asset"`
	Fallback       common.Address `json:"fallback"`
	TotalWeight    *uint256.Int   `json:"totalWeight"`
	Accumulator    *uint256.Int   `json:"accumulator"`
	DustScaled     *uint256.Int   `json:"dustScaled"`
	Received       *uint256.Int   `json:"received"`
	Pooled         *uint256.Int   `json:"pooled"`
	FallbackRouted *uint256.Int   `json:"fallbackRouted"`
	Credited       *uint256.Int   `json:"credited"`
}

// Clone returns a deep copy of the state header.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		ID:             s.ID,
		Asset:          s.Asset,
		Fallback:       s.Fallback,
		TotalWeight:    fixedpoint.Clone(s.TotalWeight),
		Accumulator:    fixedpoint.Clone(s.Accumulator),
		DustScaled:     fixedpoint.Clone(s.DustScaled),
		Received:       fixedpoint.Clone(s.Received),
		Pooled:         fixedpoint.Clone(s.Pooled),
		FallbackRouted: fixedpoint.Clone(s.FallbackRouted),
		Credited:       fixedpoint.Clone(s.Credited),
	}
}

// Snapshot is a complete copy of a source used for persistence and restore.
type Snapshot struct {
	State   *State          `json:"state"`
	Holders []*Holder       `json:"holders"`
	Fixed   []*FixedAccount `json:"fixed"`
}

// Store persists source records. Writes happen under the source lock before
// the in-memory state is updated, so a failed write leaves the source untouched.
type Store interface {
	PutState(state *State) error
	PutHolder(sourceID string, holder *Holder) error
	PutFixed(sourceID string, account *FixedAccount) error
}
