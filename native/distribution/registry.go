package distribution

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"revledger/core/events"
	"revledger/native/fixedpoint"
)

// Join registers weight for a holder that currently carries none. A holder that
// left earlier keeps its carried balance and may join again.
func (s *Source) Join(id HolderID, weight *uint256.Int, lockedUntil int64) error {
	if weight == nil || weight.IsZero() {
		return ErrInvalidAmount
	}
	return s.mutate(id, func(tx *txn) error {
		h := tx.holderOrNew(id)
		if !h.Weight.IsZero() {
			return fmt.Errorf("%w: %s", ErrHolderExists, id)
		}
		if err := tx.settle(h); err != nil {
			return err
		}
		if err := tx.addWeight(h, weight); err != nil {
			return err
		}
		if lockedUntil > h.LockedUntil {
			h.LockedUntil = lockedUntil
		}
		tx.record(tx.stakeEvent(events.TypeStakeJoined, h, weight))
		return nil
	})
}

// IncreaseWeight adds delta to an existing holder. A later lockedUntil extends
// the holder's timelock; an earlier one is ignored.
func (s *Source) IncreaseWeight(id HolderID, delta *uint256.Int, lockedUntil int64) error {
	if delta == nil || delta.IsZero() {
		return ErrInvalidAmount
	}
	return s.mutate(id, func(tx *txn) error {
		h, ok := tx.holder(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHolder, id)
		}
		if err := tx.settle(h); err != nil {
			return err
		}
		if err := tx.addWeight(h, delta); err != nil {
			return err
		}
		if lockedUntil > h.LockedUntil {
			h.LockedUntil = lockedUntil
		}
		tx.record(tx.stakeEvent(events.TypeStakeIncreased, h, delta))
		return nil
	})
}

// AddWeight joins the holder or tops up its existing weight in a single
// change, so concurrent first deposits for one holder both succeed.
func (s *Source) AddWeight(id HolderID, delta *uint256.Int, lockedUntil int64) error {
	if delta == nil || delta.IsZero() {
		return ErrInvalidAmount
	}
	return s.mutate(id, func(tx *txn) error {
		h := tx.holderOrNew(id)
		eventType := events.TypeStakeIncreased
		if h.Weight.IsZero() {
			eventType = events.TypeStakeJoined
		}
		if err := tx.settle(h); err != nil {
			return err
		}
		if err := tx.addWeight(h, delta); err != nil {
			return err
		}
		if lockedUntil > h.LockedUntil {
			h.LockedUntil = lockedUntil
		}
		tx.record(tx.stakeEvent(eventType, h, delta))
		return nil
	})
}

// DecreaseWeight removes delta from the holder. Removing all weight is
// equivalent to Leave.
func (s *Source) DecreaseWeight(id HolderID, delta *uint256.Int) error {
	if delta == nil || delta.IsZero() {
		return ErrInvalidAmount
	}
	return s.mutate(id, func(tx *txn) error {
		h, ok := tx.holder(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHolder, id)
		}
		if err := tx.checkRemovable(h, delta); err != nil {
			return err
		}
		if err := tx.settle(h); err != nil {
			return err
		}
		if err := tx.subWeight(h, delta); err != nil {
			return err
		}
		eventType := events.TypeStakeDecreased
		if h.Weight.IsZero() {
			eventType = events.TypeStakeLeft
		}
		tx.record(tx.stakeEvent(eventType, h, delta))
		return nil
	})
}

// Leave removes all of the holder's weight. The carried balance stays
// claimable.
func (s *Source) Leave(id HolderID) error {
	return s.mutate(id, func(tx *txn) error {
		h, ok := tx.holder(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHolder, id)
		}
		if h.Weight.IsZero() {
			return nil
		}
		removed := fixedpoint.Clone(h.Weight)
		if err := tx.checkRemovable(h, removed); err != nil {
			return err
		}
		if err := tx.settle(h); err != nil {
			return err
		}
		if err := tx.subWeight(h, removed); err != nil {
			return err
		}
		tx.record(tx.stakeEvent(events.TypeStakeLeft, h, removed))
		return nil
	})
}

// SetWeight replaces the holder's weight, registering the holder when needed.
// Share tables use it to rebalance recipients; timelocks do not apply.
func (s *Source) SetWeight(id HolderID, weight *uint256.Int) error {
	return s.mutate(id, func(tx *txn) error {
		return tx.setWeight(id, weight)
	})
}

// SetWeights applies several weight replacements as one change. Every holder
// is checked for an outstanding payout before anything is settled, and either
// all weights are committed or none are.
func (s *Source) SetWeights(weights map[HolderID]*uint256.Int) error {
	ids := make([]HolderID, 0, len(weights))
	for id := range weights {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	s.mu.Lock()
	for _, id := range ids {
		if s.busy(holderKey(id)) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrClaimInProgress, id)
		}
	}
	tx := s.begin()
	var err error
	for _, id := range ids {
		if err = tx.setWeight(id, weights[id]); err != nil {
			break
		}
	}
	if err == nil {
		err = s.commit(tx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(tx.events)
	return nil
}

func (tx *txn) setWeight(id HolderID, weight *uint256.Int) error {
	if weight == nil {
		weight = new(uint256.Int)
	}
	h := tx.holderOrNew(id)
	if err := tx.settle(h); err != nil {
		return err
	}
	old := fixedpoint.Clone(h.Weight)
	switch old.Cmp(weight) {
	case 0:
		return nil
	case -1:
		if err := tx.addWeight(h, new(uint256.Int).Sub(weight, old)); err != nil {
			return err
		}
	default:
		if err := tx.subWeight(h, new(uint256.Int).Sub(old, weight)); err != nil {
			return err
		}
	}
	tx.record(events.SharesUpdated{
		Source:    tx.state.ID,
		Holder:    string(h.ID),
		OldWeight: old.Dec(),
		NewWeight: h.Weight.Dec(),
	})
	return nil
}

// Transfer moves the sender's weight and carried balance to the receiver as a
// single package. The sender retains nothing; its claimed total is unchanged.
func (s *Source) Transfer(from, to HolderID) error {
	if from == to {
		return fmt.Errorf("%w: transfer to self", ErrInvalidRecipient)
	}
	s.mu.Lock()
	if s.busy(holderKey(from)) || s.busy(holderKey(to)) {
		s.mu.Unlock()
		return ErrClaimInProgress
	}
	tx := s.begin()
	err := tx.transfer(from, to)
	if err == nil {
		err = s.commit(tx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(tx.events)
	return nil
}

func (tx *txn) transfer(from, to HolderID) error {
	sender, ok := tx.holder(from)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHolder, from)
	}
	receiver := tx.holderOrNew(to)
	if err := tx.settle(sender); err != nil {
		return err
	}
	if err := tx.settle(receiver); err != nil {
		return err
	}
	weight, err := fixedpoint.Add(receiver.Weight, sender.Weight)
	if err != nil {
		return err
	}
	carried, err := fixedpoint.Add(receiver.Carried, sender.Carried)
	if err != nil {
		return err
	}
	movedWeight := fixedpoint.Clone(sender.Weight)
	movedCarry := fixedpoint.Clone(sender.Carried)
	receiver.Weight = weight
	receiver.Carried = carried
	if sender.LockedUntil > receiver.LockedUntil {
		receiver.LockedUntil = sender.LockedUntil
	}
	sender.Weight = new(uint256.Int)
	sender.Carried = new(uint256.Int)
	sender.LockedUntil = 0
	tx.record(events.StakeTransferred{
		Source:  tx.state.ID,
		From:    string(from),
		To:      string(to),
		Weight:  movedWeight.Dec(),
		Carried: movedCarry.Dec(),
	})
	return nil
}

// mutate runs fn against a staged transaction while holding the source lock
// and rejects changes to holders with an outstanding payout.
func (s *Source) mutate(id HolderID, fn func(tx *txn) error) error {
	s.mu.Lock()
	if s.busy(holderKey(id)) {
		s.mu.Unlock()
		return ErrClaimInProgress
	}
	tx := s.begin()
	err := fn(tx)
	if err == nil {
		err = s.commit(tx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(tx.events)
	return nil
}

func (tx *txn) checkRemovable(h *Holder, delta *uint256.Int) error {
	if h.Weight.Lt(delta) {
		return fmt.Errorf("%w: holder %s has %s, requested %s", ErrInsufficientBalance, h.ID, h.Weight.Dec(), delta.Dec())
	}
	if now := tx.src.now(); h.LockedUntil > now {
		return fmt.Errorf("%w: holder %s locked until %d", ErrStakeLocked, h.ID, h.LockedUntil)
	}
	return nil
}

func (tx *txn) addWeight(h *Holder, delta *uint256.Int) error {
	weight, err := fixedpoint.Add(h.Weight, delta)
	if err != nil {
		return err
	}
	total, err := fixedpoint.Add(tx.state.TotalWeight, delta)
	if err != nil {
		return err
	}
	h.Weight = weight
	tx.state.TotalWeight = total
	return nil
}

func (tx *txn) subWeight(h *Holder, delta *uint256.Int) error {
	weight, err := fixedpoint.Sub(h.Weight, delta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	total, err := fixedpoint.Sub(tx.state.TotalWeight, delta)
	if err != nil {
		return fmt.Errorf("distribution: total weight underflow: %w", err)
	}
	h.Weight = weight
	tx.state.TotalWeight = total
	return nil
}

func (tx *txn) stakeEvent(eventType string, h *Holder, delta *uint256.Int) events.StakeChanged {
	return events.StakeChanged{
		Type:        eventType,
		Source:      tx.state.ID,
		Holder:      string(h.ID),
		Delta:       delta.Dec(),
		Weight:      h.Weight.Dec(),
		TotalWeight: tx.state.TotalWeight.Dec(),
		Carried:     h.Carried.Dec(),
	}
}
