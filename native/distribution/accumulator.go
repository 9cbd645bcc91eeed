package distribution

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/core/events"
	"revledger/native/fixedpoint"
)

// OnInflow folds amount into the accumulator. When no weight is registered the
// whole amount is credited to the fallback account instead. A zero amount is a
// no-op.
func (s *Source) OnInflow(ctx context.Context, amount *uint256.Int) error {
	return s.Apply(ctx, nil, amount)
}

// FixedCut is a fixed-recipient share credited alongside a pooled inflow.
type FixedCut struct {
	Recipient common.Address
	Kind      string
	Amount    *uint256.Int
}

// Apply credits the fixed cuts and folds pool into the accumulator as one
// atomic update.
func (s *Source) Apply(ctx context.Context, cuts []FixedCut, pool *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, cut := range cuts {
		if cut.Amount != nil && !cut.Amount.IsZero() && cut.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: %s cut", ErrInvalidRecipient, cut.Kind)
		}
	}
	s.mu.Lock()
	tx := s.begin()
	var err error
	for _, cut := range cuts {
		if cut.Amount == nil || cut.Amount.IsZero() {
			continue
		}
		if err = tx.credit(cut.Recipient, cut.Kind, cut.Amount); err != nil {
			break
		}
	}
	if err == nil {
		err = tx.inflow(pool)
	}
	if err == nil && len(tx.events) > 0 {
		err = s.commit(tx)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit(tx.events)
	return nil
}

func (tx *txn) inflow(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	received, err := fixedpoint.Add(tx.state.Received, amount)
	if err != nil {
		return err
	}
	tx.state.Received = received
	if tx.state.TotalWeight.IsZero() {
		return tx.routeFallback(amount)
	}
	return tx.distribute(amount)
}

func (tx *txn) distribute(amount *uint256.Int) error {
	scaled, err := fixedpoint.ToScaled(amount)
	if err != nil {
		return fmt.Errorf("distribution: inflow too large: %w", err)
	}
	pot, err := fixedpoint.Add(scaled, tx.state.DustScaled)
	if err != nil {
		return err
	}
	inc, dust := new(uint256.Int).DivMod(pot, tx.state.TotalWeight, new(uint256.Int))
	acc, err := fixedpoint.Add(tx.state.Accumulator, inc)
	if err != nil {
		return fmt.Errorf("distribution: accumulator: %w", err)
	}
	pooled, err := fixedpoint.Add(tx.state.Pooled, amount)
	if err != nil {
		return err
	}
	tx.state.Accumulator = acc
	tx.state.DustScaled = dust
	tx.state.Pooled = pooled
	remainder, _ := fixedpoint.FromScaled(dust)
	tx.record(events.InflowReceived{
		Source:      tx.state.ID,
		Asset:       tx.state.Asset,
		Amount:      amount.Dec(),
		Accumulator: acc.Dec(),
		TotalWeight: tx.state.TotalWeight.Dec(),
		Remainder:   remainder.Dec(),
	})
	return nil
}

func (tx *txn) routeFallback(amount *uint256.Int) error {
	if tx.state.Fallback == (common.Address{}) {
		return fmt.Errorf("%w: fallback not configured", ErrInvalidRecipient)
	}
	routed, err := fixedpoint.Add(tx.state.FallbackRouted, amount)
	if err != nil {
		return err
	}
	account := tx.fixedAccount(tx.state.Fallback)
	owed, err := fixedpoint.Add(account.Owed, amount)
	if err != nil {
		return err
	}
	account.Owed = owed
	tx.state.FallbackRouted = routed
	tx.record(events.InflowFallback{
		Source:    tx.state.ID,
		Recipient: tx.state.Fallback.Hex(),
		Amount:    amount.Dec(),
	})
	return nil
}

// Credit assigns a fixed cut directly to recipient. kind labels the cut in
// events (for example "protocol" or "creator").
func (s *Source) Credit(ctx context.Context, recipient common.Address, kind string, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if recipient == (common.Address{}) {
		return ErrInvalidRecipient
	}
	s.mu.Lock()
	tx := s.begin()
	err := tx.credit(recipient, kind, amount)
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

func (tx *txn) credit(recipient common.Address, kind string, amount *uint256.Int) error {
	account := tx.fixedAccount(recipient)
	owed, err := fixedpoint.Add(account.Owed, amount)
	if err != nil {
		return err
	}
	received, err := fixedpoint.Add(tx.state.Received, amount)
	if err != nil {
		return err
	}
	credited, err := fixedpoint.Add(tx.state.Credited, amount)
	if err != nil {
		return err
	}
	account.Owed = owed
	tx.state.Received = received
	tx.state.Credited = credited
	tx.record(events.FixedCredited{
		Source:    tx.state.ID,
		Recipient: recipient.Hex(),
		Kind:      kind,
		Amount:    amount.Dec(),
		Owed:      owed.Dec(),
	})
	return nil
}

// Settle folds the holder's accrued revenue into its carried balance and
// returns the carried total. It does not pay anything out.
func (s *Source) Settle(id HolderID) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	h, ok := tx.holder(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHolder, id)
	}
	if err := tx.settle(h); err != nil {
		return nil, err
	}
	if err := s.commit(tx); err != nil {
		return nil, err
	}
	return fixedpoint.Clone(h.Carried), nil
}

// SettleAll settles every holder. After it returns, Remainder reports exactly
// the pooled revenue that has not been assigned to any holder.
func (s *Source) SettleAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	for id := range s.holders {
		h, _ := tx.holder(id)
		if err := tx.settle(h); err != nil {
			return err
		}
	}
	return s.commit(tx)
}
