package distribution

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/core/events"
	"revledger/native/fixedpoint"
)

// Payout describes a single transfer requested by a claim.
type Payout struct {
	Source    string
	Asset     string
	Holder    HolderID
	Recipient common.Address
	Amount    *uint256.Int
	Reference string
}

// Payer delivers claimed revenue. Implementations must not call back into the
// source that issued the payout.
type Payer interface {
	Pay(ctx context.Context, payout Payout) error
}

// PayerFunc adapts a function into a Payer.
type PayerFunc func(ctx context.Context, payout Payout) error

// Pay implements Payer.
func (f PayerFunc) Pay(ctx context.Context, payout Payout) error { return f(ctx, payout) }

// Claim settles the holder and pays its carried balance to recipient. The
// carried balance is zeroed before the transfer and restored if it fails. A
// holder with nothing owed succeeds with a zero amount.
func (s *Source) Claim(ctx context.Context, id HolderID, recipient common.Address) (*uint256.Int, error) {
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	s.mu.Lock()
	payer := s.payer
	if payer == nil {
		s.mu.Unlock()
		return nil, ErrPayerNotConfigured
	}
	key := holderKey(id)
	if s.busy(key) {
		s.mu.Unlock()
		return nil, ErrClaimInProgress
	}
	tx := s.begin()
	h, ok := tx.holder(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownHolder, id)
	}
	if err := tx.settle(h); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	owed := fixedpoint.Clone(h.Carried)
	h.Carried = new(uint256.Int)
	if err := s.commit(tx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if owed.IsZero() {
		s.mu.Unlock()
		return owed, nil
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()

	payout := Payout{
		Source:    s.id,
		Asset:     s.asset,
		Holder:    id,
		Recipient: recipient,
		Amount:    fixedpoint.Clone(owed),
		Reference: fmt.Sprintf("%s/%s", s.id, id),
	}
	payErr := payer.Pay(ctx, payout)
	return s.finishHolderClaim(id, key, recipient, owed, payErr)
}

func (s *Source) finishHolderClaim(id HolderID, key string, recipient common.Address, owed *uint256.Int, payErr error) (*uint256.Int, error) {
	s.mu.Lock()
	delete(s.inFlight, key)
	tx := s.begin()
	h, _ := tx.holder(id)
	var err error
	if payErr != nil {
		h.Carried, err = fixedpoint.Add(h.Carried, owed)
		tx.record(events.ClaimFailed{
			Source:    s.id,
			Holder:    string(id),
			Recipient: recipient.Hex(),
			Amount:    owed.Dec(),
			Reason:    payErr.Error(),
		})
	} else {
		h.Claimed, err = fixedpoint.Add(h.Claimed, owed)
		if err == nil {
			tx.record(events.ClaimExecuted{
				Source:       s.id,
				Holder:       string(id),
				Recipient:    recipient.Hex(),
				Amount:       owed.Dec(),
				TotalClaimed: h.Claimed.Dec(),
			})
		}
	}
	if err == nil {
		err = s.commit(tx)
	}
	logger := s.logger
	s.mu.Unlock()
	if err != nil {
		logger.Error("distribution claim bookkeeping failed",
			"source", s.id, "holder", string(id), "amount", owed.Dec(), "error", err)
		return nil, err
	}
	s.emit(tx.events)
	if payErr != nil {
		logger.Warn("distribution payout failed",
			"source", s.id, "holder", string(id), "amount", owed.Dec(), "error", payErr)
		return nil, fmt.Errorf("%w: %w", ErrUnableToSendRevenue, payErr)
	}
	return owed, nil
}

// ClaimFixed pays the owed balance of a fixed-cut account to its recipient.
func (s *Source) ClaimFixed(ctx context.Context, recipient common.Address) (*uint256.Int, error) {
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	s.mu.Lock()
	payer := s.payer
	if payer == nil {
		s.mu.Unlock()
		return nil, ErrPayerNotConfigured
	}
	key := fixedKey(recipient)
	if s.busy(key) {
		s.mu.Unlock()
		return nil, ErrClaimInProgress
	}
	account, ok := s.fixed[recipient]
	if !ok || account.Owed.IsZero() {
		s.mu.Unlock()
		return new(uint256.Int), nil
	}
	tx := s.begin()
	staged := tx.fixedAccount(recipient)
	owed := fixedpoint.Clone(staged.Owed)
	staged.Owed = new(uint256.Int)
	if err := s.commit(tx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.inFlight[key] = struct{}{}
	s.mu.Unlock()

	payErr := payer.Pay(ctx, Payout{
		Source:    s.id,
		Asset:     s.asset,
		Recipient: recipient,
		Amount:    fixedpoint.Clone(owed),
		Reference: fmt.Sprintf("%s/fixed/%s", s.id, recipient.Hex()),
	})

	s.mu.Lock()
	delete(s.inFlight, key)
	tx = s.begin()
	staged = tx.fixedAccount(recipient)
	var err error
	if payErr != nil {
		staged.Owed, err = fixedpoint.Add(staged.Owed, owed)
		tx.record(events.ClaimFailed{
			Source:    s.id,
			Recipient: recipient.Hex(),
			Amount:    owed.Dec(),
			Reason:    payErr.Error(),
		})
	} else {
		staged.Claimed, err = fixedpoint.Add(staged.Claimed, owed)
		tx.record(events.ClaimExecuted{
			Source:       s.id,
			Recipient:    recipient.Hex(),
			Amount:       owed.Dec(),
			TotalClaimed: fixedpoint.Format(staged.Claimed),
		})
	}
	if err == nil {
		err = s.commit(tx)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.emit(tx.events)
	if payErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnableToSendRevenue, payErr)
	}
	return owed, nil
}

// ClaimLeg is one holder/recipient pair within a batch claim.
type ClaimLeg struct {
	Holder    HolderID
	Recipient common.Address
}

// LegResult reports the outcome of one batch leg. Duplicate legs are skipped
// and report a zero amount.
type LegResult struct {
	Holder    HolderID
	Amount    *uint256.Int
	Duplicate bool
	Err       error
}

// ClaimBatch claims each leg independently. A failed leg does not roll back
// the legs that succeeded; its carried balance is restored and its error is
// reported in the corresponding result.
func (s *Source) ClaimBatch(ctx context.Context, legs []ClaimLeg) []LegResult {
	results := make([]LegResult, 0, len(legs))
	seen := make(map[HolderID]struct{}, len(legs))
	for _, leg := range legs {
		if _, dup := seen[leg.Holder]; dup {
			results = append(results, LegResult{Holder: leg.Holder, Amount: new(uint256.Int), Duplicate: true})
			continue
		}
		seen[leg.Holder] = struct{}{}
		if err := ctx.Err(); err != nil {
			results = append(results, LegResult{Holder: leg.Holder, Err: err})
			continue
		}
		amount, err := s.Claim(ctx, leg.Holder, leg.Recipient)
		results = append(results, LegResult{Holder: leg.Holder, Amount: amount, Err: err})
	}
	return results
}

// Total sums the amounts paid by successful legs.
func Total(results []LegResult) *uint256.Int {
	total := new(uint256.Int)
	for _, r := range results {
		if r.Err == nil && r.Amount != nil {
			total.Add(total, r.Amount)
		}
	}
	return total
}
