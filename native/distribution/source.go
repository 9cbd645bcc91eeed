package distribution

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/core/events"
	"revledger/native/fixedpoint"
)

// Source is one revenue stream with its accumulator, registered holders and
// fixed-cut accounts. All methods are safe for concurrent use.
type Source struct {
	id    string
	asset string

	mu       sync.Mutex
	state    *State
	holders  map[HolderID]*Holder
	fixed    map[common.Address]*FixedAccount
	inFlight map[string]struct{}

	store   Store
	payer   Payer
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() int64
}

// NewSource constructs an empty source. Inflows arriving while no weight is
// registered are credited to fallback.
func NewSource(id, asset string, fallback common.Address) *Source {
	return restoreSource(&State{ID: strings.TrimSpace(id), Asset: asset, Fallback: fallback}, nil, nil)
}

// Restore rebuilds a source from a persisted snapshot.
func Restore(snapshot *Snapshot) (*Source, error) {
	if snapshot == nil || snapshot.State == nil {
		return nil, fmt.Errorf("distribution: empty snapshot")
	}
	return restoreSource(snapshot.State.Clone(), snapshot.Holders, snapshot.Fixed), nil
}

func restoreSource(state *State, holders []*Holder, fixed []*FixedAccount) *Source {
	normaliseState(state)
	s := &Source{
		id:       state.ID,
		asset:    state.Asset,
		state:    state,
		holders:  make(map[HolderID]*Holder, len(holders)),
		fixed:    make(map[common.Address]*FixedAccount, len(fixed)),
		inFlight: make(map[string]struct{}),
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
	for _, h := range holders {
		if h == nil {
			continue
		}
		clone := h.Clone()
		normaliseHolder(clone)
		s.holders[clone.ID] = clone
	}
	for _, f := range fixed {
		if f == nil {
			continue
		}
		clone := f.Clone()
		normaliseFixed(clone)
		s.fixed[clone.Recipient] = clone
	}
	return s
}

// SetStore configures the persistence backend.
func (s *Source) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// SetPayer configures the component that delivers claimed revenue.
func (s *Source) SetPayer(payer Payer) {
	s.mu.Lock()
	s.payer = payer
	s.mu.Unlock()
}

// SetEmitter configures the event emitter used by the source.
func (s *Source) SetEmitter(emitter events.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetLogger configures the structured logger.
func (s *Source) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetNowFunc overrides the time source used for timelock checks.
func (s *Source) SetNowFunc(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	s.nowFn = now
}

// ID returns the source identifier.
func (s *Source) ID() string { return s.id }

// Asset returns the asset distributed by the source.
func (s *Source) Asset() string { return s.asset }

// Fallback returns the recipient of zero-weight inflows.
func (s *Source) Fallback() common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Fallback
}

// SetFallback changes the zero-weight recipient. Balances already owed to the
// previous fallback remain claimable by it.
func (s *Source) SetFallback(addr common.Address) error {
	if addr == (common.Address{}) {
		return ErrInvalidRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.begin()
	tx.state.Fallback = addr
	return s.commit(tx)
}

// State returns a copy of the source header.
func (s *Source) State() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Snapshot returns a complete copy of the source in deterministic order.
func (s *Source) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{State: s.state.Clone()}
	for _, h := range s.holders {
		snap.Holders = append(snap.Holders, h.Clone())
	}
	for _, f := range s.fixed {
		snap.Fixed = append(snap.Fixed, f.Clone())
	}
	sort.Slice(snap.Holders, func(i, j int) bool { return snap.Holders[i].ID < snap.Holders[j].ID })
	sort.Slice(snap.Fixed, func(i, j int) bool {
		return strings.Compare(snap.Fixed[i].Recipient.Hex(), snap.Fixed[j].Recipient.Hex()) < 0
	})
	return snap
}

// Holder returns a copy of the holder record.
func (s *Source) Holder(id HolderID) (*Holder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holders[id]
	if !ok {
		return nil, false
	}
	return h.Clone(), true
}

// FixedAccount returns a copy of the fixed-cut account for addr.
func (s *Source) FixedAccount(addr common.Address) (*FixedAccount, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fixed[addr]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// TotalWeight returns the sum of registered weights.
func (s *Source) TotalWeight() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fixedpoint.Clone(s.state.TotalWeight)
}

// Accumulator returns the current UQ128x128 per-weight accumulator.
func (s *Source) Accumulator() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fixedpoint.Clone(s.state.Accumulator)
}

// Remainder returns the whole units of revenue not yet distributed to holders.
func (s *Source) Remainder() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	whole, _ := fixedpoint.FromScaled(s.state.DustScaled)
	return whole
}

// Claimable returns what the holder could claim right now without mutating
// any state.
func (s *Source) Claimable(id HolderID) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHolder, id)
	}
	pending, _, err := s.pending(h)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Add(h.Carried, pending)
}

// pending returns the whole units accrued by h since its checkpoint and the
// fractional rest in 2^-128 units.
func (s *Source) pending(h *Holder) (*uint256.Int, *uint256.Int, error) {
	delta, err := fixedpoint.Sub(s.state.Accumulator, h.Checkpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("distribution: checkpoint ahead of accumulator for %s: %w", h.ID, err)
	}
	if delta.IsZero() || h.Weight.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	return fixedpoint.MulScaled(h.Weight, delta)
}

func (s *Source) now() int64 {
	if s.nowFn == nil {
		return time.Now().Unix()
	}
	return s.nowFn()
}

func (s *Source) emit(evts []events.Event) {
	s.mu.Lock()
	emitter := s.emitter
	s.mu.Unlock()
	for _, evt := range evts {
		emitter.Emit(evt)
	}
}

// txn stages changes so that persistence failures leave the source untouched.
type txn struct {
	state   *State
	holders map[HolderID]*Holder
	fixed   map[common.Address]*FixedAccount
	events  []events.Event
	src     *Source
}

func (s *Source) begin() *txn {
	return &txn{
		state:   s.state.Clone(),
		holders: make(map[HolderID]*Holder),
		fixed:   make(map[common.Address]*FixedAccount),
		src:     s,
	}
}

func (tx *txn) holder(id HolderID) (*Holder, bool) {
	if h, ok := tx.holders[id]; ok {
		return h, true
	}
	h, ok := tx.src.holders[id]
	if !ok {
		return nil, false
	}
	clone := h.Clone()
	tx.holders[id] = clone
	return clone, true
}

func (tx *txn) holderOrNew(id HolderID) *Holder {
	if h, ok := tx.holder(id); ok {
		return h
	}
	h := newHolder(id, tx.state.Accumulator)
	tx.holders[id] = h
	return h
}

func (tx *txn) fixedAccount(addr common.Address) *FixedAccount {
	if f, ok := tx.fixed[addr]; ok {
		return f
	}
	var clone *FixedAccount
	if f, ok := tx.src.fixed[addr]; ok {
		clone = f.Clone()
	} else {
		clone = &FixedAccount{Recipient: addr, Owed: new(uint256.Int), Claimed: new(uint256.Int)}
	}
	tx.fixed[addr] = clone
	return clone
}

// settle moves the holder's accrued balance into Carried and advances its
// checkpoint. The fractional part is forfeited to the source dust pool.
func (tx *txn) settle(h *Holder) error {
	delta, err := fixedpoint.Sub(tx.state.Accumulator, h.Checkpoint)
	if err != nil {
		return fmt.Errorf("distribution: checkpoint ahead of accumulator for %s: %w", h.ID, err)
	}
	if delta.IsZero() {
		return nil
	}
	if !h.Weight.IsZero() {
		whole, frac, err := fixedpoint.MulScaled(h.Weight, delta)
		if err != nil {
			return err
		}
		carried, err := fixedpoint.Add(h.Carried, whole)
		if err != nil {
			return err
		}
		dust, err := fixedpoint.Add(tx.state.DustScaled, frac)
		if err != nil {
			return err
		}
		h.Carried = carried
		tx.state.DustScaled = dust
	}
	h.Checkpoint = fixedpoint.Clone(tx.state.Accumulator)
	return nil
}

func (tx *txn) record(evt events.Event) { tx.events = append(tx.events, evt) }

// commit persists staged records and installs them. Callers hold s.mu.
func (s *Source) commit(tx *txn) error {
	if s.store != nil {
		if err := s.store.PutState(tx.state); err != nil {
			return fmt.Errorf("distribution: persist source %s: %w", tx.state.ID, err)
		}
		for _, h := range tx.holders {
			if err := s.store.PutHolder(tx.state.ID, h); err != nil {
				return fmt.Errorf("distribution: persist holder %s: %w", h.ID, err)
			}
		}
		for _, f := range tx.fixed {
			if err := s.store.PutFixed(tx.state.ID, f); err != nil {
				return fmt.Errorf("distribution: persist fixed account %s: %w", f.Recipient.Hex(), err)
			}
		}
	}
	s.state = tx.state
	for id, h := range tx.holders {
		s.holders[id] = h
	}
	for addr, f := range tx.fixed {
		s.fixed[addr] = f
	}
	return nil
}

func (s *Source) busy(key string) bool {
	_, ok := s.inFlight[key]
	return ok
}

func holderKey(id HolderID) string { return "holder:" + string(id) }

func fixedKey(addr common.Address) string { return "fixed:" + strings.ToLower(addr.Hex()) }

func normaliseState(state *State) {
	for _, v := range []**uint256.Int{&state.TotalWeight, &state.Accumulator, &state.DustScaled, &state.Received, &state.Pooled, &state.FallbackRouted, &state.Credited} {
		if *v == nil {
			*v = new(uint256.Int)
		}
	}
}

func normaliseHolder(h *Holder) {
	for _, v := range []**uint256.Int{&h.Weight, &h.Checkpoint, &h.Carried, &h.Claimed} {
		if *v == nil {
			*v = new(uint256.Int)
		}
	}
}

func normaliseFixed(f *FixedAccount) {
	if f.Owed == nil {
		f.Owed = new(uint256.Int)
	}
	if f.Claimed == nil {
		f.Claimed = new(uint256.Int)
	}
}
