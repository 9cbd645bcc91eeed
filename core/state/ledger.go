package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/distribution"
	"revledger/native/fixedpoint"
	"revledger/storage"
)

// LedgerStore persists distribution sources in a key-value database. The
// accumulator and checkpoints are stored in their UQ128x128 word form; token
// amounts are stored as base-10 strings.
type LedgerStore struct {
	db storage.Database

	mu      sync.Mutex
	indexes map[string]*ledgerIndex
}

type ledgerIndex struct {
	Holders []string `json:"holders"`
	Fixed   []string `json:"fixed"`
}

type storedSourceState struct {
	ID                   string `json:"id"`
	Asset                string `json:"asset"`
	Fallback             string `json:"fallback"`
	TotalWeight          string `json:"totalWeight"`
	AccumulatorUQ128x128 []byte `json:"accumulator"`
	DustUQ128x128        []byte `json:"dust"`
	Received             string `json:"received"`
	Pooled               string `json:"pooled"`
	FallbackRouted       string `json:"fallbackRouted"`
	Credited             string `json:"credited"`
}

type storedHolder struct {
	ID                  string `json:"id"`
	Weight              string `json:"weight"`
	CheckpointUQ128x128 []byte `json:"checkpoint"`
	Carried             string `json:"carried"`
	Claimed             string `json:"claimed"`
	LockedUntil         int64  `json:"lockedUntil,omitempty"`
}

type storedFixed struct {
	Recipient string `json:"recipient"`
	Owed      string `json:"owed"`
	Claimed   string `json:"claimed"`
}

// NewLedgerStore wraps db.
func NewLedgerStore(db storage.Database) *LedgerStore {
	return &LedgerStore{db: db, indexes: make(map[string]*ledgerIndex)}
}

// PutState implements distribution.Store.
func (s *LedgerStore) PutState(st *distribution.State) error {
	if st == nil {
		return fmt.Errorf("ledger store: nil state")
	}
	record := storedSourceState{
		ID:                   st.ID,
		Asset:                st.Asset,
		Fallback:             st.Fallback.Hex(),
		TotalWeight:          fixedpoint.Format(st.TotalWeight),
		AccumulatorUQ128x128: fixedpoint.EncodeUQ128x128(st.Accumulator),
		DustUQ128x128:        fixedpoint.EncodeUQ128x128(st.DustScaled),
		Received:             fixedpoint.Format(st.Received),
		Pooled:               fixedpoint.Format(st.Pooled),
		FallbackRouted:       fixedpoint.Format(st.FallbackRouted),
		Credited:             fixedpoint.Format(st.Credited),
	}
	return s.putJSON(ledgerStateKey(st.ID), record)
}

// PutHolder implements distribution.Store.
func (s *LedgerStore) PutHolder(sourceID string, h *distribution.Holder) error {
	if h == nil {
		return fmt.Errorf("ledger store: nil holder")
	}
	record := storedHolder{
		ID:                  string(h.ID),
		Weight:              fixedpoint.Format(h.Weight),
		CheckpointUQ128x128: fixedpoint.EncodeUQ128x128(h.Checkpoint),
		Carried:             fixedpoint.Format(h.Carried),
		Claimed:             fixedpoint.Format(h.Claimed),
		LockedUntil:         h.LockedUntil,
	}
	if err := s.putJSON(ledgerHolderKey(sourceID, record.ID), record); err != nil {
		return err
	}
	return s.index(sourceID, func(idx *ledgerIndex) bool {
		return addUnique(&idx.Holders, record.ID)
	})
}

// PutFixed implements distribution.Store.
func (s *LedgerStore) PutFixed(sourceID string, f *distribution.FixedAccount) error {
	if f == nil {
		return fmt.Errorf("ledger store: nil fixed account")
	}
	record := storedFixed{
		Recipient: f.Recipient.Hex(),
		Owed:      fixedpoint.Format(f.Owed),
		Claimed:   fixedpoint.Format(f.Claimed),
	}
	if err := s.putJSON(ledgerFixedKey(sourceID, record.Recipient), record); err != nil {
		return err
	}
	return s.index(sourceID, func(idx *ledgerIndex) bool {
		return addUnique(&idx.Fixed, record.Recipient)
	})
}

// LoadSnapshot rebuilds the persisted snapshot of sourceID. The boolean is
// false when nothing has been stored for the source.
func (s *LedgerStore) LoadSnapshot(sourceID string) (*distribution.Snapshot, bool, error) {
	var stored storedSourceState
	ok, err := s.getJSON(ledgerStateKey(sourceID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	st, err := stored.toState()
	if err != nil {
		return nil, false, fmt.Errorf("ledger store: decode %s: %w", sourceID, err)
	}
	snapshot := &distribution.Snapshot{State: st}
	s.mu.Lock()
	idx, err := s.loadIndexLocked(sourceID)
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	for _, id := range idx.Holders {
		var record storedHolder
		found, err := s.getJSON(ledgerHolderKey(sourceID, id), &record)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("ledger store: holder %s indexed but missing", id)
		}
		holder, err := record.toHolder()
		if err != nil {
			return nil, false, fmt.Errorf("ledger store: decode holder %s: %w", id, err)
		}
		snapshot.Holders = append(snapshot.Holders, holder)
	}
	for _, recipient := range idx.Fixed {
		var record storedFixed
		found, err := s.getJSON(ledgerFixedKey(sourceID, recipient), &record)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return nil, false, fmt.Errorf("ledger store: fixed account %s indexed but missing", recipient)
		}
		account, err := record.toFixed()
		if err != nil {
			return nil, false, fmt.Errorf("ledger store: decode fixed account %s: %w", recipient, err)
		}
		snapshot.Fixed = append(snapshot.Fixed, account)
	}
	return snapshot, true, nil
}

func (s *LedgerStore) index(sourceID string, mutate func(*ledgerIndex) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.loadIndexLocked(sourceID)
	if err != nil {
		return err
	}
	if !mutate(idx) {
		return nil
	}
	return s.putJSON(ledgerIndexKey(sourceID), idx)
}

func (s *LedgerStore) loadIndexLocked(sourceID string) (*ledgerIndex, error) {
	if idx, ok := s.indexes[sourceID]; ok {
		return idx, nil
	}
	idx := &ledgerIndex{}
	if _, err := s.getJSON(ledgerIndexKey(sourceID), idx); err != nil {
		return nil, err
	}
	s.indexes[sourceID] = idx
	return idx, nil
}

func (s *LedgerStore) putJSON(key []byte, value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

func (s *LedgerStore) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func addUnique(list *[]string, value string) bool {
	i := sort.SearchStrings(*list, value)
	if i < len(*list) && (*list)[i] == value {
		return false
	}
	*list = append(*list, "")
	copy((*list)[i+1:], (*list)[i:])
	(*list)[i] = value
	return true
}

func (r storedSourceState) toState() (*distribution.State, error) {
	acc, err := fixedpoint.DecodeUQ128x128(r.AccumulatorUQ128x128)
	if err != nil {
		return nil, err
	}
	dust, err := fixedpoint.DecodeUQ128x128(r.DustUQ128x128)
	if err != nil {
		return nil, err
	}
	st := &distribution.State{
		ID:          r.ID,
		Asset:       r.Asset,
		Fallback:    common.HexToAddress(r.Fallback),
		Accumulator: acc,
		DustScaled:  dust,
	}
	amounts := []struct {
		raw string
		dst **uint256.Int
	}{
		{r.TotalWeight, &st.TotalWeight},
		{r.Received, &st.Received},
		{r.Pooled, &st.Pooled},
		{r.FallbackRouted, &st.FallbackRouted},
		{r.Credited, &st.Credited},
	}
	for _, a := range amounts {
		if *a.dst, err = parseStoredAmount(a.raw); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (r storedHolder) toHolder() (*distribution.Holder, error) {
	checkpoint, err := fixedpoint.DecodeUQ128x128(r.CheckpointUQ128x128)
	if err != nil {
		return nil, err
	}
	h := &distribution.Holder{ID: distribution.HolderID(r.ID), Checkpoint: checkpoint, LockedUntil: r.LockedUntil}
	if h.Weight, err = parseStoredAmount(r.Weight); err != nil {
		return nil, err
	}
	if h.Carried, err = parseStoredAmount(r.Carried); err != nil {
		return nil, err
	}
	if h.Claimed, err = parseStoredAmount(r.Claimed); err != nil {
		return nil, err
	}
	return h, nil
}

func (r storedFixed) toFixed() (*distribution.FixedAccount, error) {
	f := &distribution.FixedAccount{Recipient: common.HexToAddress(r.Recipient)}
	var err error
	if f.Owed, err = parseStoredAmount(r.Owed); err != nil {
		return nil, err
	}
	if f.Claimed, err = parseStoredAmount(r.Claimed); err != nil {
		return nil, err
	}
	return f, nil
}

func parseStoredAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	return fixedpoint.ParseAmount(raw)
}
