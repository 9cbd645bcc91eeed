package treasury

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrManagerExists is returned when deploying a duplicate manager id.
	ErrManagerExists = errors.New("treasury: manager already deployed")
	// ErrManagerNotFound is returned for unknown manager ids.
	ErrManagerNotFound = errors.New("treasury: manager not found")
)

// Factory deploys and indexes managers that share one set of collaborators.
type Factory struct {
	deps Deps

	mu       sync.RWMutex
	managers map[string]Manager
}

// NewFactory constructs a factory injecting deps into every manager.
func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps, managers: make(map[string]Manager)}
}

// Deploy decodes configData once, initialises a manager of the requested kind
// and registers it under id.
func (f *Factory) Deploy(id string, kind Kind, owner common.Address, configData []byte) (Manager, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("treasury: manager id required")
	}
	cfg, err := DecodeConfig(configData)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.managers[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrManagerExists, id)
	}
	var manager Manager
	switch kind {
	case KindRevenue:
		m := NewRevenueManager(id, f.deps)
		err = m.Initialize(owner, cfg)
		manager = m
	case KindStaking:
		m := NewStakingManager(id, f.deps)
		err = m.Initialize(owner, cfg)
		manager = m
	case KindOwner:
		m := NewOwnerManager(id, f.deps)
		err = m.Initialize(owner, cfg)
		manager = m
	case KindPosition:
		m := NewPositionManager(id, f.deps)
		err = m.Initialize(owner, cfg)
		manager = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("treasury: deploy %s: %w", id, err)
	}
	f.managers[id] = manager
	return manager, nil
}

// Get returns the manager registered under id.
func (f *Factory) Get(id string) (Manager, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	manager, ok := f.managers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrManagerNotFound, id)
	}
	return manager, nil
}

// List returns every manager ordered by id.
func (f *Factory) List() []Manager {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Manager, 0, len(f.managers))
	for _, manager := range f.managers {
		out = append(out, manager)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ParseKind validates a kind name.
func ParseKind(raw string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case KindRevenue, KindStaking, KindOwner, KindPosition:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}
