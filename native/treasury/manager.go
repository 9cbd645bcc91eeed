package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"revledger/core/events"
	"revledger/native/distribution"
	"revledger/native/escrow"
	"revledger/native/fixedpoint"
	"revledger/native/splitter"
	"revledger/observability"
)

// Kind names a manager variant.
type Kind string

const (
	// KindRevenue splits revenue across a fixed recipient table.
	KindRevenue Kind = "revenue"
	// KindStaking distributes revenue to token stakers.
	KindStaking Kind = "staking"
	// KindOwner distributes revenue to ERC721 owners.
	KindOwner Kind = "owner"
	// KindPosition attributes per-pool escrow allocations to position owners.
	KindPosition Kind = "position"
)

var (
	// ErrUnknownKind is returned for unsupported manager kinds.
	ErrUnknownKind = errors.New("treasury: unknown manager kind")
	// ErrEscrowNotConfigured is returned when syncing without an escrow.
	ErrEscrowNotConfigured = errors.New("treasury: escrow not configured")
	// ErrUnknownToken is returned for tokens the manager has not minted.
	ErrUnknownToken = errors.New("treasury: unknown token")
	// ErrUnknownPool is returned for pools the manager does not track.
	ErrUnknownPool = errors.New("treasury: unknown pool")
)

// Store persists manager sources and returns previously saved snapshots.
type Store interface {
	distribution.Store
	LoadSnapshot(sourceID string) (*distribution.Snapshot, bool, error)
}

// Deps bundles the collaborators injected into every manager.
type Deps struct {
	Escrow  escrow.Escrow
	Payer   distribution.Payer
	Emitter events.Emitter
	Store   Store
	Logger  *slog.Logger
	Now     func() time.Time
}

// Manager is the behaviour shared by every manager variant.
type Manager interface {
	ID() string
	Kind() Kind
	Owner() common.Address
	Initialized() bool
	Source() *distribution.Source
	Receive(ctx context.Context, gross *uint256.Int) (splitter.Breakdown, error)
	Sync(ctx context.Context) (*uint256.Int, error)
	ClaimFixed(ctx context.Context, recipient common.Address) (*uint256.Int, error)
	Summary() Summary
}

// Summary is a read-only view of a manager used by the API.
type Summary struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Owner       string `json:"owner"`
	Asset       string `json:"asset"`
	Address     string `json:"address,omitempty"`
	TotalWeight string `json:"totalWeight"`
	Accumulator string `json:"accumulator"`
	Remainder   string `json:"remainder"`
	Received    string `json:"received"`
	Holders     int    `json:"holders"`
}

type base struct {
	id   string
	kind Kind
	deps Deps

	mu          sync.RWMutex
	initialized bool
	owner       common.Address
	address     common.Address
	cfg         Config
	policy      splitter.Policy
	source      *distribution.Source

	// undistributed holds fees already withdrawn from escrow that a failed
	// split could not credit. The next pull retries them first.
	undistributed *uint256.Int

	// opMu serialises splits with share-table changes that touch several holders.
	opMu   sync.Mutex
	tracer trace.Tracer
}

func newBase(id string, kind Kind, deps Deps) *base {
	if deps.Emitter == nil {
		deps.Emitter = events.NoopEmitter{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &base{
		id:     id,
		kind:   kind,
		deps:   deps,
		tracer: otel.Tracer("revledger/treasury"),

		undistributed: new(uint256.Int),
	}
}

// initialize validates the shared configuration and opens the source. register,
// when set, seeds the source before the manager accepts calls; a failure leaves
// the manager uninitialized. Callers hold b.mu.
func (b *base) initialize(owner common.Address, cfg Config, policy splitter.Policy, fallback common.Address, register func(*distribution.Source) error) error {
	if b.initialized {
		return distribution.ErrAlreadyInitialized
	}
	if owner == (common.Address{}) {
		return fmt.Errorf("%w: owner", distribution.ErrInvalidRecipient)
	}
	address, err := cfg.address()
	if err != nil {
		return err
	}
	source, err := b.openSource(cfg.Asset, fallback)
	if err != nil {
		return err
	}
	if register != nil {
		if err := register(source); err != nil {
			return err
		}
	}
	b.owner = owner
	b.address = address
	b.cfg = cfg
	b.policy = policy
	b.source = source
	b.initialized = true
	b.deps.Logger.Info("revenue manager initialized",
		"manager", b.id, "kind", string(b.kind), "owner", owner.Hex(), "asset", cfg.Asset)
	return nil
}

func (b *base) openSource(asset string, fallback common.Address) (*distribution.Source, error) {
	var source *distribution.Source
	if b.deps.Store != nil {
		snapshot, ok, err := b.deps.Store.LoadSnapshot(b.id)
		if err != nil {
			return nil, fmt.Errorf("treasury: load %s: %w", b.id, err)
		}
		if ok {
			source, err = distribution.Restore(snapshot)
			if err != nil {
				return nil, err
			}
		}
	}
	if source == nil {
		source = distribution.NewSource(b.id, asset, fallback)
	}
	if b.deps.Store != nil {
		source.SetStore(b.deps.Store)
	}
	source.SetPayer(b.deps.Payer)
	source.SetEmitter(b.deps.Emitter)
	source.SetLogger(b.deps.Logger.With("manager", b.id))
	now := b.deps.Now
	source.SetNowFunc(func() int64 { return now().Unix() })
	return source, nil
}

// ID returns the manager identifier.
func (b *base) ID() string { return b.id }

// Kind returns the manager variant.
func (b *base) Kind() Kind { return b.kind }

// Owner returns the account allowed to administer the manager.
func (b *base) Owner() common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.owner
}

// Initialized reports whether Initialize has completed.
func (b *base) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// Source returns the underlying distribution source, or nil before
// initialisation.
func (b *base) Source() *distribution.Source {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.source
}

// TransferOwnership hands administration to next.
func (b *base) TransferOwnership(caller, next common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.requireInitializedLocked(); err != nil {
		return err
	}
	if err := b.requireOwnerLocked(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return fmt.Errorf("%w: owner", distribution.ErrInvalidRecipient)
	}
	b.owner = next
	return nil
}

func (b *base) requireInitialized() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.requireInitializedLocked()
}

func (b *base) requireInitializedLocked() error {
	if !b.initialized {
		return distribution.ErrNotInitialized
	}
	return nil
}

func (b *base) requireOwner(caller common.Address) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.requireInitializedLocked(); err != nil {
		return err
	}
	return b.requireOwnerLocked(caller)
}

func (b *base) requireOwnerLocked(caller common.Address) error {
	if caller != b.owner {
		return fmt.Errorf("%w: %s", distribution.ErrNotOwner, caller.Hex())
	}
	return nil
}

func (b *base) currentPolicy() splitter.Policy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.policy
}

// Receive applies the split to gross and accrues the pool to stakeholders.
func (b *base) Receive(ctx context.Context, gross *uint256.Int) (splitter.Breakdown, error) {
	return b.receive(ctx, gross, "direct")
}

func (b *base) receive(ctx context.Context, gross *uint256.Int, origin string) (splitter.Breakdown, error) {
	if err := b.requireInitialized(); err != nil {
		return splitter.Breakdown{}, err
	}
	b.opMu.Lock()
	defer b.opMu.Unlock()
	breakdown, err := b.currentPolicy().Apply(gross)
	if err != nil {
		return splitter.Breakdown{}, err
	}
	cuts := make([]distribution.FixedCut, 0, len(breakdown.Cuts))
	for _, cut := range breakdown.Cuts {
		cuts = append(cuts, distribution.FixedCut{Recipient: cut.Share.Recipient, Kind: cut.Share.Kind.String(), Amount: cut.Amount})
	}
	source := b.Source()
	if err := source.Apply(ctx, cuts, breakdown.Pool); err != nil {
		return splitter.Breakdown{}, err
	}
	metrics := observability.Distribution()
	metrics.RecordInflow(b.id, origin, source.Asset(), gross)
	metrics.RecordState(b.id, source.TotalWeight(), source.Remainder())
	return breakdown, nil
}

// Sync withdraws accrued fees from escrow and distributes them.
func (b *base) Sync(ctx context.Context) (*uint256.Int, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	return b.pull(ctx)
}

func (b *base) pull(ctx context.Context) (*uint256.Int, error) {
	if b.deps.Escrow == nil {
		return nil, ErrEscrowNotConfigured
	}
	b.mu.RLock()
	address, unwrap := b.address, b.cfg.UnwrapToNative
	b.mu.RUnlock()
	amount, err := b.deps.Escrow.WithdrawFees(ctx, address, unwrap)
	if err != nil {
		return nil, fmt.Errorf("treasury: withdraw fees for %s: %w", b.id, err)
	}
	b.mu.Lock()
	total := b.undistributed
	b.undistributed = new(uint256.Int)
	b.mu.Unlock()
	if amount != nil {
		total = new(uint256.Int).Add(total, amount)
	}
	if total.IsZero() {
		return total, nil
	}
	// The fees have left escrow; the caller going away must not strand them.
	if _, err := b.receive(context.WithoutCancel(ctx), total, "escrow"); err != nil {
		b.mu.Lock()
		b.undistributed.Add(b.undistributed, total)
		b.mu.Unlock()
		b.deps.Logger.Warn("withdrawn fees held for the next sync",
			"manager", b.id, "amount", total.Dec(), "error", err)
		return nil, err
	}
	return total, nil
}

// Undistributed returns fees withdrawn from escrow that are still waiting to
// be split.
func (b *base) Undistributed() *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fixedpoint.Clone(b.undistributed)
}

// ClaimFixed pays the owed balance of a protocol, creator or fallback account.
func (b *base) ClaimFixed(ctx context.Context, recipient common.Address) (*uint256.Int, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	return b.traceClaim(ctx, "treasury.claim_fixed", func(ctx context.Context) (*uint256.Int, error) {
		return b.Source().ClaimFixed(ctx, recipient)
	})
}

func (b *base) claimHolder(ctx context.Context, holder distribution.HolderID, recipient common.Address) (*uint256.Int, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	if b.deps.Escrow != nil {
		if _, err := b.pull(ctx); err != nil {
			return nil, err
		}
	}
	return b.traceClaim(ctx, "treasury.claim", func(ctx context.Context) (*uint256.Int, error) {
		return b.Source().Claim(ctx, holder, recipient)
	})
}

func (b *base) claimBatch(ctx context.Context, legs []distribution.ClaimLeg) ([]distribution.LegResult, error) {
	if err := b.requireInitialized(); err != nil {
		return nil, err
	}
	if b.deps.Escrow != nil {
		if _, err := b.pull(ctx); err != nil {
			return nil, err
		}
	}
	start := b.deps.Now()
	ctx, span := b.tracer.Start(ctx, "treasury.claim_batch",
		trace.WithAttributes(attribute.String("manager", b.id), attribute.Int("legs", len(legs))))
	defer span.End()
	results := b.Source().ClaimBatch(ctx, legs)
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	var batchErr error
	if failed > 0 {
		batchErr = fmt.Errorf("%d of %d legs failed", failed, len(results))
		span.SetStatus(codes.Error, batchErr.Error())
	} else {
		span.SetStatus(codes.Ok, "claimed")
	}
	observability.Distribution().RecordClaim(b.id, batchErr, b.deps.Now().Sub(start))
	return results, nil
}

func (b *base) traceClaim(ctx context.Context, name string, fn func(context.Context) (*uint256.Int, error)) (*uint256.Int, error) {
	start := b.deps.Now()
	ctx, span := b.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("manager", b.id)))
	defer span.End()
	amount, err := fn(ctx)
	observability.Distribution().RecordClaim(b.id, err, b.deps.Now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("amount", amount.Dec()))
	span.SetStatus(codes.Ok, "claimed")
	return amount, nil
}

// Summary reports the manager's current totals.
func (b *base) Summary() Summary {
	b.mu.RLock()
	summary := Summary{
		ID:    b.id,
		Kind:  b.kind,
		Owner: b.owner.Hex(),
		Asset: b.cfg.Asset,
	}
	if b.address != (common.Address{}) {
		summary.Address = b.address.Hex()
	}
	source := b.source
	b.mu.RUnlock()
	if source == nil {
		summary.TotalWeight, summary.Accumulator, summary.Remainder, summary.Received = "0", "0", "0", "0"
		return summary
	}
	snapshot := source.Snapshot()
	summary.TotalWeight = snapshot.State.TotalWeight.Dec()
	summary.Accumulator = snapshot.State.Accumulator.Dec()
	summary.Remainder = source.Remainder().Dec()
	summary.Received = snapshot.State.Received.Dec()
	summary.Holders = len(snapshot.Holders)
	return summary
}
