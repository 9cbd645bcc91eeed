package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/fixedpoint"
)

var (
	// ErrPoolNotFound is returned when a pool has not been registered.
	ErrPoolNotFound = errors.New("escrow: pool not found")
	// ErrPoolExists is returned when registering a pool twice.
	ErrPoolExists = errors.New("escrow: pool already registered")
	// ErrInvalidBeneficiary is returned for a zero beneficiary address.
	ErrInvalidBeneficiary = errors.New("escrow: invalid beneficiary")
)

// Escrow is the fee escrow boundary consumed by revenue managers. Totals are
// cumulative and never decrease; withdrawals drain everything owed to the
// recipient.
type Escrow interface {
	WithdrawFees(ctx context.Context, recipient common.Address, unwrapToNative bool) (*uint256.Int, error)
	TotalFeesAllocated(ctx context.Context, poolID common.Hash) (*uint256.Int, error)
}

type pool struct {
	beneficiary common.Address
	total       *uint256.Int
}

// Withdrawal records a completed withdrawal.
type Withdrawal struct {
	Recipient common.Address
	Amount    *uint256.Int
	Native    bool
}

// MemEscrow is an in-memory Escrow used by the daemon's local mode and tests.
type MemEscrow struct {
	mu          sync.Mutex
	pools       map[common.Hash]*pool
	owed        map[common.Address]*uint256.Int
	withdrawals []Withdrawal
	failNext    error
}

// NewMemEscrow constructs an empty escrow.
func NewMemEscrow() *MemEscrow {
	return &MemEscrow{
		pools: make(map[common.Hash]*pool),
		owed:  make(map[common.Address]*uint256.Int),
	}
}

// RegisterPool binds a pool to the account its fees accrue to.
func (e *MemEscrow) RegisterPool(poolID common.Hash, beneficiary common.Address) error {
	if beneficiary == (common.Address{}) {
		return ErrInvalidBeneficiary
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pools[poolID]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, poolID.Hex())
	}
	e.pools[poolID] = &pool{beneficiary: beneficiary, total: new(uint256.Int)}
	return nil
}

// Allocate records amount of fees earned by the pool.
func (e *MemEscrow) Allocate(poolID common.Hash, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, poolID.Hex())
	}
	total, err := fixedpoint.Add(p.total, amount)
	if err != nil {
		return err
	}
	owed, err := fixedpoint.Add(e.owed[p.beneficiary], amount)
	if err != nil {
		return err
	}
	p.total = total
	e.owed[p.beneficiary] = owed
	return nil
}

// Credit adds fees owed to recipient that are not attributed to any pool.
func (e *MemEscrow) Credit(recipient common.Address, amount *uint256.Int) error {
	if recipient == (common.Address{}) {
		return ErrInvalidBeneficiary
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	owed, err := fixedpoint.Add(e.owed[recipient], amount)
	if err != nil {
		return err
	}
	e.owed[recipient] = owed
	return nil
}

// FailNextWithdrawal makes the next WithdrawFees call return err.
func (e *MemEscrow) FailNextWithdrawal(err error) {
	e.mu.Lock()
	e.failNext = err
	e.mu.Unlock()
}

// WithdrawFees implements Escrow.
func (e *MemEscrow) WithdrawFees(ctx context.Context, recipient common.Address, unwrapToNative bool) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failNext; err != nil {
		e.failNext = nil
		return nil, err
	}
	amount := fixedpoint.Clone(e.owed[recipient])
	delete(e.owed, recipient)
	if !amount.IsZero() {
		e.withdrawals = append(e.withdrawals, Withdrawal{Recipient: recipient, Amount: fixedpoint.Clone(amount), Native: unwrapToNative})
	}
	return amount, nil
}

// TotalFeesAllocated implements Escrow.
func (e *MemEscrow) TotalFeesAllocated(ctx context.Context, poolID common.Hash) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID.Hex())
	}
	return fixedpoint.Clone(p.total), nil
}

// Pending returns what WithdrawFees would currently pay to recipient.
func (e *MemEscrow) Pending(recipient common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixedpoint.Clone(e.owed[recipient])
}

// Withdrawals returns the withdrawal history.
func (e *MemEscrow) Withdrawals() []Withdrawal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Withdrawal(nil), e.withdrawals...)
}
