package escrow

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestMemEscrowAllocationsAndWithdrawals(t *testing.T) {
	ctx := context.Background()
	esc := NewMemEscrow()
	manager := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	poolA := common.HexToHash("0xa")
	poolB := common.HexToHash("0xb")
	if err := esc.RegisterPool(poolA, manager); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := esc.RegisterPool(poolB, manager); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := esc.RegisterPool(poolA, manager); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
	if err := esc.Allocate(poolA, uint256.NewInt(40)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := esc.Allocate(poolB, uint256.NewInt(2)); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	total, err := esc.TotalFeesAllocated(ctx, poolA)
	if err != nil || total.Uint64() != 40 {
		t.Fatalf("total: %v %v", total, err)
	}
	got, err := esc.WithdrawFees(ctx, manager, true)
	if err != nil || got.Uint64() != 42 {
		t.Fatalf("withdraw: %v %v", got, err)
	}
	again, err := esc.WithdrawFees(ctx, manager, true)
	if err != nil || !again.IsZero() {
		t.Fatalf("second withdraw: %v %v", again, err)
	}
	total, _ = esc.TotalFeesAllocated(ctx, poolA)
	if total.Uint64() != 40 {
		t.Fatalf("withdrawal must not reduce cumulative totals: %s", total.Dec())
	}
	if len(esc.Withdrawals()) != 1 || !esc.Withdrawals()[0].Native {
		t.Fatalf("unexpected history %+v", esc.Withdrawals())
	}
}

func TestMemEscrowErrors(t *testing.T) {
	ctx := context.Background()
	esc := NewMemEscrow()
	if _, err := esc.TotalFeesAllocated(ctx, common.HexToHash("0x1")); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}
	if err := esc.RegisterPool(common.HexToHash("0x1"), common.Address{}); !errors.Is(err, ErrInvalidBeneficiary) {
		t.Fatalf("expected ErrInvalidBeneficiary, got %v", err)
	}
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	if err := esc.Credit(recipient, uint256.NewInt(3)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	boom := errors.New("paused")
	esc.FailNextWithdrawal(boom)
	if _, err := esc.WithdrawFees(ctx, recipient, false); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if esc.Pending(recipient).Uint64() != 3 {
		t.Fatalf("failed withdrawal drained balance")
	}
}
