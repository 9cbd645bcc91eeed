package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrRejected marks a transfer the wallet refused outright. Retrying it cannot
// succeed.
var ErrRejected = errors.New("wallet: transfer rejected")

// Wallet captures what payoutd needs from the treasury hot wallet.
type Wallet interface {
	Transfer(ctx context.Context, asset string, to common.Address, amount *uint256.Int) (string, error)
	WaitForConfirmations(ctx context.Context, txHash string, confirmations int, pollInterval time.Duration) error
}

// FuncWallet adapts callbacks to the Wallet interface. Nil callbacks succeed.
type FuncWallet struct {
	TransferFunc func(ctx context.Context, asset string, to common.Address, amount *uint256.Int) (string, error)
	ConfirmFunc  func(ctx context.Context, txHash string, confirmations int, pollInterval time.Duration) error
}

// Transfer delegates to TransferFunc.
func (w FuncWallet) Transfer(ctx context.Context, asset string, to common.Address, amount *uint256.Int) (string, error) {
	if w.TransferFunc == nil {
		return "", nil
	}
	return w.TransferFunc(ctx, asset, to, amount)
}

// WaitForConfirmations delegates to ConfirmFunc.
func (w FuncWallet) WaitForConfirmations(ctx context.Context, txHash string, confirmations int, pollInterval time.Duration) error {
	if w.ConfirmFunc == nil {
		return nil
	}
	return w.ConfirmFunc(ctx, txHash, confirmations, pollInterval)
}

// Unconfigured returns a wallet that rejects every transfer.
func Unconfigured() Wallet {
	return FuncWallet{
		TransferFunc: func(context.Context, string, common.Address, *uint256.Int) (string, error) {
			return "", errors.Join(ErrRejected, errors.New("treasury wallet not configured"))
		},
	}
}
