package distribution

import (
	"errors"

	"revledger/native/fixedpoint"
	"revledger/native/splitter"
)

var (
	// ErrInvalidShareTotal is re-exported so adapters can surface a single error set.
	ErrInvalidShareTotal = splitter.ErrInvalidShareTotal
	// ErrInvalidProtocolFee is re-exported from the splitter.
	ErrInvalidProtocolFee = splitter.ErrInvalidProtocolFee
	// ErrInvalidRecipient is re-exported from the splitter.
	ErrInvalidRecipient = splitter.ErrInvalidRecipient
	// ErrInvalidCreatorAddress is re-exported from the splitter.
	ErrInvalidCreatorAddress = splitter.ErrInvalidCreatorAddress
	// ErrOverflow is re-exported from the fixed point helpers.
	ErrOverflow = fixedpoint.ErrOverflow

	// ErrInsufficientBalance indicates a weight decrease larger than the holder's weight.
	ErrInsufficientBalance = errors.New("distribution: insufficient balance")
	// ErrStakeLocked indicates the holder's weight is still under timelock.
	ErrStakeLocked = errors.New("distribution: stake locked")
	// ErrUnableToSendRevenue wraps payout failures.
	ErrUnableToSendRevenue = errors.New("distribution: unable to send revenue")
	// ErrUnknownHolder indicates no record exists for the holder.
	ErrUnknownHolder = errors.New("distribution: unknown holder")
	// ErrHolderExists indicates a join for a holder that already carries weight.
	ErrHolderExists = errors.New("distribution: holder already registered")
	// ErrClaimInProgress indicates a payout for the holder is outstanding.
	ErrClaimInProgress = errors.New("distribution: claim in progress")
	// ErrAllocationRegressed indicates an observed allocation counter went backwards.
	ErrAllocationRegressed = errors.New("distribution: allocation counter regressed")
	// ErrInvalidAmount indicates a zero or missing amount where one is required.
	ErrInvalidAmount = errors.New("distribution: amount must be positive")
	// ErrAlreadyInitialized indicates a second initialisation attempt.
	ErrAlreadyInitialized = errors.New("distribution: already initialized")
	// ErrNotInitialized indicates use of a component before initialisation.
	ErrNotInitialized = errors.New("distribution: not initialized")
	// ErrNotOwner indicates the caller does not own the resource it acts on.
	ErrNotOwner = errors.New("distribution: caller is not the owner")
	// ErrPayerNotConfigured indicates a claim was attempted without a payer.
	ErrPayerNotConfigured = errors.New("distribution: payer not configured")
)
