package payoutd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"revledger/native/distribution"
	"revledger/observability"
	"revledger/services/payoutd/wallet"
)

// ErrProcessorPaused is returned when a payout is attempted while the processor is paused.
var ErrProcessorPaused = errors.New("payoutd: processor paused")

// ErrWalletNotConfigured is returned when no wallet has been supplied.
var ErrWalletNotConfigured = errors.New("payoutd: wallet not configured")

// Processor delivers claimed revenue through the treasury wallet. It satisfies
// distribution.Payer so managers can hand it to their sources directly.
type Processor struct {
	wallet        wallet.Wallet
	journal       *Journal
	metrics       *observability.PayoutdMetrics
	logger        *slog.Logger
	tracer        trace.Tracer
	confirmations int
	pollInterval  time.Duration
	maxRetries    uint64
	newBackOff    func() backoff.BackOff
	now           func() time.Time

	mu        sync.Mutex
	paused    bool
	inFlight  int
	completed int
	failed    int
}

var _ distribution.Payer = (*Processor)(nil)

// ProcessorOption customises the processor instance.
type ProcessorOption func(*Processor)

// WithWallet supplies the hot wallet implementation.
func WithWallet(w wallet.Wallet) ProcessorOption {
	return func(p *Processor) { p.wallet = w }
}

// WithJournal records completed payouts in j.
func WithJournal(j *Journal) ProcessorOption {
	return func(p *Processor) { p.journal = j }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithConfirmations configures how many confirmations a transfer needs and
// how often they are polled.
func WithConfirmations(confirmations int, pollInterval time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.confirmations = confirmations
		if pollInterval > 0 {
			p.pollInterval = pollInterval
		}
	}
}

// WithRetry bounds transfer attempts. newBackOff may be nil to keep the
// default exponential schedule.
func WithRetry(maxRetries uint64, newBackOff func() backoff.BackOff) ProcessorOption {
	return func(p *Processor) {
		p.maxRetries = maxRetries
		if newBackOff != nil {
			p.newBackOff = newBackOff
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) ProcessorOption {
	return func(p *Processor) { p.now = clock }
}

// NewProcessor constructs a payout processor.
func NewProcessor(opts ...ProcessorOption) *Processor {
	proc := &Processor{
		metrics:       observability.Payoutd(),
		logger:        slog.Default(),
		tracer:        otel.Tracer("revledger/payoutd"),
		confirmations: 1,
		pollInterval:  5 * time.Second,
		maxRetries:    3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(proc)
	}
	return proc
}

// Pay transfers payout.Amount to payout.Recipient. Transfer submission is
// retried with bounded backoff; a rejected transfer or an exhausted retry
// budget is returned to the caller, which restores the claimant's balance.
func (p *Processor) Pay(ctx context.Context, payout distribution.Payout) (err error) {
	asset := strings.ToUpper(strings.TrimSpace(payout.Asset))
	if payout.Amount == nil || payout.Amount.IsZero() {
		return fmt.Errorf("payoutd: amount required")
	}
	if payout.Recipient == (common.Address{}) {
		return fmt.Errorf("payoutd: recipient required")
	}

	p.mu.Lock()
	if p.paused {
		p.mu.Unlock()
		p.metrics.RecordError(asset, "paused")
		return ErrProcessorPaused
	}
	if p.wallet == nil {
		p.mu.Unlock()
		p.metrics.RecordError(asset, "wallet")
		return ErrWalletNotConfigured
	}
	p.inFlight++
	p.mu.Unlock()

	ctx, span := p.tracer.Start(ctx, "payoutd.pay", trace.WithAttributes(
		attribute.String("source", payout.Source),
		attribute.String("asset", asset),
		attribute.String("holder", string(payout.Holder)),
		attribute.String("amount", payout.Amount.Dec()),
	))
	start := p.now()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		if err != nil {
			p.failed++
		} else {
			p.completed++
		}
		p.mu.Unlock()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "paid")
		}
		span.End()
	}()

	attempts := 0
	var txHash string
	operation := func() error {
		attempts++
		hash, err := p.wallet.Transfer(ctx, asset, payout.Recipient, payout.Amount)
		if err != nil {
			if errors.Is(err, wallet.ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		txHash = hash
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		p.metrics.RecordRetry(asset)
		p.logger.Warn("payoutd transfer retry",
			"source", payout.Source, "holder", string(payout.Holder), "attempt", attempts, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		p.metrics.RecordError(asset, "transfer")
		return fmt.Errorf("payoutd: transfer after %d attempt(s): %w", attempts, err)
	}
	if p.confirmations > 0 {
		if err := p.wallet.WaitForConfirmations(ctx, txHash, p.confirmations, p.pollInterval); err != nil {
			p.metrics.RecordError(asset, "confirmations")
			return fmt.Errorf("payoutd: confirm %s: %w", txHash, err)
		}
	}

	receipt := Receipt{
		ID:        uuid.NewString(),
		Reference: payout.Reference,
		Source:    payout.Source,
		Asset:     asset,
		Holder:    string(payout.Holder),
		Recipient: payout.Recipient.Hex(),
		Amount:    payout.Amount.Dec(),
		TxHash:    txHash,
		Attempts:  attempts,
		SettledAt: p.now().UTC(),
	}
	if p.journal != nil {
		// The funds have moved, so a journal failure must not fail the payout.
		if err := p.journal.Append(receipt); err != nil {
			p.metrics.RecordError(asset, "journal")
			p.logger.Error("payoutd receipt journal failed", "receipt", receipt.ID, "tx", txHash, "error", err)
		}
	}
	p.metrics.RecordPaid(asset, payout.Amount)
	p.metrics.ObserveLatency(asset, p.now().Sub(start))
	p.logger.Info("payoutd payout settled",
		"receipt", receipt.ID, "source", payout.Source, "holder", receipt.Holder, "amount", receipt.Amount, "tx", txHash)
	return nil
}

// Pause halts new payout processing.
func (p *Processor) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.metrics.SetPause(true)
}

// Resume re-enables payout processing.
func (p *Processor) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.metrics.SetPause(false)
}

// Receipts lists the journaled receipts. Without a journal it returns nil.
func (p *Processor) Receipts() ([]Receipt, error) {
	if p.journal == nil {
		return nil, nil
	}
	return p.journal.Receipts()
}

// Status summarises processor state for administrative endpoints.
type Status struct {
	Paused    bool `json:"paused"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	InFlight  int  `json:"in_flight"`
}

// Status reports the current processor status snapshot.
func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Paused: p.paused, Completed: p.completed, Failed: p.failed, InFlight: p.inFlight}
}
