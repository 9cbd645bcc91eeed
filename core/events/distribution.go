package events

import (
	"strings"

	"revledger/core/types"
)

const (
	// TypeInflowReceived is emitted when revenue is folded into a source accumulator.
	TypeInflowReceived = "distribution.inflow.received"
	// TypeInflowFallback is emitted when revenue arrives while no weight is registered.
	TypeInflowFallback = "distribution.inflow.fallback"
	// TypeFixedCredited is emitted when a fixed-cut recipient is credited.
	TypeFixedCredited = "distribution.fixed.credited"
	// TypeSharesUpdated is emitted when a recipient share table changes.
	TypeSharesUpdated = "distribution.shares.updated"
	// TypeStakeJoined is emitted when a holder registers weight for the first time.
	TypeStakeJoined = "distribution.stake.joined"
	// TypeStakeIncreased is emitted when a holder adds weight.
	TypeStakeIncreased = "distribution.stake.increased"
	// TypeStakeDecreased is emitted when a holder removes part of its weight.
	TypeStakeDecreased = "distribution.stake.decreased"
	// TypeStakeLeft is emitted when a holder removes all of its weight.
	TypeStakeLeft = "distribution.stake.left"
	// TypeStakeTransferred is emitted when weight and carry move between holders.
	TypeStakeTransferred = "distribution.stake.transferred"
	// TypeClaimExecuted is emitted after a successful payout.
	TypeClaimExecuted = "distribution.claim.executed"
	// TypeClaimFailed is emitted when a payout leg fails and its carry is restored.
	TypeClaimFailed = "distribution.claim.failed"
)

// InflowReceived captures an accumulator update.
type InflowReceived struct {
	Source      string
	Asset       string
	Amount      string
	Accumulator string
	TotalWeight string
	Remainder   string
}

// EventType satisfies the Event interface.
func (InflowReceived) EventType() string { return TypeInflowReceived }

// Event converts the structured payload into a broadcastable event.
func (e InflowReceived) Event() *types.Event {
	return &types.Event{
		Type: TypeInflowReceived,
		Attributes: map[string]string{
			"source":      e.Source,
			"asset":       normalizeAsset(e.Asset),
			"amount":      e.Amount,
			"accumulator": e.Accumulator,
			"totalWeight": e.TotalWeight,
			"remainder":   e.Remainder,
		},
	}
}

// InflowFallback captures revenue routed to the fallback recipient.
type InflowFallback struct {
	Source    string
	Recipient string
	Amount    string
}

// EventType satisfies the Event interface.
func (InflowFallback) EventType() string { return TypeInflowFallback }

// Event converts the structured payload into a broadcastable event.
func (e InflowFallback) Event() *types.Event {
	return &types.Event{
		Type: TypeInflowFallback,
		Attributes: map[string]string{
			"source":    e.Source,
			"recipient": e.Recipient,
			"amount":    e.Amount,
		},
	}
}

// FixedCredited captures a credit to a fixed-cut recipient.
type FixedCredited struct {
	Source    string
	Recipient string
	Kind      string
	Amount    string
	Owed      string
}

// EventType satisfies the Event interface.
func (FixedCredited) EventType() string { return TypeFixedCredited }

// Event converts the structured payload into a broadcastable event.
func (e FixedCredited) Event() *types.Event {
	return &types.Event{
		Type: TypeFixedCredited,
		Attributes: map[string]string{
			"source":    e.Source,
			"recipient": e.Recipient,
			"kind":      e.Kind,
			"amount":    e.Amount,
			"owed":      e.Owed,
		},
	}
}

// SharesUpdated captures a change to a recipient share table row.
type SharesUpdated struct {
	Source    string
	Holder    string
	OldWeight string
	NewWeight string
}

// EventType satisfies the Event interface.
func (SharesUpdated) EventType() string { return TypeSharesUpdated }

// Event converts the structured payload into a broadcastable event.
func (e SharesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeSharesUpdated,
		Attributes: map[string]string{
			"source":    e.Source,
			"holder":    e.Holder,
			"oldWeight": e.OldWeight,
			"newWeight": e.NewWeight,
		},
	}
}

// StakeChanged captures join/increase/decrease/leave operations. Type selects
// which of the stake event types is reported.
type StakeChanged struct {
	Type        string
	Source      string
	Holder      string
	Delta       string
	Weight      string
	TotalWeight string
	Carried     string
}

// EventType satisfies the Event interface.
func (e StakeChanged) EventType() string { return e.Type }

// Event converts the structured payload into a broadcastable event.
func (e StakeChanged) Event() *types.Event {
	return &types.Event{
		Type: e.Type,
		Attributes: map[string]string{
			"source":      e.Source,
			"holder":      e.Holder,
			"delta":       e.Delta,
			"weight":      e.Weight,
			"totalWeight": e.TotalWeight,
			"carried":     e.Carried,
		},
	}
}

// StakeTransferred captures weight and carry moving between holders.
type StakeTransferred struct {
	Source  string
	From    string
	To      string
	Weight  string
	Carried string
}

// EventType satisfies the Event interface.
func (StakeTransferred) EventType() string { return TypeStakeTransferred }

// Event converts the structured payload into a broadcastable event.
func (e StakeTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeTransferred,
		Attributes: map[string]string{
			"source":  e.Source,
			"from":    e.From,
			"to":      e.To,
			"weight":  e.Weight,
			"carried": e.Carried,
		},
	}
}

// ClaimExecuted captures a successful payout with the running claimed total.
type ClaimExecuted struct {
	Source       string
	Holder       string
	Recipient    string
	Amount       string
	TotalClaimed string
}

// EventType satisfies the Event interface.
func (ClaimExecuted) EventType() string { return TypeClaimExecuted }

// Event converts the structured payload into a broadcastable event.
func (e ClaimExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimExecuted,
		Attributes: map[string]string{
			"source":       e.Source,
			"holder":       e.Holder,
			"recipient":    e.Recipient,
			"amount":       e.Amount,
			"totalClaimed": e.TotalClaimed,
		},
	}
}

// ClaimFailed captures a payout leg that could not be delivered.
type ClaimFailed struct {
	Source    string
	Holder    string
	Recipient string
	Amount    string
	Reason    string
}

// EventType satisfies the Event interface.
func (ClaimFailed) EventType() string { return TypeClaimFailed }

// Event converts the structured payload into a broadcastable event.
func (e ClaimFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeClaimFailed,
		Attributes: map[string]string{
			"source":    e.Source,
			"holder":    e.Holder,
			"recipient": e.Recipient,
			"amount":    e.Amount,
			"reason":    e.Reason,
		},
	}
}

// normalizeAsset renders asset symbols in their canonical upper-case form.
func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
