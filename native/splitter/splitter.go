package splitter

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/fixedpoint"
)

const (
	// MaxPercent2dp expresses 100.00%.
	MaxPercent2dp uint64 = 100_00
	// MaxPercent5dp expresses 100.00000%.
	MaxPercent5dp uint64 = 100_00000
)

var (
	// ErrInvalidShareTotal indicates a share level does not sum to the valid total.
	ErrInvalidShareTotal = errors.New("splitter: invalid share total")
	// ErrInvalidProtocolFee indicates the protocol cut exceeds the percent scale.
	ErrInvalidProtocolFee = errors.New("splitter: invalid protocol fee")
	// ErrInvalidRecipient indicates a fixed-cut recipient is the zero address.
	ErrInvalidRecipient = errors.New("splitter: invalid recipient")
	// ErrInvalidCreatorAddress indicates the creator recipient is the zero address.
	ErrInvalidCreatorAddress = errors.New("splitter: invalid creator address")
	// ErrInvalidScale indicates an unsupported percent denominator.
	ErrInvalidScale = errors.New("splitter: unsupported percent scale")
)

// Kind identifies the class of party receiving a share.
type Kind uint8

const (
	// KindProtocol is the protocol treasury cut.
	KindProtocol Kind = iota + 1
	// KindCreator is the creator allocation.
	KindCreator
	// KindPool is the proportional remainder accrued by stakeholders.
	KindPool
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindCreator:
		return "creator"
	case KindPool:
		return "pool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Share is one fixed cut in a cascading split.
type Share struct {
	Kind      Kind
	Recipient common.Address
	Percent   uint64
}

// Policy describes ordered fixed cuts. Each cut is taken from what the
// previous cuts left over and rounds up in the fixed recipient's favour. What
// remains after the last cut belongs to the pool.
type Policy struct {
	MaxPercent uint64
	Cuts       []Share
}

// Cut is the realised amount for one share.
type Cut struct {
	Share  Share
	Amount *uint256.Int
}

// Breakdown is the outcome of applying a policy to a gross amount.
type Breakdown struct {
	Gross *uint256.Int
	Cuts  []Cut
	Pool  *uint256.Int
}

// Amount returns the total cut realised for the supplied kind.
func (b Breakdown) Amount(kind Kind) *uint256.Int {
	total := new(uint256.Int)
	for _, cut := range b.Cuts {
		if cut.Share.Kind == kind && cut.Amount != nil {
			total.Add(total, cut.Amount)
		}
	}
	return total
}

// ValidScale reports whether denom is a supported percent denominator.
func ValidScale(denom uint64) bool {
	return denom == MaxPercent2dp || denom == MaxPercent5dp
}

// Validate checks the policy once at initialisation.
func (p Policy) Validate() error {
	if !ValidScale(p.MaxPercent) {
		return fmt.Errorf("%w: %d", ErrInvalidScale, p.MaxPercent)
	}
	for i, share := range p.Cuts {
		if share.Percent > p.MaxPercent {
			if share.Kind == KindProtocol {
				return fmt.Errorf("%w: %d exceeds %d", ErrInvalidProtocolFee, share.Percent, p.MaxPercent)
			}
			return fmt.Errorf("%w: cut %d (%s) is %d of %d", ErrInvalidShareTotal, i, share.Kind, share.Percent, p.MaxPercent)
		}
		if share.Kind == KindPool {
			return fmt.Errorf("%w: cut %d cannot target the pool", ErrInvalidShareTotal, i)
		}
		if share.Percent == 0 {
			continue
		}
		if share.Recipient == (common.Address{}) {
			if share.Kind == KindCreator {
				return ErrInvalidCreatorAddress
			}
			return fmt.Errorf("%w: %s cut has zero recipient", ErrInvalidRecipient, share.Kind)
		}
	}
	return nil
}

// Apply splits gross according to the cascading policy.
func (p Policy) Apply(gross *uint256.Int) (Breakdown, error) {
	result := Breakdown{Gross: fixedpoint.Clone(gross), Cuts: make([]Cut, 0, len(p.Cuts))}
	remaining := fixedpoint.Clone(gross)
	denom := uint256.NewInt(p.MaxPercent)
	for _, share := range p.Cuts {
		amount := new(uint256.Int)
		if share.Percent > 0 && !remaining.IsZero() {
			var err error
			amount, err = fixedpoint.MulDivUp(remaining, uint256.NewInt(share.Percent), denom)
			if err != nil {
				return Breakdown{}, err
			}
			if amount.Gt(remaining) {
				amount = fixedpoint.Clone(remaining)
			}
		}
		remaining = new(uint256.Int).Sub(remaining, amount)
		result.Cuts = append(result.Cuts, Cut{Share: share, Amount: amount})
	}
	result.Pool = remaining
	return result, nil
}

// Allocation is a row of a fixed percentage table.
type Allocation struct {
	Recipient common.Address
	Percent   uint64
}

// ValidateTable checks that a recipient table sums to exactly denom with
// distinct, non-zero recipients.
func ValidateTable(rows []Allocation, denom uint64) error {
	if !ValidScale(denom) {
		return fmt.Errorf("%w: %d", ErrInvalidScale, denom)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: empty table", ErrInvalidShareTotal)
	}
	seen := make(map[common.Address]struct{}, len(rows))
	var total uint64
	for i, row := range rows {
		if row.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: row %d", ErrInvalidRecipient, i)
		}
		if _, dup := seen[row.Recipient]; dup {
			return fmt.Errorf("%w: duplicate recipient %s", ErrInvalidRecipient, row.Recipient.Hex())
		}
		seen[row.Recipient] = struct{}{}
		if row.Percent == 0 || row.Percent > denom {
			return fmt.Errorf("%w: row %d has %d", ErrInvalidShareTotal, i, row.Percent)
		}
		total += row.Percent
	}
	if total != denom {
		return fmt.Errorf("%w: sum %d, want %d", ErrInvalidShareTotal, total, denom)
	}
	return nil
}
