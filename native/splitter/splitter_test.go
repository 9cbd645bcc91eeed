package splitter

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	protocolAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	creatorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func TestProtocolOnlySplit(t *testing.T) {
	policy := Policy{
		MaxPercent: MaxPercent2dp,
		Cuts:       []Share{{Kind: KindProtocol, Recipient: protocolAddr, Percent: 25_00}},
	}
	if err := policy.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	breakdown, err := policy.Apply(ether(10))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	wantProtocol := uint256.NewInt(2_500_000_000_000_000_000)
	wantPool := uint256.NewInt(7_500_000_000_000_000_000)
	if !breakdown.Amount(KindProtocol).Eq(wantProtocol) {
		t.Fatalf("protocol cut = %s, want %s", breakdown.Amount(KindProtocol).Dec(), wantProtocol.Dec())
	}
	if !breakdown.Pool.Eq(wantPool) {
		t.Fatalf("pool = %s, want %s", breakdown.Pool.Dec(), wantPool.Dec())
	}
}

func TestCascadingCutsRoundTowardFixedRecipients(t *testing.T) {
	policy := Policy{
		MaxPercent: MaxPercent2dp,
		Cuts: []Share{
			{Kind: KindProtocol, Recipient: protocolAddr, Percent: 10_00},
			{Kind: KindCreator, Recipient: creatorAddr, Percent: 33_33},
		},
	}
	breakdown, err := policy.Apply(uint256.NewInt(1001))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// protocol: ceil(1001*1000/10000) = 101; creator: ceil(900*3333/10000) = 300
	if got := breakdown.Amount(KindProtocol).Uint64(); got != 101 {
		t.Fatalf("protocol = %d, want 101", got)
	}
	if got := breakdown.Amount(KindCreator).Uint64(); got != 300 {
		t.Fatalf("creator = %d, want 300", got)
	}
	if got := breakdown.Pool.Uint64(); got != 600 {
		t.Fatalf("pool = %d, want 600", got)
	}
	total := new(uint256.Int).Add(breakdown.Amount(KindProtocol), breakdown.Amount(KindCreator))
	total.Add(total, breakdown.Pool)
	if total.Uint64() != 1001 {
		t.Fatalf("split does not conserve gross: %d", total.Uint64())
	}
}

func TestFullCutLeavesEmptyPool(t *testing.T) {
	policy := Policy{
		MaxPercent: MaxPercent5dp,
		Cuts:       []Share{{Kind: KindCreator, Recipient: creatorAddr, Percent: MaxPercent5dp}},
	}
	breakdown, err := policy.Apply(uint256.NewInt(7))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if breakdown.Amount(KindCreator).Uint64() != 7 || !breakdown.Pool.IsZero() {
		t.Fatalf("unexpected breakdown creator=%s pool=%s", breakdown.Amount(KindCreator).Dec(), breakdown.Pool.Dec())
	}
}

func TestValidateRejectsBadPolicies(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		want   error
	}{
		{"bad scale", Policy{MaxPercent: 1000}, ErrInvalidScale},
		{"protocol fee too large", Policy{MaxPercent: MaxPercent2dp, Cuts: []Share{{Kind: KindProtocol, Recipient: protocolAddr, Percent: 100_01}}}, ErrInvalidProtocolFee},
		{"creator share too large", Policy{MaxPercent: MaxPercent2dp, Cuts: []Share{{Kind: KindCreator, Recipient: creatorAddr, Percent: 100_01}}}, ErrInvalidShareTotal},
		{"zero protocol recipient", Policy{MaxPercent: MaxPercent2dp, Cuts: []Share{{Kind: KindProtocol, Percent: 1}}}, ErrInvalidRecipient},
		{"zero creator", Policy{MaxPercent: MaxPercent2dp, Cuts: []Share{{Kind: KindCreator, Percent: 1}}}, ErrInvalidCreatorAddress},
		{"pool as cut", Policy{MaxPercent: MaxPercent2dp, Cuts: []Share{{Kind: KindPool, Recipient: creatorAddr, Percent: 1}}}, ErrInvalidShareTotal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.policy.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("validate error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestZeroPercentCutNeedsNoRecipient(t *testing.T) {
	policy := Policy{MaxPercent: MaxPercent2dp, Cuts: []Share{{Kind: KindProtocol}}}
	if err := policy.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateTable(t *testing.T) {
	rows := []Allocation{
		{Recipient: common.HexToAddress("0x01"), Percent: 30_00},
		{Recipient: common.HexToAddress("0x02"), Percent: 25_00},
		{Recipient: common.HexToAddress("0x03"), Percent: 20_00},
		{Recipient: common.HexToAddress("0x04"), Percent: 15_00},
		{Recipient: common.HexToAddress("0x05"), Percent: 10_00},
	}
	if err := ValidateTable(rows, MaxPercent2dp); err != nil {
		t.Fatalf("validate table: %v", err)
	}
	short := append([]Allocation(nil), rows[:4]...)
	if err := ValidateTable(short, MaxPercent2dp); !errors.Is(err, ErrInvalidShareTotal) {
		t.Fatalf("expected share total error, got %v", err)
	}
	dup := append([]Allocation(nil), rows...)
	dup[4].Recipient = dup[0].Recipient
	if err := ValidateTable(dup, MaxPercent2dp); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected duplicate recipient error, got %v", err)
	}
	zero := append([]Allocation(nil), rows...)
	zero[1].Recipient = common.Address{}
	if err := ValidateTable(zero, MaxPercent2dp); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected zero recipient error, got %v", err)
	}
}
