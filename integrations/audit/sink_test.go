package audit

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"revledger/core/events"
	"revledger/native/distribution"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	return db
}

func TestSinkReconstructsLedger(t *testing.T) {
	db := setupTestDB(t)
	sink, err := NewSink(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	fallback := common.HexToAddress("0x00000000000000000000000000000000000000fe")
	treasury := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice := common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000002")

	src := distribution.NewSource("rev", "NHB", fallback)
	src.SetEmitter(events.Multi{sink, events.NoopEmitter{}})
	src.SetPayer(distribution.PayerFunc(func(context.Context, distribution.Payout) error { return nil }))

	require.NoError(t, src.OnInflow(ctx, uint256.NewInt(11)))
	require.NoError(t, src.Join(distribution.AddressHolder(alice), uint256.NewInt(1), 0))
	require.NoError(t, src.Join(distribution.AddressHolder(bob), uint256.NewInt(3), 0))
	cuts := []distribution.FixedCut{{Recipient: treasury, Kind: "protocol", Amount: uint256.NewInt(25)}}
	require.NoError(t, src.Apply(ctx, cuts, uint256.NewInt(75)))
	_, err = src.Claim(ctx, distribution.AddressHolder(bob), bob)
	require.NoError(t, err)
	_, err = src.ClaimFixed(ctx, treasury)
	require.NoError(t, err)

	totals, err := sink.Reconstruct(ctx, "rev")
	require.NoError(t, err)
	require.Equal(t, src.State().Received.Dec(), totals.Received.Dec())
	require.Equal(t, "111", totals.Received.Dec())
	require.Equal(t, "56", totals.Claimed[string(distribution.AddressHolder(bob))].Dec())
	require.Equal(t, "25", totals.Claimed[treasury.Hex()].Dec())
	require.Equal(t, "11", totals.Fixed[fallback.Hex()].Dec())
	require.Equal(t, "25", totals.Fixed[treasury.Hex()].Dec())

	records, err := sink.Records(ctx, "")
	require.NoError(t, err)
	for i, record := range records {
		require.Equal(t, uint64(i+1), record.Sequence)
	}
	stakes := 0
	for _, record := range records {
		if record.Type == events.TypeStakeJoined {
			stakes++
		}
	}
	require.Equal(t, 2, stakes)
}

func TestSinkResumesSequence(t *testing.T) {
	db := setupTestDB(t)
	first, err := NewSink(db, nil)
	require.NoError(t, err)
	first.Emit(events.InflowFallback{Source: "a", Recipient: "0x01", Amount: "1"})
	first.Emit(events.InflowFallback{Source: "b", Recipient: "0x01", Amount: "2"})

	second, err := NewSink(db, nil)
	require.NoError(t, err)
	second.Emit(events.InflowFallback{Source: "a", Recipient: "0x01", Amount: "3"})

	records, err := second.Records(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(3), records[1].Sequence)
	attrs, err := records[1].Decode()
	require.NoError(t, err)
	require.Equal(t, "3", attrs["amount"])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
