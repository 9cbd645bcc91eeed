package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"revledger/native/distribution"
	"revledger/storage"
)

func TestLedgerStoreRestoresSource(t *testing.T) {
	dbs := map[string]func(t *testing.T) storage.Database{
		"memory": func(t *testing.T) storage.Database { return storage.NewMemDB() },
		"bolt": func(t *testing.T) storage.Database {
			db, err := storage.NewBoltDB(filepath.Join(t.TempDir(), "ledger.db"), nil)
			if err != nil {
				t.Fatalf("open bolt: %v", err)
			}
			return db
		},
	}
	for name, open := range dbs {
		t.Run(name, func(t *testing.T) {
			db := open(t)
			defer db.Close()
			store := NewLedgerStore(db)

			fallback := common.HexToAddress("0x00000000000000000000000000000000000000fe")
			treasury := common.HexToAddress("0x00000000000000000000000000000000000000aa")
			alice := distribution.AddressHolder(common.HexToAddress("0x0000000000000000000000000000000000000001"))
			bob := distribution.AddressHolder(common.HexToAddress("0x0000000000000000000000000000000000000002"))

			src := distribution.NewSource("staking-1", "NHB", fallback)
			src.SetStore(store)
			ctx := context.Background()
			if err := src.OnInflow(ctx, uint256.NewInt(9)); err != nil {
				t.Fatalf("fallback inflow: %v", err)
			}
			if err := src.Join(alice, uint256.NewInt(1), 0); err != nil {
				t.Fatalf("join: %v", err)
			}
			if err := src.Join(bob, uint256.NewInt(2), 1_900_000_000); err != nil {
				t.Fatalf("join: %v", err)
			}
			cuts := []distribution.FixedCut{{Recipient: treasury, Kind: "protocol", Amount: uint256.NewInt(3)}}
			if err := src.Apply(ctx, cuts, uint256.NewInt(100)); err != nil {
				t.Fatalf("apply: %v", err)
			}

			snapshot, ok, err := NewLedgerStore(db).LoadSnapshot("staking-1")
			if err != nil || !ok {
				t.Fatalf("load snapshot: ok=%v err=%v", ok, err)
			}
			restored, err := distribution.Restore(snapshot)
			if err != nil {
				t.Fatalf("restore: %v", err)
			}
			if !restored.Accumulator().Eq(src.Accumulator()) {
				t.Fatalf("accumulator mismatch: %s vs %s", restored.Accumulator().Dec(), src.Accumulator().Dec())
			}
			if !restored.Remainder().Eq(src.Remainder()) {
				t.Fatalf("remainder mismatch")
			}
			for _, id := range []distribution.HolderID{alice, bob} {
				want, _ := src.Claimable(id)
				got, err := restored.Claimable(id)
				if err != nil || !got.Eq(want) {
					t.Fatalf("%s: restored claimable %v (%v), want %s", id, got, err, want.Dec())
				}
			}
			holder, _ := restored.Holder(bob)
			if holder.LockedUntil != 1_900_000_000 {
				t.Fatalf("lock not persisted: %d", holder.LockedUntil)
			}
			for addr, want := range map[common.Address]uint64{fallback: 9, treasury: 3} {
				account, ok := restored.FixedAccount(addr)
				if !ok || account.Owed.Uint64() != want {
					t.Fatalf("fixed account %s: %+v", addr.Hex(), account)
				}
			}
		})
	}
}

func TestLedgerStoreMissingSource(t *testing.T) {
	store := NewLedgerStore(storage.NewMemDB())
	if _, ok, err := store.LoadSnapshot("nope"); ok || err != nil {
		t.Fatalf("expected empty result, got ok=%v err=%v", ok, err)
	}
}

func TestAddUniqueKeepsOrder(t *testing.T) {
	var list []string
	for _, v := range []string{"b", "a", "c", "a"} {
		addUnique(&list, v)
	}
	if len(list) != 3 || list[0] != "a" || list[2] != "c" {
		t.Fatalf("unexpected list %v", list)
	}
}
