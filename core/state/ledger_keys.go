package state

import (
	"encoding/hex"
	"strings"

	"lukechampine.com/blake3"
)

var (
	ledgerPrefix      = []byte("ledger/source/")
	ledgerStateSuffix = "/state"
	ledgerIndexSuffix = "/index"
	ledgerHolderInfix = "/holder/"
	ledgerFixedInfix  = "/fixed/"
)

// sourceNamespace derives a fixed-width namespace for a source so arbitrary
// identifiers never collide with key separators.
func sourceNamespace(sourceID string) string {
	sum := blake3.Sum256([]byte(strings.TrimSpace(sourceID)))
	return hex.EncodeToString(sum[:16])
}

func ledgerStateKey(sourceID string) []byte {
	return append(append([]byte(nil), ledgerPrefix...), sourceNamespace(sourceID)+ledgerStateSuffix...)
}

func ledgerIndexKey(sourceID string) []byte {
	return append(append([]byte(nil), ledgerPrefix...), sourceNamespace(sourceID)+ledgerIndexSuffix...)
}

func ledgerHolderKey(sourceID, holderID string) []byte {
	sum := blake3.Sum256([]byte(holderID))
	return append(append([]byte(nil), ledgerPrefix...), sourceNamespace(sourceID)+ledgerHolderInfix+hex.EncodeToString(sum[:])...)
}

func ledgerFixedKey(sourceID, recipient string) []byte {
	return append(append([]byte(nil), ledgerPrefix...), sourceNamespace(sourceID)+ledgerFixedInfix+strings.ToLower(recipient)...)
}
