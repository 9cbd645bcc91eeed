package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"revledger/services/payoutd"
)

func sampleReceipts() []payoutd.Receipt {
	return []payoutd.Receipt{{
		ID:        "6f1c2a9e-0000-4000-8000-000000000001",
		Source:    "staking-1",
		Holder:    "0x00000000000000000000000000000000000000b0",
		Recipient: "0x00000000000000000000000000000000000000B0",
		Asset:     "NHB",
		Amount:    "2500000000000000000",
		TxHash:    "0xfeed",
		Attempts:  2,
		SettledAt: time.Unix(1700, 0),
	}, {
		ID:     "6f1c2a9e-0000-4000-8000-000000000002",
		Source: "staking-1",
	}}
}

func TestReceiptsCSV(t *testing.T) {
	data, checksum, err := ReceiptsCSV(sampleReceipts())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(lines))
	}
	if lines[0] != strings.Join(receiptHeader, ",") {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], ",2500000000000000000,0xfeed,2,1970-01-01T00:28:20Z") {
		t.Fatalf("unexpected row: %s", lines[1])
	}
	if !strings.Contains(lines[2], ",0,,0,") {
		t.Fatalf("missing amount should render as zero: %s", lines[2])
	}
	sum := sha256.Sum256(data)
	if checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}
}

func TestReceiptsJSONL(t *testing.T) {
	data, checksum, err := ReceiptsJSONL(sampleReceipts())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum == "" || strings.Count(string(data), "\n") != 2 {
		t.Fatalf("unexpected payload: %s", data)
	}
	if !strings.Contains(string(data), `"amount":"2500000000000000000"`) {
		t.Fatalf("missing amount: %s", data)
	}
	if !strings.Contains(string(data), `"attempts":2`) {
		t.Fatalf("missing attempts: %s", data)
	}
}
