package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"revledger/services/payoutd"
)

var receiptHeader = []string{"receipt_id", "source", "holder", "recipient", "asset", "amount", "tx_hash", "attempts", "settled_at"}

// ReceiptsCSV renders payout receipts as CSV and returns the payload with its
// SHA-256 checksum.
func ReceiptsCSV(receipts []payoutd.Receipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(receiptHeader); err != nil {
		return nil, "", err
	}
	for _, receipt := range receipts {
		record := []string{
			receipt.ID,
			receipt.Source,
			receipt.Holder,
			receipt.Recipient,
			receipt.Asset,
			amountOrZero(receipt.Amount),
			receipt.TxHash,
			strconv.Itoa(receipt.Attempts),
			receipt.SettledAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	return checksummed(buffer.Bytes())
}

func checksummed(data []byte) ([]byte, string, error) {
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func amountOrZero(amount string) string {
	if amount == "" {
		return "0"
	}
	return amount
}
