package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"revledger/services/payoutd"
)

type receiptLine struct {
	ReceiptID string `json:"receipt_id"`
	Source    string `json:"source"`
	Holder    string `json:"holder"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	TxHash    string `json:"tx_hash"`
	Attempts  int    `json:"attempts"`
	SettledAt string `json:"settled_at"`
}

// ReceiptsJSONL renders payout receipts as JSON Lines alongside a checksum.
func ReceiptsJSONL(receipts []payoutd.Receipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, receipt := range receipts {
		line := receiptLine{
			ReceiptID: receipt.ID,
			Source:    receipt.Source,
			Holder:    receipt.Holder,
			Recipient: receipt.Recipient,
			Asset:     receipt.Asset,
			Amount:    amountOrZero(receipt.Amount),
			TxHash:    receipt.TxHash,
			Attempts:  receipt.Attempts,
			SettledAt: receipt.SettledAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	return checksummed(buffer.Bytes())
}
