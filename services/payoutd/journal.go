package payoutd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var receiptsBucket = []byte("receipts")

// Receipt records a completed payout.
type Receipt struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Source    string    `json:"source"`
	Asset     string    `json:"asset"`
	Holder    string    `json:"holder"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	TxHash    string    `json:"txHash"`
	Attempts  int       `json:"attempts"`
	SettledAt time.Time `json:"settledAt"`
}

// Journal is an append-only receipt log kept in a bbolt file.
type Journal struct {
	db *bolt.DB
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("payoutd: open journal: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(receiptsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("payoutd: init journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Append stores receipt under its ID. IDs are never overwritten.
func (j *Journal) Append(receipt Receipt) error {
	if receipt.ID == "" {
		return errors.New("payoutd: receipt id required")
	}
	encoded, err := json.Marshal(receipt)
	if err != nil {
		return err
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(receiptsBucket)
		if bucket.Get([]byte(receipt.ID)) != nil {
			return fmt.Errorf("payoutd: receipt %s already journaled", receipt.ID)
		}
		return bucket.Put([]byte(receipt.ID), encoded)
	})
}

// Receipts returns every journaled receipt ordered by settlement time.
func (j *Journal) Receipts() ([]Receipt, error) {
	var out []Receipt
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(receiptsBucket).ForEach(func(_, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return err
			}
			out = append(out, receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].SettledAt.Equal(out[k].SettledAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].SettledAt.Before(out[k].SettledAt)
	})
	return out, nil
}

// Close releases the underlying file.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
