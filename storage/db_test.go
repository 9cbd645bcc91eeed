package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestBackendsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backends := map[string]func() (Database, error){
		"memory":  func() (Database, error) { return NewMemDB(), nil },
		"leveldb": func() (Database, error) { return NewLevelDB(filepath.Join(dir, "level")) },
		"bolt":    func() (Database, error) { return NewBoltDB(filepath.Join(dir, "ledger.db"), nil) },
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			db, err := open()
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer db.Close()
			if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if err := db.Put([]byte("k"), []byte("v1")); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := db.Put([]byte("k"), []byte("v2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			value, err := db.Get([]byte("k"))
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(value) != "v2" {
				t.Fatalf("expected v2, got %q", value)
			}
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("rocksdb", ""); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	db, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = db.Close()
}
