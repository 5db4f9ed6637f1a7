// Package device keeps the little state a kiosk must remember between runs:
// which clinic workspace it belongs to.
package device

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var clinicKey = []byte("clinic_id")

// ClinicStore persists the device's clinic identifier in an embedded badger
// database.
type ClinicStore struct {
	db *badger.DB
}

// Open opens (creating if needed) the device database under dir.
func Open(dir string) (*ClinicStore, error) {
	if dir == "" {
		return nil, errors.New("device: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create device directory %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		WithLogger(nil)
	return open(opts)
}

// OpenInMemory returns a store that forgets everything on Close.
func OpenInMemory() (*ClinicStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(nil)
	return open(opts)
}

func open(opts badger.Options) (*ClinicStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open device database: %w", err)
	}
	return &ClinicStore{db: db}, nil
}

// Load returns the saved clinic identifier, or "" when none is saved.
func (s *ClinicStore) Load() (string, error) {
	var clinic string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(clinicKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			clinic = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("load clinic id: %w", err)
	}
	return clinic, nil
}

func (s *ClinicStore) Save(clinic string) error {
	if clinic == "" {
		return s.Clear()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(clinicKey, []byte(clinic))
	})
	if err != nil {
		return fmt.Errorf("save clinic id: %w", err)
	}
	return nil
}

// Clear forgets the clinic. Clearing an empty store succeeds.
func (s *ClinicStore) Clear() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(clinicKey)
	})
	if err != nil {
		return fmt.Errorf("clear clinic id: %w", err)
	}
	return nil
}

func (s *ClinicStore) Close() error {
	return s.db.Close()
}
