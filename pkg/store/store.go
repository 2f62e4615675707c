// Package store persists cooldowns and the trade journal in Badger.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gregtusar/zerodte/pkg/models"
)

const (
	cooldownPrefix = "cooldown/"
	tradePrefix    = "trade/"
)

type OpenOptions struct {
	// Path is ignored when InMemory is set.
	Path     string
	InMemory bool
}

// Store is safe for concurrent use; Badger serializes writers.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

func Open(opts OpenOptions) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) == "":
		return nil, errors.New("store: path is required")
	default:
		bopts = badger.DefaultOptions(opts.Path)
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// WithClock overrides the wall clock used to compute TTLs.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func cooldownKey(underlying string) []byte {
	return []byte(cooldownPrefix + strings.ToUpper(underlying))
}

// SetCooldown records a cooldown. A later call for the same underlying
// replaces the earlier one.
func (s *Store) SetCooldown(c models.Cooldown) error {
	ttl := c.Until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	c.Underlying = strings.ToUpper(c.Underlying)
	val, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(cooldownKey(c.Underlying), val).WithTTL(ttl))
	})
}

// Cooldown returns the active cooldown for an underlying, if any.
func (s *Store) Cooldown(underlying string, now time.Time) (*models.Cooldown, error) {
	var out *models.Cooldown
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cooldownKey(underlying))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var c models.Cooldown
			if err := json.Unmarshal(val, &c); err != nil {
				return err
			}
			if c.ActiveAt(now) {
				out = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldown for %s: %w", underlying, err)
	}
	return out, nil
}

// ClearCooldown removes a cooldown early.
func (s *Store) ClearCooldown(underlying string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(cooldownKey(underlying))
	})
}

// Cooldowns lists every cooldown still active at now.
func (s *Store) Cooldowns(now time.Time) ([]models.Cooldown, error) {
	var out []models.Cooldown
	err := s.scan(cooldownPrefix, func(val []byte) error {
		var c models.Cooldown
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		if c.ActiveAt(now) {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

func tradeKey(r models.TradeRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", tradePrefix, r.CreatedAt.UnixNano(), r.ID))
}

// SaveTrade appends a record to the journal.
func (s *Store) SaveTrade(r models.TradeRecord) error {
	if r.ID == "" {
		return errors.New("store: trade id is required")
	}
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(tradeKey(r), val)
	})
}

// Trades returns up to limit records, newest first. limit <= 0 means all.
func (s *Store) Trades(limit int) ([]models.TradeRecord, error) {
	var out []models.TradeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(tradePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration has to start past the last key with the prefix.
		for it.Seek([]byte(tradePrefix + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			err := it.Item().Value(func(val []byte) error {
				var r models.TradeRecord
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}
