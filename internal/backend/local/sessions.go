package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const refreshPrefix = "refresh:"

var errSessionNotFound = errors.New("refresh session not found")

// refreshSession is what a refresh token hash resolves to.
type refreshSession struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionStore keeps refresh sessions in Badger; entries expire by TTL.
type sessionStore struct {
	db *badger.DB
}

func (s *sessionStore) put(hash string, rs refreshSession, ttl time.Duration) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(refreshPrefix+hash), data).WithTTL(ttl))
	})
}

func (s *sessionStore) get(hash string) (*refreshSession, error) {
	var rs refreshSession
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(refreshPrefix + hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rs)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh session: %w", err)
	}
	return &rs, nil
}

// rotate replaces oldHash with newHash atomically.
func (s *sessionStore) rotate(oldHash, newHash string, rs refreshSession, ttl time.Duration) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal refresh session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(refreshPrefix + oldHash)); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(refreshPrefix+newHash), data).WithTTL(ttl))
	})
}

func (s *sessionStore) delete(hash string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(refreshPrefix + hash))
	})
}
