// Package badgerstore implements the store contracts on top of BadgerDB.
//
// Keys are laid out by prefix:
//
//	user:{id}                       -> JSON user
//	msg:{unix_nano_padded}:{uuid}   -> JSON message
//	session:{id}                    -> JSON session, stored with a TTL
//
// Message keys embed a 19-digit zero-padded timestamp so lexicographical
// order matches chronological order, and the uuid suffix keeps two messages
// created in the same nanosecond apart.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Tyrowin/livechat/internal/store"
)

const (
	userPrefix    = "user:"
	messagePrefix = "msg:"
	sessionPrefix = "session:"
)

// Store is a BadgerDB backed store.Store.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a Badger database in dir.
func Open(dir string, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return New(db, log), nil
}

// New wraps an already opened database.
func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Close releases the database lock and flushes pending writes.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindByID returns the user stored under id.
func (s *Store) FindByID(_ context.Context, id string) (store.User, error) {
	var user store.User
	err := s.get(userPrefix+id, &user)
	return user, err
}

// Upsert creates or replaces a user profile. CreatedAt is preserved across
// updates.
func (s *Store) Upsert(_ context.Context, user store.User) error {
	if user.ID == "" {
		return errors.New("user id is required")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userPrefix + user.ID)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing store.User
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return err
			}
			user.CreatedAt = existing.CreatedAt
		case errors.Is(err, badger.ErrKeyNotFound):
			if user.CreatedAt.IsZero() {
				user.CreatedAt = time.Now().UTC()
			}
		default:
			return err
		}
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Create persists a new message with a fresh uuid.
func (s *Store) Create(_ context.Context, message store.NewMessage) (store.Message, error) {
	stored := store.Message{
		ID:        uuid.New().String(),
		SenderID:  message.SenderID,
		Text:      message.Text,
		CreatedAt: message.CreatedAt.UTC(),
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return store.Message{}, fmt.Errorf("marshal message: %w", err)
	}
	key := fmt.Sprintf("%s%019d:%s", messagePrefix, stored.CreatedAt.UnixNano(), stored.ID)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return store.Message{}, err
	}
	return stored, nil
}

// Recent walks the message prefix backwards from the newest key and stops
// after limit entries.
func (s *Store) Recent(_ context.Context, limit int) ([]store.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	messages := make([]store.Message, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past the largest possible timestamp so the first item is the newest.
		seekKey := append([]byte(messagePrefix), []byte("9999999999999999999;")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				s.log.Debug("Message limit reached", "limit", limit)
				break
			}
			var message store.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Put stores a session and lets Badger expire it at ExpiresAt.
func (s *Store) Put(_ context.Context, session store.Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.ID)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(sessionPrefix+session.ID), data).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Get returns the session stored under id. Expired sessions are reported as
// store.ErrNotFound even if Badger has not compacted them yet.
func (s *Store) Get(_ context.Context, id string) (store.Session, error) {
	var session store.Session
	if err := s.get(sessionPrefix+id, &session); err != nil {
		return store.Session{}, err
	}
	if session.Expired(time.Now()) {
		return store.Session{}, store.ErrNotFound
	}
	return session, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(sessionPrefix + id))
	})
}

func (s *Store) get(key string, target any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, target)
		})
	})
}
