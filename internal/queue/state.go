package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StateStore is a generic JSON key/value store over the app_state table,
// used to persist duty and mission state across restarts.
type StateStore struct {
	store *Store
}

// NewStateStore returns a StateStore over store.
func NewStateStore(store *Store) *StateStore {
	return &StateStore{store: store}
}

// Save upserts value under key, serialized as JSON.
func (s *StateStore) Save(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding state %q: %w", key, err)
	}
	_, err = s.store.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO app_state (key, value, updated_at) VALUES (?, ?, ?)",
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving state %q: %w", key, err)
	}
	return nil
}

// Load decodes the value stored under key into out. The bool result is
// false when no value is stored.
func (s *StateStore) Load(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := s.store.db.QueryRowContext(ctx,
		"SELECT value FROM app_state WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading state %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decoding state %q: %w", key, err)
	}
	return true, nil
}

// Clear removes the value stored under key. No-op when absent.
func (s *StateStore) Clear(ctx context.Context, key string) error {
	if _, err := s.store.db.ExecContext(ctx,
		"DELETE FROM app_state WHERE key = ?", key); err != nil {
		return fmt.Errorf("clearing state %q: %w", key, err)
	}
	return nil
}
