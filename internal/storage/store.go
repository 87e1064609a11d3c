package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrCorrupt is returned by GetJSON when a stored blob cannot be decoded.
var ErrCorrupt = errors.New("storage: corrupt record")

// Keys of the persisted blobs.
const (
	KeyWords        = "words" // owned by the word-list CRUD, never read here
	KeyRules        = "rules"
	KeyHeartbeats   = "heartbeats"
	KeyDeviceStatus = "device_status"
	KeyUser         = "user"
)

// KVStore is a string-keyed store of serialized blobs.
type KVStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key, returning ErrNotFound if it was absent.
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads and decodes the JSON value stored under key.
func GetJSON[T any](ctx context.Context, store KVStore, key string) (T, error) {
	var out T
	data, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return out, nil
}

// PutJSON encodes value as JSON and stores it under key.
func PutJSON(ctx context.Context, store KVStore, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return store.Set(ctx, key, data)
}
