package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/kscreen/internal/storage"
	"github.com/rs/zerolog"
)

// User is the account the device is registered to
type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	LinkedAt time.Time `json:"linked_at"`
}

// Store persists the single user record under storage.KeyUser
type Store struct {
	kv     storage.KVStore
	logger zerolog.Logger
}

// NewStore creates a user store backed by kv
func NewStore(kv storage.KVStore, logger zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.With().Str("component", "account").Logger(),
	}
}

// Get returns the stored user, or nil when none is linked. A corrupt record
// reads as none.
func (s *Store) Get(ctx context.Context) (*User, error) {
	user, err := storage.GetJSON[User](ctx, s.kv, storage.KeyUser)
	switch {
	case err == nil:
		return &user, nil
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn().Err(err).Msg("Discarding corrupt user record")
		return nil, nil
	default:
		return nil, fmt.Errorf("get user: %w", err)
	}
}

// Set stores user, replacing any previous one
func (s *Store) Set(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if user.LinkedAt.IsZero() {
		user.LinkedAt = time.Now().UTC()
	}
	if err := storage.PutJSON(ctx, s.kv, storage.KeyUser, user); err != nil {
		return fmt.Errorf("set user: %w", err)
	}
	s.logger.Info().Str("user_id", user.ID).Msg("User linked")
	return nil
}

// Clear removes the stored user. Clearing when none is stored is not an error.
func (s *Store) Clear(ctx context.Context) error {
	err := s.kv.Delete(ctx, storage.KeyUser)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear user: %w", err)
	}
	s.logger.Info().Msg("User unlinked")
	return nil
}
