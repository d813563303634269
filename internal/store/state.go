package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docqa/internal/domain"
)

// SaveEmbedderState stores the serialized fit state of a named embedder,
// replacing any earlier state.
func (s *Store) SaveEmbedderState(ctx context.Context, name string, state []byte) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO embedder_state (name, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`), name, state, s.now().UTC())
	return err
}

// LoadEmbedderState returns the stored fit state or ErrNotFound.
func (s *Store) LoadEmbedderState(ctx context.Context, name string) ([]byte, error) {
	var state []byte
	err := s.db.GetContext(ctx, &state, s.db.Rebind("SELECT state FROM embedder_state WHERE name = ?"), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedder state %s: %w", name, domain.ErrNotFound)
	}
	return state, err
}
