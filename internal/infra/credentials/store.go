// Package credentials stores provider API tokens in the database so that a
// deployment can rotate them without a restart. An empty token means the
// caller should fall back to the environment.
package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Token returns the stored API token for a provider, or "" when none is set.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	query := `SELECT token FROM integration_tokens WHERE provider = $1;`
	var token string
	if err := s.pool.QueryRow(ctx, query, provider).Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken upserts the API token for a provider.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is required")
	}
	query := `
INSERT INTO integration_tokens (provider, token, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (provider) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW();
`
	_, err := s.pool.Exec(ctx, query, provider, token)
	return err
}
