package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"solana-token-analytics/internal/domain"
	"solana-token-analytics/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `address, decimals, supply, name, symbol, description, image_url, token_standard, first_seen_at, updated_at`

// Upsert inserts or updates a token by address.
func (s *TokenStore) Upsert(ctx context.Context, t *domain.Token) (err error) {
	if t == nil || t.Address == "" {
		return storage.ErrInvalidInput
	}
	defer observe("token_upsert", time.Now(), &err)

	query := `
		INSERT INTO tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			decimals       = EXCLUDED.decimals,
			supply         = EXCLUDED.supply,
			name           = COALESCE(EXCLUDED.name, tokens.name),
			symbol         = COALESCE(EXCLUDED.symbol, tokens.symbol),
			description    = COALESCE(EXCLUDED.description, tokens.description),
			image_url      = COALESCE(EXCLUDED.image_url, tokens.image_url),
			token_standard = COALESCE(EXCLUDED.token_standard, tokens.token_standard),
			updated_at     = EXCLUDED.updated_at
	`

	_, err = s.pool.Exec(ctx, query,
		t.Address,
		t.Decimals,
		t.Supply,
		t.Name,
		t.Symbol,
		t.Description,
		t.ImageURL,
		t.TokenStandard,
		t.FirstSeenAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// GetByAddress retrieves a token by address. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByAddress(ctx context.Context, address string) (t *domain.Token, err error) {
	defer observe("token_get", time.Now(), &err)

	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE address = $1`

	t, err = scanToken(s.pool.QueryRow(ctx, query, address))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by address: %w", err)
	}
	return t, nil
}

// List returns all tokens ordered by address.
func (s *TokenStore) List(ctx context.Context) (tokens []*domain.Token, err error) {
	defer observe("token_list", time.Now(), &err)

	query := `SELECT ` + tokenColumns + ` FROM tokens ORDER BY address ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return tokens, nil
}

// scanToken scans a single row into Token.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token

	err := row.Scan(
		&t.Address,
		&t.Decimals,
		&t.Supply,
		&t.Name,
		&t.Symbol,
		&t.Description,
		&t.ImageURL,
		&t.TokenStandard,
		&t.FirstSeenAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
