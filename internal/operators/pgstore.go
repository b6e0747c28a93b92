package operators

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists operator accounts in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Put(ctx context.Context, account Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO operators (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role`,
		account.ID, account.Username, account.PasswordHash, account.Role, account.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert operator: %w", err)
	}
	return nil
}

func (s *PGStore) GetByUsername(ctx context.Context, username string) (*Account, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM operators WHERE username = $1`, username))
}

func (s *PGStore) Get(ctx context.Context, id string) (*Account, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM operators WHERE id = $1`, id))
}

func (s *PGStore) scanOne(row pgx.Row) (*Account, error) {
	var account Account
	err := row.Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Role, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("scan operator: %w", err)
	}
	return &account, nil
}

func (s *PGStore) List(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM operators ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var account Account
		if err := rows.Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Role, &account.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operator: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM operators WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete operator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOperatorNotFound
	}
	return nil
}
