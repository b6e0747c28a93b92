package hosts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, id string) (*Target, error) {
	var target Target
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, address, port, login_user, credential_id FROM host_targets WHERE id = $1`, id).
		Scan(&target.ID, &target.Name, &target.Address, &target.Port, &target.User, &target.CredentialID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHostNotFound
		}
		return nil, fmt.Errorf("get host target: %w", err)
	}
	return &target, nil
}

func (s *PGStore) List(ctx context.Context) ([]Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, address, port, login_user, credential_id FROM host_targets ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list host targets: %w", err)
	}
	defer rows.Close()

	var result []Target
	for rows.Next() {
		var target Target
		if err := rows.Scan(&target.ID, &target.Name, &target.Address, &target.Port, &target.User, &target.CredentialID); err != nil {
			return nil, fmt.Errorf("scan host target: %w", err)
		}
		result = append(result, target)
	}
	return result, rows.Err()
}

func (s *PGStore) Put(ctx context.Context, target Target) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO host_targets (id, name, address, port, login_user, credential_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, address = EXCLUDED.address, port = EXCLUDED.port,
		   login_user = EXCLUDED.login_user, credential_id = EXCLUDED.credential_id`,
		target.ID, target.Name, target.Address, target.Port, target.User, target.CredentialID)
	if err != nil {
		return fmt.Errorf("upsert host target: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM host_targets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete host target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHostNotFound
	}
	return nil
}
