package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Insert(ctx context.Context, cred *Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (id, name, ciphertext, iv, tag, fingerprint, algorithm, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cred.ID, cred.Name, cred.Ciphertext, cred.IV, cred.Tag,
		cred.Fingerprint, cred.Algorithm, cred.CreatedBy, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Credential, error) {
	var cred Credential
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, ciphertext, iv, tag, fingerprint, algorithm, created_by, created_at, deleted_at
		 FROM credentials WHERE id = $1`, id).
		Scan(&cred.ID, &cred.Name, &cred.Ciphertext, &cred.IV, &cred.Tag,
			&cred.Fingerprint, &cred.Algorithm, &cred.CreatedBy, &cred.CreatedAt, &cred.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

func (s *PGStore) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE credentials SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark credential deleted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

func (s *PGStore) List(ctx context.Context) ([]Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, ciphertext, iv, tag, fingerprint, algorithm, created_by, created_at, deleted_at
		 FROM credentials WHERE deleted_at IS NULL ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var result []Credential
	for rows.Next() {
		var cred Credential
		if err := rows.Scan(&cred.ID, &cred.Name, &cred.Ciphertext, &cred.IV, &cred.Tag,
			&cred.Fingerprint, &cred.Algorithm, &cred.CreatedBy, &cred.CreatedAt, &cred.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		result = append(result, cred)
	}
	return result, rows.Err()
}
