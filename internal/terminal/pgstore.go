package terminal

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

func (s *PGStore) Put(ctx context.Context, record Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO terminal_sessions (id, host_id, operator_id, credential_id, started_at, last_activity, ended_at, status, close_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   last_activity = EXCLUDED.last_activity, ended_at = EXCLUDED.ended_at,
		   status = EXCLUDED.status, close_reason = EXCLUDED.close_reason`,
		record.ID, record.HostID, record.OperatorID, record.CredentialID,
		record.StartedAt, record.LastActivity, record.EndedAt, record.Status, record.CloseReason)
	if err != nil {
		return fmt.Errorf("upsert terminal session: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (*Record, error) {
	var record Record
	err := s.pool.QueryRow(ctx,
		`SELECT id, host_id, operator_id, credential_id, started_at, last_activity, ended_at, status, close_reason
		 FROM terminal_sessions WHERE id = $1`, id).
		Scan(&record.ID, &record.HostID, &record.OperatorID, &record.CredentialID,
			&record.StartedAt, &record.LastActivity, &record.EndedAt, &record.Status, &record.CloseReason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get terminal session: %w", err)
	}
	return &record, nil
}

func (s *PGStore) List(ctx context.Context, operatorID string) ([]Record, error) {
	query := `SELECT id, host_id, operator_id, credential_id, started_at, last_activity, ended_at, status, close_reason
	          FROM terminal_sessions`
	args := []any{}
	if operatorID != "" {
		query += ` WHERE operator_id = $1`
		args = append(args, operatorID)
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list terminal sessions: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.ID, &record.HostID, &record.OperatorID, &record.CredentialID,
			&record.StartedAt, &record.LastActivity, &record.EndedAt, &record.Status, &record.CloseReason); err != nil {
			return nil, fmt.Errorf("scan terminal session: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}
