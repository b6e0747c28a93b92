package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStatusStore struct {
	pool *pgxpool.Pool
}

func NewPGStatusStore(pool *pgxpool.Pool) *PGStatusStore {
	return &PGStatusStore{pool: pool}
}

func (s *PGStatusStore) Get(ctx context.Context, hostID string) (*Status, error) {
	var status Status
	err := s.pool.QueryRow(ctx,
		`SELECT host_id, state, resume_state, last_transition, last_error, last_heartbeat, stale_heartbeat
		 FROM agent_status WHERE host_id = $1`, hostID).
		Scan(&status.HostID, &status.State, &status.ResumeState, &status.LastTransition,
			&status.LastError, &status.LastHeartbeat, &status.StaleHeartbeat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStatusNotFound
		}
		return nil, fmt.Errorf("get agent status: %w", err)
	}
	return &status, nil
}

func (s *PGStatusStore) Put(ctx context.Context, status Status) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_status (host_id, state, resume_state, last_transition, last_error, last_heartbeat, stale_heartbeat)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (host_id) DO UPDATE SET
		   state = EXCLUDED.state, resume_state = EXCLUDED.resume_state,
		   last_transition = EXCLUDED.last_transition, last_error = EXCLUDED.last_error,
		   last_heartbeat = EXCLUDED.last_heartbeat, stale_heartbeat = EXCLUDED.stale_heartbeat`,
		status.HostID, status.State, status.ResumeState, status.LastTransition,
		status.LastError, status.LastHeartbeat, status.StaleHeartbeat)
	if err != nil {
		return fmt.Errorf("upsert agent status: %w", err)
	}
	return nil
}
