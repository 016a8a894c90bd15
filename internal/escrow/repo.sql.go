package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workmesh/workmesh/internal/shared"
)

// PGStore keeps escrow state in three tables:
//
//	CREATE TABLE escrow_operations (
//	    id          TEXT PRIMARY KEY,
//	    payer       BIGINT NOT NULL,
//	    amount      BIGINT NOT NULL,
//	    released    BOOLEAN NOT NULL DEFAULT FALSE,
//	    locked_at   TIMESTAMPTZ NOT NULL,
//	    released_at TIMESTAMPTZ
//	);
//	CREATE TABLE escrow_approvals (
//	    operation_id TEXT PRIMARY KEY
//	);
//	CREATE TABLE escrow_settings (
//	    name  TEXT PRIMARY KEY,
//	    value BOOLEAN NOT NULL
//	);
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, id string) (Operation, error) {
	var op Operation
	err := s.pool.QueryRow(ctx, `
		SELECT id, payer, amount, released, locked_at, released_at
		FROM escrow_operations WHERE id = $1`, id,
	).Scan(&op.ID, &op.Payer, &op.Amount, &op.Released, &op.LockedAt, &op.ReleasedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operation{}, shared.ErrNotFound
	}
	if err != nil {
		return Operation{}, fmt.Errorf("query operation: %w", err)
	}
	return op, nil
}

func (s *PGStore) Put(ctx context.Context, op Operation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_operations (id, payer, amount, released, locked_at, released_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			released = EXCLUDED.released,
			released_at = EXCLUDED.released_at`,
		op.ID, op.Payer, op.Amount, op.Released, op.LockedAt, op.ReleasedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert operation: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context) ([]Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payer, amount, released, locked_at, released_at
		FROM escrow_operations ORDER BY locked_at`)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Payer, &op.Amount, &op.Released, &op.LockedAt, &op.ReleasedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *PGStore) Approved(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM escrow_approvals WHERE operation_id = $1)`, id,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query approval: %w", err)
	}
	return ok, nil
}

func (s *PGStore) SetApproved(ctx context.Context, id string, approved bool) error {
	var err error
	if approved {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO escrow_approvals (operation_id) VALUES ($1) ON CONFLICT DO NOTHING`, id)
	} else {
		_, err = s.pool.Exec(ctx,
			`DELETE FROM escrow_approvals WHERE operation_id = $1`, id)
	}
	if err != nil {
		return fmt.Errorf("set approval: %w", err)
	}
	return nil
}

func (s *PGStore) ServiceMode(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM escrow_settings WHERE name = 'service_mode'`,
	).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query service mode: %w", err)
	}
	return enabled, nil
}

func (s *PGStore) SetServiceMode(ctx context.Context, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrow_settings (name, value) VALUES ('service_mode', $1)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, enabled)
	if err != nil {
		return fmt.Errorf("set service mode: %w", err)
	}
	return nil
}
