package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists role assignments and capability grants. Role sets are
// stored as 32-byte big-endian bytea values to keep the 256-bit
// representation exact.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Postgres-backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Roles(ctx context.Context, subject int64) (RoleSet, error) {
	var bits []byte
	err := s.pool.QueryRow(ctx, `SELECT role_bits FROM authz_subject_roles WHERE subject_id=$1`, subject).Scan(&bits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleSet{}, nil
		}
		return RoleSet{}, fmt.Errorf("authz: roles query: %w", err)
	}
	return RoleSetFromBytes(bits), nil
}

func (s *PGStore) SetRoles(ctx context.Context, subject int64, set RoleSet) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO authz_subject_roles (subject_id, role_bits)
VALUES ($1, $2)
ON CONFLICT (subject_id) DO UPDATE SET role_bits=EXCLUDED.role_bits`, subject, set.Bytes())
	if err != nil {
		return fmt.Errorf("authz: set roles: %w", err)
	}
	return nil
}

func (s *PGStore) CapabilityRoles(ctx context.Context, key Capability) (RoleSet, error) {
	var bits []byte
	err := s.pool.QueryRow(ctx, `SELECT role_bits FROM authz_capabilities WHERE resource=$1 AND operation=$2`,
		key.Resource, key.Operation).Scan(&bits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleSet{}, nil
		}
		return RoleSet{}, fmt.Errorf("authz: capability query: %w", err)
	}
	return RoleSetFromBytes(bits), nil
}

func (s *PGStore) SetCapabilityRoles(ctx context.Context, key Capability, set RoleSet) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO authz_capabilities (resource, operation, role_bits)
VALUES ($1, $2, $3)
ON CONFLICT (resource, operation) DO UPDATE SET role_bits=EXCLUDED.role_bits`,
		key.Resource, key.Operation, set.Bytes())
	if err != nil {
		return fmt.Errorf("authz: set capability: %w", err)
	}
	return nil
}

func (s *PGStore) IsRoot(ctx context.Context, subject int64) (bool, error) {
	var root bool
	err := s.pool.QueryRow(ctx, `SELECT true FROM authz_root_subjects WHERE subject_id=$1`, subject).Scan(&root)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("authz: root query: %w", err)
	}
	return root, nil
}

func (s *PGStore) SetRoot(ctx context.Context, subject int64, root bool) error {
	var err error
	if root {
		_, err = s.pool.Exec(ctx, `INSERT INTO authz_root_subjects (subject_id) VALUES ($1) ON CONFLICT DO NOTHING`, subject)
	} else {
		_, err = s.pool.Exec(ctx, `DELETE FROM authz_root_subjects WHERE subject_id=$1`, subject)
	}
	if err != nil {
		return fmt.Errorf("authz: set root: %w", err)
	}
	return nil
}

func (s *PGStore) IsPublic(ctx context.Context, key Capability) (bool, error) {
	var public bool
	err := s.pool.QueryRow(ctx, `SELECT is_public FROM authz_public_capabilities WHERE resource=$1 AND operation=$2`,
		key.Resource, key.Operation).Scan(&public)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("authz: public query: %w", err)
	}
	return public, nil
}

func (s *PGStore) SetPublic(ctx context.Context, key Capability, public bool) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO authz_public_capabilities (resource, operation, is_public)
VALUES ($1, $2, $3)
ON CONFLICT (resource, operation) DO UPDATE SET is_public=EXCLUDED.is_public`,
		key.Resource, key.Operation, public)
	if err != nil {
		return fmt.Errorf("authz: set public: %w", err)
	}
	return nil
}
