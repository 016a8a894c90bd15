// Package skills keeps worker skill profiles as bitmasks per area and
// category pair.
package skills

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Profile is one worker's declared skills inside an area and category.
type Profile struct {
	Subject  int64  `json:"subject"`
	Area     uint64 `json:"area"`
	Category uint64 `json:"category"`
	Skills   uint64 `json:"skills"`
}

// Store persists profiles.
type Store interface {
	Get(ctx context.Context, subject int64, area, category uint64) (uint64, error)
	Set(ctx context.Context, p Profile) error
}

// Directory answers skill coverage queries for the workflow engine.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Declare records a worker's skills for an area and category. Area and
// category must each name exactly one classifier.
func (d *Directory) Declare(ctx context.Context, p Profile) error {
	if bits.OnesCount64(p.Area) != 1 || bits.OnesCount64(p.Category) != 1 {
		return errors.New("skills: area and category must each name one classifier")
	}
	if p.Skills == 0 {
		return errors.New("skills: empty skill mask")
	}
	return d.store.Set(ctx, p)
}

// HasSkills reports whether the subject's declared skills cover every bit
// of the required mask.
func (d *Directory) HasSkills(ctx context.Context, subject int64, area, category, required uint64) (bool, error) {
	held, err := d.store.Get(ctx, subject, area, category)
	if err != nil {
		return false, err
	}
	return held&required == required, nil
}

type profileKey struct {
	subject  int64
	area     uint64
	category uint64
}

type MemoryStore struct {
	mu       sync.Mutex
	profiles map[profileKey]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[profileKey]uint64)}
}

func (s *MemoryStore) Get(_ context.Context, subject int64, area, category uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[profileKey{subject, area, category}], nil
}

func (s *MemoryStore) Set(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profileKey{p.Subject, p.Area, p.Category}] = p.Skills
	return nil
}

// PGStore keeps profiles in the worker_skills table.
//
//	CREATE TABLE worker_skills (
//	    subject  BIGINT NOT NULL,
//	    area     BIGINT NOT NULL,
//	    category BIGINT NOT NULL,
//	    skills   BIGINT NOT NULL,
//	    PRIMARY KEY (subject, area, category)
//	);
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, subject int64, area, category uint64) (uint64, error) {
	var skills uint64
	err := s.pool.QueryRow(ctx, `
		SELECT skills FROM worker_skills
		WHERE subject = $1 AND area = $2 AND category = $3`,
		subject, int64(area), int64(category),
	).Scan(&skills)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query skills: %w", err)
	}
	return skills, nil
}

func (s *PGStore) Set(ctx context.Context, p Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO worker_skills (subject, area, category, skills)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject, area, category) DO UPDATE SET skills = EXCLUDED.skills`,
		p.Subject, int64(p.Area), int64(p.Category), int64(p.Skills),
	)
	if err != nil {
		return fmt.Errorf("upsert skills: %w", err)
	}
	return nil
}
