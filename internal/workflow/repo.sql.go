package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workmesh/workmesh/internal/shared"
)

// PGStore keeps jobs and offers in Postgres.
//
//	CREATE TABLE jobs (
//	    id          BIGSERIAL PRIMARY KEY,
//	    client      BIGINT NOT NULL,
//	    worker      BIGINT NOT NULL DEFAULT 0,
//	    flags       BIGINT NOT NULL,
//	    area        BIGINT NOT NULL,
//	    category    BIGINT NOT NULL,
//	    skills      BIGINT NOT NULL,
//	    details     TEXT NOT NULL,
//	    default_pay BIGINT NOT NULL,
//	    rate        BIGINT NOT NULL DEFAULT 0,
//	    estimate    BIGINT NOT NULL DEFAULT 0,
//	    on_top      BIGINT NOT NULL DEFAULT 0,
//	    token       TEXT NOT NULL DEFAULT '',
//	    locked      BIGINT NOT NULL DEFAULT 0,
//	    state       TEXT NOT NULL,
//	    paused      BOOLEAN NOT NULL DEFAULT FALSE,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL,
//	    started_at  TIMESTAMPTZ,
//	    ended_at    TIMESTAMPTZ
//	);
//	CREATE TABLE job_offers (
//	    job_id    BIGINT NOT NULL REFERENCES jobs (id),
//	    worker    BIGINT NOT NULL,
//	    token     TEXT NOT NULL DEFAULT '',
//	    rate      BIGINT NOT NULL,
//	    estimate  BIGINT NOT NULL,
//	    on_top    BIGINT NOT NULL,
//	    posted_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (job_id, worker)
//	);
//
// Flags, area, category, and skills are stored as BIGINT; their bit
// patterns fit in 63 bits except the confirmation flag, which is remapped
// by flagsToDB below.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// The confirmation flag occupies bit 63, which BIGINT cannot hold without
// sign games. It travels in bit 62, which the workflow models never use.
const dbConfirmationBit = int64(1) << 62

func flagsToDB(f Flags) int64 {
	out := int64(f &^ FlagConfirmationNeeded)
	if f.ConfirmationNeeded() {
		out |= dbConfirmationBit
	}
	return out
}

func flagsFromDB(v int64) Flags {
	f := Flags(v &^ dbConfirmationBit)
	if v&dbConfirmationBit != 0 {
		f |= FlagConfirmationNeeded
	}
	return f
}

const jobColumns = `id, client, worker, flags, area, category, skills, details,
	default_pay, rate, estimate, on_top, token, locked, state, paused,
	created_at, updated_at, started_at, ended_at`

func scanJob(row pgx.Row) (Job, error) {
	var (
		job   Job
		flags int64
	)
	err := row.Scan(&job.ID, &job.Client, &job.Worker, &flags, &job.Area,
		&job.Category, &job.Skills, &job.Details, &job.DefaultPay, &job.Rate,
		&job.Estimate, &job.OnTop, &job.Token, &job.Locked, (*string)(&job.State),
		&job.Paused, &job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.EndedAt)
	if err != nil {
		return Job{}, err
	}
	job.Flags = flagsFromDB(flags)
	return job, nil
}

func (s *PGStore) CreateJob(ctx context.Context, job Job) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (client, worker, flags, area, category, skills, details,
			default_pay, rate, estimate, on_top, token, locked, state, paused,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		job.Client, job.Worker, flagsToDB(job.Flags), int64(job.Area), int64(job.Category),
		int64(job.Skills), job.Details, job.DefaultPay, job.Rate, job.Estimate,
		job.OnTop, job.Token, job.Locked, string(job.State), job.Paused,
		job.CreatedAt, job.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (s *PGStore) GetJob(ctx context.Context, id int64) (Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, shared.ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("query job: %w", err)
	}
	return job, nil
}

func (s *PGStore) PutJob(ctx context.Context, job Job) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE jobs SET worker = $2, flags = $3, rate = $4, estimate = $5,
			on_top = $6, token = $7, locked = $8, state = $9, paused = $10,
			updated_at = $11, started_at = $12, ended_at = $13
		WHERE id = $1`,
		job.ID, job.Worker, flagsToDB(job.Flags), job.Rate, job.Estimate,
		job.OnTop, job.Token, job.Locked, string(job.State), job.Paused,
		job.UpdatedAt, job.StartedAt, job.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *PGStore) ListJobs(ctx context.Context, f ListFilter) ([]Job, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Client != 0 {
		conds = append(conds, "client = "+arg(f.Client))
	}
	if f.Worker != 0 {
		conds = append(conds, "worker = "+arg(f.Worker))
	}
	if f.State != "" {
		conds = append(conds, "state = "+arg(string(f.State)))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		q += " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PGStore) PutOffer(ctx context.Context, offer Offer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_offers (job_id, worker, token, rate, estimate, on_top, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, worker) DO UPDATE SET
			token = EXCLUDED.token,
			rate = EXCLUDED.rate,
			estimate = EXCLUDED.estimate,
			on_top = EXCLUDED.on_top,
			posted_at = EXCLUDED.posted_at`,
		offer.JobID, offer.Worker, offer.Token, offer.Rate, offer.Estimate,
		offer.OnTop, offer.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert offer: %w", err)
	}
	return nil
}

func (s *PGStore) GetOffer(ctx context.Context, jobID, worker int64) (Offer, error) {
	var offer Offer
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, worker, token, rate, estimate, on_top, posted_at
		FROM job_offers WHERE job_id = $1 AND worker = $2`, jobID, worker,
	).Scan(&offer.JobID, &offer.Worker, &offer.Token, &offer.Rate,
		&offer.Estimate, &offer.OnTop, &offer.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Offer{}, shared.ErrNotFound
	}
	if err != nil {
		return Offer{}, fmt.Errorf("query offer: %w", err)
	}
	return offer, nil
}

func (s *PGStore) ListOffers(ctx context.Context, jobID int64) ([]Offer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, worker, token, rate, estimate, on_top, posted_at
		FROM job_offers WHERE job_id = $1 ORDER BY posted_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []Offer
	for rows.Next() {
		var offer Offer
		if err := rows.Scan(&offer.JobID, &offer.Worker, &offer.Token,
			&offer.Rate, &offer.Estimate, &offer.OnTop, &offer.PostedAt); err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		out = append(out, offer)
	}
	return out, rows.Err()
}
