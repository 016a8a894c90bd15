package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/workmesh/workmesh/internal/platform/db"
)

// PGBalanceStore keeps balances in the payment_balances table.
//
//	CREATE TABLE payment_balances (
//	    account TEXT PRIMARY KEY,
//	    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
//	);
type PGBalanceStore struct {
	pool *pgxpool.Pool
}

func NewPGBalanceStore(pool *pgxpool.Pool) *PGBalanceStore {
	return &PGBalanceStore{pool: pool}
}

func (s *PGBalanceStore) Balance(ctx context.Context, acct Account) (int64, error) {
	var bal int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM payment_balances WHERE account = $1`, string(acct),
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return bal, nil
}

func (s *PGBalanceStore) Apply(ctx context.Context, entries []Entry) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range entries {
			ct, err := tx.Exec(ctx, `
				INSERT INTO payment_balances (account, balance)
				VALUES ($1, $2)
				ON CONFLICT (account)
				DO UPDATE SET balance = payment_balances.balance + EXCLUDED.balance
				WHERE payment_balances.balance + EXCLUDED.balance >= 0`,
				string(e.Account), e.Delta,
			)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23514" {
					return ErrOverdraft
				}
				return fmt.Errorf("apply entry %s: %w", e, err)
			}
			if ct.RowsAffected() == 0 {
				return ErrOverdraft
			}
		}
		return nil
	})
}
