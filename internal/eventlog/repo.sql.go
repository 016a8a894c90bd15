package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists events into the event_log table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Postgres-backed store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Append inserts the event row.
func (s *PGStore) Append(ctx context.Context, ev Event) error {
	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		return fmt.Errorf("eventlog: marshal meta: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO event_log (id, topic, entity, entity_id, actor_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, ev.ID, ev.Topic, ev.Entity, ev.EntityID, ev.Actor, metaJSON, ev.At)
	if err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

func filterWhere(f Filter) (string, []interface{}, int) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if f.Topic != "" {
		conditions = append(conditions, fmt.Sprintf("topic = $%d", argPos))
		args = append(args, f.Topic)
		argPos++
	}
	if f.Entity != "" {
		conditions = append(conditions, fmt.Sprintf("entity = $%d", argPos))
		args = append(args, f.Entity)
		argPos++
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args, argPos
}

// List returns matching events, newest first.
func (s *PGStore) List(ctx context.Context, f Filter) ([]Event, error) {
	where, args, argPos := filterWhere(f)
	query := fmt.Sprintf(`SELECT id, topic, entity, entity_id, actor_id, meta, occurred_at
FROM event_log %s ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var metaJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Entity, &ev.EntityID, &ev.Actor, &metaJSON, &ev.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Meta); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns the number of events matching the filter.
func (s *PGStore) Count(ctx context.Context, f Filter) (int, error) {
	where, args, _ := filterWhere(f)
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM event_log %s", where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("eventlog: count: %w", err)
	}
	return n, nil
}
