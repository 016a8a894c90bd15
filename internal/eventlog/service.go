package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Enqueuer schedules asynchronous fan-out of a recorded event to external
// subscribers. Implementations must not block on delivery.
type Enqueuer interface {
	EnqueueDispatch(ctx context.Context, ev Event) error
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
	Count(ctx context.Context, f Filter) (int, error)
}

// Service is the append-only event log used by every mutating operation in
// the core. Dispatch to subscribers happens out of band via the enqueuer;
// a dispatch enqueue failure does not fail the append.
type Service struct {
	store    Store
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewService constructs a Service. The enqueuer may be nil when no worker
// is deployed.
func NewService(store Store, enqueuer Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, enqueuer: enqueuer, logger: logger}
}

// Record appends the event, assigning id and timestamp when absent.
func (s *Service) Record(ctx context.Context, ev Event) error {
	if s == nil || s.store == nil {
		return errors.New("eventlog: store not configured")
	}
	if ev.Topic == "" || ev.Entity == "" || ev.EntityID == "" {
		return errors.New("eventlog: event requires topic/entity/entity_id")
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := s.store.Append(ctx, ev); err != nil {
		return err
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueDispatch(ctx, ev); err != nil {
			s.logger.Warn("enqueue event dispatch",
				slog.String("topic", ev.Topic),
				slog.String("event_id", ev.ID.String()),
				slog.Any("error", err))
		}
	}
	return nil
}

// List returns events matching the filter, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Event, error) {
	if s == nil || s.store == nil {
		return nil, errors.New("eventlog: store not configured")
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}

// Count returns the number of events matching the filter, ignoring limit
// and offset.
func (s *Service) Count(ctx context.Context, f Filter) (int, error) {
	if s == nil || s.store == nil {
		return 0, errors.New("eventlog: store not configured")
	}
	return s.store.Count(ctx, f)
}
