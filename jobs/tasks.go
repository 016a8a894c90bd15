package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskEventDispatch fans a recorded event out to webhook subscribers.
	TaskEventDispatch = "event:dispatch"
	// TaskLedgerIntegrity reconciles escrow bookkeeping against balances.
	TaskLedgerIntegrity = "ledger:integrity"
)

// EventDispatchPayload carries one event to the dispatch handler.
type EventDispatchPayload struct {
	ID       uuid.UUID      `json:"id"`
	Topic    string         `json:"topic"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Actor    int64          `json:"actor"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// NewEventDispatchTask constructs an Asynq task for one event.
func NewEventDispatchTask(payload EventDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEventDispatch, data, asynq.MaxRetry(5)), nil
}

// NewLedgerIntegrityTask constructs the periodic reconciliation task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}
