package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topics emitted by the transactional core. Consumers subscribe to these
// through the dispatch worker; the core never reads the log back.
const (
	TopicRoleAdded         = "authz.role_added"
	TopicRoleRemoved       = "authz.role_removed"
	TopicCapabilityAdded   = "authz.capability_added"
	TopicCapabilityRemoved = "authz.capability_removed"
	TopicRootSet           = "authz.root_set"
	TopicPublicSet         = "authz.public_set"

	TopicPaymentLocked     = "escrow.payment_locked"
	TopicPaymentReleased   = "escrow.payment_released"
	TopicOperationApproved = "escrow.operation_approved"
	TopicServiceMode       = "escrow.service_mode"

	TopicJobPosted      = "workflow.job_posted"
	TopicJobOfferPosted = "workflow.job_offer_posted"
	TopicOfferAccepted  = "workflow.offer_accepted"
	TopicWorkStarted    = "workflow.work_started"
	TopicWorkPaused     = "workflow.work_paused"
	TopicWorkResumed    = "workflow.work_resumed"
	TopicTimeAdded      = "workflow.time_added"
	TopicWorkEnded      = "workflow.work_ended"
	TopicJobCanceled    = "workflow.job_canceled"
	TopicJobFinalized   = "workflow.job_finalized"
)

// Event is a single append-only record in the platform event log.
type Event struct {
	ID       uuid.UUID      `json:"id"`
	Topic    string         `json:"topic"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Actor    int64          `json:"actor"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

// Recorder appends events to the log. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Filter narrows List results.
type Filter struct {
	Topic  string
	Entity string
	Limit  int
	Offset int
}
