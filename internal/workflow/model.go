// Package workflow runs the job lifecycle state machine that coordinates
// clients, workers, and the escrow ledger.
package workflow

import (
	"strconv"
	"time"
)

// State is the lifecycle stage of a job.
type State string

const (
	StateCreated       State = "CREATED"
	StateAccepted      State = "ACCEPTED"
	StatePendingStart  State = "PENDING_START"
	StateStarted       State = "STARTED"
	StatePendingFinish State = "PENDING_FINISH"
	StateFinished      State = "FINISHED"
	StateFinalized     State = "FINALIZED"
	StateCanceled      State = "CANCELED"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCanceled
}

// Flags packs the workflow model into the low bits and behavior toggles
// into the high bits.
type Flags uint64

const (
	// Workflow models, mutually exclusive.
	WorkflowTM         Flags = 1 // time and materials
	WorkflowFixedPrice Flags = 2

	// FlagConfirmationNeeded requires the client to confirm start and end
	// of work before the job advances.
	FlagConfirmationNeeded Flags = 1 << 63

	workflowMask = WorkflowTM | WorkflowFixedPrice
)

// Model returns the workflow model bits alone.
func (f Flags) Model() Flags { return f & workflowMask }

// ConfirmationNeeded reports whether client confirmations gate start and
// end of work.
func (f Flags) ConfirmationNeeded() bool { return f&FlagConfirmationNeeded != 0 }

// Valid reports whether exactly one workflow model is selected and no
// unknown bits are set.
func (f Flags) Valid() bool {
	m := f.Model()
	if m != WorkflowTM && m != WorkflowFixedPrice {
		return false
	}
	return f&^(workflowMask|FlagConfirmationNeeded) == 0
}

// ScheduleBufferMinutes pads every time-and-materials estimate when funds
// are locked, so small overruns stay covered.
const ScheduleBufferMinutes = 60

// Job is a unit of work posted by a client.
type Job struct {
	ID       int64  `json:"id"`
	Client   int64  `json:"client"`
	Worker   int64  `json:"worker,omitempty"`
	Flags    Flags  `json:"flags"`
	Area     uint64 `json:"area"`
	Category uint64 `json:"category"`
	Skills   uint64 `json:"skills"`
	Details  string `json:"details"`

	// DefaultPay is the client's indicative budget; the binding terms come
	// from the accepted offer.
	DefaultPay int64 `json:"default_pay"`

	// Terms of the accepted offer.
	Rate     int64  `json:"rate,omitempty"`
	Estimate int64  `json:"estimate,omitempty"` // minutes, grows via AddMoreTime
	OnTop    int64  `json:"on_top,omitempty"`
	Token    string `json:"token,omitempty"`

	// Locked is the amount held in escrow for the job.
	Locked int64 `json:"locked,omitempty"`

	State     State      `json:"state"`
	Paused    bool       `json:"paused,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// OperationID names the escrow position backing the job.
func (j Job) OperationID() string {
	return "job/" + strconv.FormatInt(j.ID, 10)
}

// Offer is a worker's bid on a job. Rate and estimate drive the amount
// locked when the client accepts; OnTop is paid untaxed on release.
type Offer struct {
	JobID    int64     `json:"job_id"`
	Worker   int64     `json:"worker"`
	Token    string    `json:"token"`
	Rate     int64     `json:"rate"`
	Estimate int64     `json:"estimate"` // minutes
	OnTop    int64     `json:"on_top"`
	PostedAt time.Time `json:"posted_at"`
}

// LockAmount is the escrow amount the client must cover to accept the offer.
func (o Offer) LockAmount(f Flags) int64 {
	if f.Model() == WorkflowFixedPrice {
		return o.Rate + o.OnTop
	}
	return o.Rate*(o.Estimate+ScheduleBufferMinutes) + o.OnTop
}
