package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/workmesh/workmesh/internal/authz"
	"github.com/workmesh/workmesh/internal/eventlog"
	"github.com/workmesh/workmesh/internal/observability"
	"github.com/workmesh/workmesh/internal/shared"
)

// Guarded workflow operations, registered as capabilities under the
// workflow resource. Posting and releasing are marked public at seed time;
// the rest are guarded by party checks on top of the registry.
const (
	OpPostJob          = "post_job"
	OpPostJobOffer     = "post_job_offer"
	OpAcceptOffer      = "accept_offer"
	OpStartWork        = "start_work"
	OpConfirmStartWork = "confirm_start_work"
	OpPauseWork        = "pause_work"
	OpResumeWork       = "resume_work"
	OpAddMoreTime      = "add_more_time"
	OpEndWork          = "end_work"
	OpConfirmEndWork   = "confirm_end_work"
	OpCancelJob        = "cancel_job"
	OpReleasePayment   = "release_payment"
)

// Authorizer answers whether a subject may perform a guarded operation.
type Authorizer interface {
	MayInvoke(ctx context.Context, subject int64, resource, operation string) bool
}

// EscrowLedger is the slice of the escrow ledger the engine drives.
type EscrowLedger interface {
	Lock(ctx context.Context, caller int64, operationID string, payer, amount int64) error
	Release(ctx context.Context, caller int64, operationID string, payee, amount, changeRecipient, feeBase, additionalFee int64) error
}

// SkillsDirectory reports whether a worker covers a job's skill profile.
type SkillsDirectory interface {
	HasSkills(ctx context.Context, subject int64, area, category, skills uint64) (bool, error)
}

// Engine runs the job lifecycle. All escrow calls go out under the engine's
// own subject, which holds the payment initiator role.
type Engine struct {
	mu      sync.Mutex
	store   Store
	authz   Authorizer
	escrow  EscrowLedger
	skills  SkillsDirectory
	events  eventlog.Recorder
	metrics *observability.Metrics
	logger  *slog.Logger
	subject int64
	now     func() time.Time
}

func NewEngine(store Store, authorizer Authorizer, ledger EscrowLedger, skills SkillsDirectory, events eventlog.Recorder, metrics *observability.Metrics, subject int64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		authz:   authorizer,
		escrow:  ledger,
		skills:  skills,
		events:  events,
		metrics: metrics,
		logger:  logger,
		subject: subject,
		now:     time.Now,
	}
}

// PostJob creates a job in CREATED. Area and category are single-flag
// classifiers; skills is a non-empty requirement mask.
func (e *Engine) PostJob(ctx context.Context, caller int64, flags Flags, area, category, skills uint64, defaultPay int64, details string) (int64, error) {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpPostJob) {
		return 0, fmt.Errorf("post job: %w", shared.ErrUnauthorized)
	}
	if !flags.Valid() {
		return 0, fmt.Errorf("post job: invalid flags %#x", uint64(flags))
	}
	if bits.OnesCount64(area) != 1 || bits.OnesCount64(category) != 1 {
		return 0, fmt.Errorf("post job: area and category must each name one classifier")
	}
	if skills == 0 {
		return 0, fmt.Errorf("post job: skills mask must not be empty")
	}
	if defaultPay <= 0 {
		return 0, fmt.Errorf("post job: default pay must be positive: %d", defaultPay)
	}
	if details == "" {
		return 0, fmt.Errorf("post job: details required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	job := Job{
		Client:     caller,
		Flags:      flags,
		Area:       area,
		Category:   category,
		Skills:     skills,
		Details:    details,
		DefaultPay: defaultPay,
		State:      StateCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	id, err := e.store.CreateJob(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("post job: %w", err)
	}
	job.ID = id
	e.metrics.IncTransition(string(StateCreated))
	e.record(ctx, eventlog.TopicJobPosted, job, caller, map[string]any{
		"flags": uint64(flags),
		"area":  area,
	})
	return id, nil
}

// PostOffer bids on a CREATED job. The worker must cover the job's skill
// profile. For time and materials jobs the rate is per minute against the
// estimate; for fixed price jobs the rate is the whole price.
func (e *Engine) PostOffer(ctx context.Context, caller, jobID int64, token string, rate, estimate, onTop int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpPostJobOffer) {
		return fmt.Errorf("post offer: %w", shared.ErrUnauthorized)
	}
	if rate <= 0 || onTop < 0 {
		return fmt.Errorf("post offer: invalid terms rate=%d on_top=%d", rate, onTop)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("post offer: %w", err)
	}
	if job.State != StateCreated {
		return fmt.Errorf("post offer on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller == job.Client {
		return fmt.Errorf("post offer: client cannot bid on own job: %w", shared.ErrUnauthorized)
	}
	if job.Flags.Model() == WorkflowTM && estimate <= 0 {
		return fmt.Errorf("post offer: estimate required: %d", estimate)
	}

	ok, err := e.skills.HasSkills(ctx, caller, job.Area, job.Category, job.Skills)
	if err != nil {
		return fmt.Errorf("post offer: %w", err)
	}
	if !ok {
		return fmt.Errorf("post offer: worker lacks required skills: %w", shared.ErrUnauthorized)
	}

	offer := Offer{
		JobID:    jobID,
		Worker:   caller,
		Token:    token,
		Rate:     rate,
		Estimate: estimate,
		OnTop:    onTop,
		PostedAt: e.now(),
	}
	if job.Flags.Model() == WorkflowTM {
		span := offer.Estimate + ScheduleBufferMinutes
		if prod := rate * span; prod/rate != span || prod+onTop < prod {
			return fmt.Errorf("post offer: terms overflow")
		}
	} else if rate+onTop < rate {
		return fmt.Errorf("post offer: terms overflow")
	}
	if err := e.store.PutOffer(ctx, offer); err != nil {
		return fmt.Errorf("post offer: %w", err)
	}
	e.record(ctx, eventlog.TopicJobOfferPosted, job, caller, map[string]any{
		"rate":     rate,
		"estimate": estimate,
		"on_top":   onTop,
	})
	return nil
}

// AcceptOffer binds the worker's offer to the job and locks the offer's
// amount in escrow. Exactly one transfer happens here.
func (e *Engine) AcceptOffer(ctx context.Context, caller, jobID, worker int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpAcceptOffer) {
		return fmt.Errorf("accept offer: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}
	if job.State != StateCreated {
		return fmt.Errorf("accept offer on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Client {
		return fmt.Errorf("accept offer: only the client may accept: %w", shared.ErrUnauthorized)
	}
	offer, err := e.store.GetOffer(ctx, jobID, worker)
	if err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}

	amount := offer.LockAmount(job.Flags)
	if err := e.escrow.Lock(ctx, e.subject, job.OperationID(), job.Client, amount); err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}

	job.Worker = offer.Worker
	job.Rate = offer.Rate
	job.Estimate = offer.Estimate
	job.OnTop = offer.OnTop
	job.Token = offer.Token
	job.Locked = amount
	if err := e.transition(ctx, &job, StateAccepted); err != nil {
		return fmt.Errorf("accept offer: %w", err)
	}
	e.record(ctx, eventlog.TopicOfferAccepted, job, caller, map[string]any{
		"worker": worker,
		"locked": amount,
	})
	return nil
}

// StartWork is the worker's signal. Jobs with the confirmation flag park in
// PENDING_START until the client confirms; others start immediately.
func (e *Engine) StartWork(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpStartWork) {
		return fmt.Errorf("start work: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("start work: %w", err)
	}
	if job.State != StateAccepted {
		return fmt.Errorf("start work on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Worker {
		return fmt.Errorf("start work: only the worker may start: %w", shared.ErrUnauthorized)
	}

	next := StateStarted
	if job.Flags.ConfirmationNeeded() {
		next = StatePendingStart
	} else {
		now := e.now()
		job.StartedAt = &now
	}
	if err := e.transition(ctx, &job, next); err != nil {
		return fmt.Errorf("start work: %w", err)
	}
	e.record(ctx, eventlog.TopicWorkStarted, job, caller, map[string]any{
		"pending": next == StatePendingStart,
	})
	return nil
}

// ConfirmStartWork is the client's confirmation for jobs that require one.
// Paid time is measured from this confirmation.
func (e *Engine) ConfirmStartWork(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpConfirmStartWork) {
		return fmt.Errorf("confirm start: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("confirm start: %w", err)
	}
	if job.State != StatePendingStart {
		return fmt.Errorf("confirm start on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Client {
		return fmt.Errorf("confirm start: only the client may confirm: %w", shared.ErrUnauthorized)
	}

	now := e.now()
	job.StartedAt = &now
	if err := e.transition(ctx, &job, StateStarted); err != nil {
		return fmt.Errorf("confirm start: %w", err)
	}
	e.record(ctx, eventlog.TopicWorkStarted, job, caller, map[string]any{"confirmed": true})
	return nil
}

// PauseWork records a pause. Pauses are informational and do not change
// paid time.
func (e *Engine) PauseWork(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpPauseWork) {
		return fmt.Errorf("pause work: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pause work: %w", err)
	}
	if job.State != StateStarted || job.Paused {
		return fmt.Errorf("pause work on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Worker {
		return fmt.Errorf("pause work: only the worker may pause: %w", shared.ErrUnauthorized)
	}

	job.Paused = true
	job.UpdatedAt = e.now()
	if err := e.store.PutJob(ctx, job); err != nil {
		return fmt.Errorf("pause work: %w", err)
	}
	e.record(ctx, eventlog.TopicWorkPaused, job, caller, nil)
	return nil
}

// ResumeWork clears a recorded pause.
func (e *Engine) ResumeWork(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpResumeWork) {
		return fmt.Errorf("resume work: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resume work: %w", err)
	}
	if job.State != StateStarted || !job.Paused {
		return fmt.Errorf("resume work on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Worker {
		return fmt.Errorf("resume work: only the worker may resume: %w", shared.ErrUnauthorized)
	}

	job.Paused = false
	job.UpdatedAt = e.now()
	if err := e.store.PutJob(ctx, job); err != nil {
		return fmt.Errorf("resume work: %w", err)
	}
	e.record(ctx, eventlog.TopicWorkResumed, job, caller, nil)
	return nil
}

// AddMoreTime grows a started time-and-materials job's estimate. The escrow
// position does not grow; payout stays capped by the locked amount.
func (e *Engine) AddMoreTime(ctx context.Context, caller, jobID, additionalMinutes int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpAddMoreTime) {
		return fmt.Errorf("add more time: %w", shared.ErrUnauthorized)
	}
	if additionalMinutes <= 0 {
		return fmt.Errorf("add more time: minutes must be positive: %d", additionalMinutes)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("add more time: %w", err)
	}
	if job.State != StateStarted {
		return fmt.Errorf("add more time on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Client {
		return fmt.Errorf("add more time: only the client may extend: %w", shared.ErrUnauthorized)
	}
	if job.Flags.Model() != WorkflowTM {
		return fmt.Errorf("add more time on fixed price job: %w", shared.ErrInvalidStage)
	}

	job.Estimate += additionalMinutes
	job.UpdatedAt = e.now()
	if err := e.store.PutJob(ctx, job); err != nil {
		return fmt.Errorf("add more time: %w", err)
	}
	e.record(ctx, eventlog.TopicTimeAdded, job, caller, map[string]any{
		"minutes":  additionalMinutes,
		"estimate": job.Estimate,
	})
	return nil
}

// EndWork is the worker's signal that the job is done. Jobs with the
// confirmation flag park in PENDING_FINISH until the client confirms.
func (e *Engine) EndWork(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpEndWork) {
		return fmt.Errorf("end work: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("end work: %w", err)
	}
	if job.State != StateStarted {
		return fmt.Errorf("end work on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Worker {
		return fmt.Errorf("end work: only the worker may end: %w", shared.ErrUnauthorized)
	}

	job.Paused = false
	next := StateFinished
	if job.Flags.ConfirmationNeeded() {
		next = StatePendingFinish
	} else {
		now := e.now()
		job.EndedAt = &now
	}
	if err := e.transition(ctx, &job, next); err != nil {
		return fmt.Errorf("end work: %w", err)
	}
	e.record(ctx, eventlog.TopicWorkEnded, job, caller, map[string]any{
		"pending": next == StatePendingFinish,
	})
	return nil
}

// ConfirmEndWork is the client's confirmation for jobs that require one.
// Paid time is measured up to this confirmation.
func (e *Engine) ConfirmEndWork(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpConfirmEndWork) {
		return fmt.Errorf("confirm end: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("confirm end: %w", err)
	}
	if job.State != StatePendingFinish {
		return fmt.Errorf("confirm end on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Client {
		return fmt.Errorf("confirm end: only the client may confirm: %w", shared.ErrUnauthorized)
	}

	now := e.now()
	job.EndedAt = &now
	if err := e.transition(ctx, &job, StateFinished); err != nil {
		return fmt.Errorf("confirm end: %w", err)
	}
	e.record(ctx, eventlog.TopicWorkEnded, job, caller, map[string]any{"confirmed": true})
	return nil
}

// ReleasePayment settles a FINISHED job: the worker receives pay for the
// recorded time, the remainder returns to the client, and the job becomes
// FINALIZED. Exactly one transfer happens here.
func (e *Engine) ReleasePayment(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpReleasePayment) {
		return fmt.Errorf("release payment: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("release payment: %w", err)
	}
	if job.State != StateFinished {
		return fmt.Errorf("release payment on %s job: %w", job.State, shared.ErrInvalidStage)
	}

	payout := e.payout(job)
	feeBase := payout - job.OnTop
	if feeBase < 0 {
		feeBase = 0
	}
	if err := e.escrow.Release(ctx, e.subject, job.OperationID(), job.Worker, payout, job.Client, feeBase, 0); err != nil {
		return fmt.Errorf("release payment: %w", err)
	}

	if err := e.transition(ctx, &job, StateFinalized); err != nil {
		return fmt.Errorf("release payment: %w", err)
	}
	e.record(ctx, eventlog.TopicJobFinalized, job, caller, map[string]any{
		"payout": payout,
	})
	return nil
}

// CancelJob is the client's exit before settlement. Work already performed
// is paid for; the rest of the escrow position returns to the client.
func (e *Engine) CancelJob(ctx context.Context, caller, jobID int64) error {
	if !e.authz.MayInvoke(ctx, caller, authz.ResourceWorkflow, OpCancelJob) {
		return fmt.Errorf("cancel job: %w", shared.ErrUnauthorized)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if job.State.Terminal() || job.State == StateFinished {
		return fmt.Errorf("cancel job on %s job: %w", job.State, shared.ErrInvalidStage)
	}
	if caller != job.Client {
		return fmt.Errorf("cancel job: only the client may cancel: %w", shared.ErrUnauthorized)
	}

	var payout int64
	if job.Locked > 0 {
		if job.StartedAt != nil && job.EndedAt == nil {
			now := e.now()
			job.EndedAt = &now
		}
		if job.StartedAt != nil {
			payout = e.payout(job)
		}
		feeBase := payout - job.OnTop
		if feeBase < 0 {
			feeBase = 0
		}
		if err := e.escrow.Release(ctx, e.subject, job.OperationID(), job.Worker, payout, job.Client, feeBase, 0); err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
	}

	if err := e.transition(ctx, &job, StateCanceled); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	e.record(ctx, eventlog.TopicJobCanceled, job, caller, map[string]any{
		"payout": payout,
	})
	return nil
}

// Job returns the current job record.
func (e *Engine) Job(ctx context.Context, id int64) (Job, error) {
	return e.store.GetJob(ctx, id)
}

// Jobs lists jobs matching the filter.
func (e *Engine) Jobs(ctx context.Context, f ListFilter) ([]Job, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return e.store.ListJobs(ctx, f)
}

// Offers lists bids on a job.
func (e *Engine) Offers(ctx context.Context, jobID int64) ([]Offer, error) {
	return e.store.ListOffers(ctx, jobID)
}

// payout computes the amount owed to the worker at settlement. Fixed price
// jobs pay the agreed price; time and materials jobs pay the rate over the
// recorded minutes, capped by the estimate plus buffer and by the locked
// amount.
func (e *Engine) payout(job Job) int64 {
	var amount int64
	if job.Flags.Model() == WorkflowFixedPrice {
		amount = job.Rate + job.OnTop
	} else {
		worked := int64(0)
		if job.StartedAt != nil && job.EndedAt != nil {
			worked = workedMinutes(*job.StartedAt, *job.EndedAt)
		}
		if limit := job.Estimate + ScheduleBufferMinutes; worked > limit {
			worked = limit
		}
		amount = job.Rate*worked + job.OnTop
	}
	if amount > job.Locked {
		amount = job.Locked
	}
	return amount
}

// workedMinutes rounds the span up to whole minutes.
func workedMinutes(start, end time.Time) int64 {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	m := int64(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}

func (e *Engine) transition(ctx context.Context, job *Job, next State) error {
	job.State = next
	job.UpdatedAt = e.now()
	if err := e.store.PutJob(ctx, *job); err != nil {
		return err
	}
	e.metrics.IncTransition(string(next))
	return nil
}

func (e *Engine) record(ctx context.Context, topic string, job Job, actor int64, meta map[string]any) {
	ev := eventlog.Event{
		Topic:    topic,
		Entity:   "job",
		EntityID: job.OperationID(),
		Actor:    actor,
		Meta:     meta,
	}
	if err := e.events.Record(ctx, ev); err != nil {
		e.logger.Warn("record event", "topic", topic, "job", job.ID, "err", err)
	}
}
