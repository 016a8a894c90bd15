package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/workmesh/workmesh/internal/authz"
	"github.com/workmesh/workmesh/internal/eventlog"
	"github.com/workmesh/workmesh/internal/observability"
	"github.com/workmesh/workmesh/internal/payments"
	"github.com/workmesh/workmesh/internal/shared"
)

// Guarded ledger operations, registered as capabilities under the escrow
// resource.
const (
	OpLock        = "lock"
	OpRelease     = "release"
	OpApprove     = "approve"
	OpServiceMode = "service_mode"
)

// Authorizer answers whether a subject may perform a guarded operation.
// *authz.Registry satisfies it.
type Authorizer interface {
	MayInvoke(ctx context.Context, subject int64, resource, operation string) bool
}

// Gateway is the slice of the payments gateway the ledger drives.
type Gateway interface {
	TransferWithFee(ctx context.Context, payer, to payments.Account, value, feeBase, additionalFee int64) error
	TransferAllAndWithdraw(ctx context.Context, from, payee payments.Account, value int64, change payments.Account, feeBase, additionalFee int64, withdraw bool) error
}

// Ledger locks funds against operations and settles them. In service mode
// every funds movement additionally requires a single-use approval for the
// operation id; the approval is consumed by the call it authorizes.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	gateway Gateway
	authz   Authorizer
	events  eventlog.Recorder
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewLedger(store Store, gateway Gateway, authorizer Authorizer, events eventlog.Recorder, metrics *observability.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:   store,
		gateway: gateway,
		authz:   authorizer,
		events:  events,
		metrics: metrics,
		logger:  logger,
	}
}

// Lock reserves amount from the payer against the operation id. The transfer
// into escrow happens immediately; in service mode it is skipped unless the
// operation was approved.
func (l *Ledger) Lock(ctx context.Context, caller int64, operationID string, payer, amount int64) error {
	if !l.authz.MayInvoke(ctx, caller, authz.ResourceEscrow, OpLock) {
		return fmt.Errorf("lock %q: %w", operationID, shared.ErrUnauthorized)
	}
	if amount <= 0 {
		return fmt.Errorf("lock %q: amount must be positive: %d", operationID, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.store.Get(ctx, operationID); err == nil {
		return fmt.Errorf("lock %q: %w", operationID, shared.ErrAlreadyProcessed)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("lock %q: %w", operationID, err)
	}

	transfer, err := l.gate(ctx, operationID)
	if err != nil {
		return fmt.Errorf("lock %q: %w", operationID, err)
	}
	if transfer {
		err := l.gateway.TransferWithFee(ctx,
			payments.SubjectAccount(payer), payments.OperationAccount(operationID),
			amount, amount, 0)
		if err != nil {
			return fmt.Errorf("lock %q: %w", operationID, err)
		}
		l.metrics.IncTransfer("lock")
	}

	op := Operation{ID: operationID, Payer: payer, Amount: amount, LockedAt: time.Now()}
	if err := l.store.Put(ctx, op); err != nil {
		// Funds already moved; surface loudly rather than retry blind.
		l.logger.Error("record locked operation", "operation", operationID, "err", err)
		return fmt.Errorf("lock %q: %w", operationID, err)
	}
	l.consume(ctx, operationID)

	l.record(ctx, eventlog.TopicPaymentLocked, operationID, caller, map[string]any{
		"payer":       payer,
		"amount":      amount,
		"transferred": transfer,
	})
	return nil
}

// Release settles the operation: amount goes to the payee minus the platform
// fee computed over feeBase plus additionalFee, the payee's net proceeds are
// withdrawn off the platform, and whatever remains in escrow goes to the
// change recipient named by the caller. A released operation stays released.
func (l *Ledger) Release(ctx context.Context, caller int64, operationID string, payee, amount, changeRecipient, feeBase, additionalFee int64) error {
	if !l.authz.MayInvoke(ctx, caller, authz.ResourceEscrow, OpRelease) {
		return fmt.Errorf("release %q: %w", operationID, shared.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	op, err := l.store.Get(ctx, operationID)
	if err != nil {
		return fmt.Errorf("release %q: %w", operationID, err)
	}
	if op.Released {
		return fmt.Errorf("release %q: %w", operationID, shared.ErrAlreadyProcessed)
	}
	if amount < 0 || amount > op.Amount {
		return fmt.Errorf("release %q: amount %d outside locked %d", operationID, amount, op.Amount)
	}

	transfer, err := l.gate(ctx, operationID)
	if err != nil {
		return fmt.Errorf("release %q: %w", operationID, err)
	}
	if transfer {
		err := l.gateway.TransferAllAndWithdraw(ctx,
			payments.OperationAccount(operationID), payments.SubjectAccount(payee),
			amount, payments.SubjectAccount(changeRecipient), feeBase, additionalFee, true)
		if err != nil {
			return fmt.Errorf("release %q: %w", operationID, err)
		}
		l.metrics.IncTransfer("release")
	}

	now := time.Now()
	op.Released = true
	op.ReleasedAt = &now
	if err := l.store.Put(ctx, op); err != nil {
		l.logger.Error("record released operation", "operation", operationID, "err", err)
		return fmt.Errorf("release %q: %w", operationID, err)
	}
	l.consume(ctx, operationID)

	l.record(ctx, eventlog.TopicPaymentReleased, operationID, caller, map[string]any{
		"payee":       payee,
		"amount":      amount,
		"change_to":   changeRecipient,
		"transferred": transfer,
	})
	return nil
}

// Approve arms a single-use approval for the operation id. Approving an
// operation that already settled is rejected.
func (l *Ledger) Approve(ctx context.Context, caller int64, operationID string) error {
	if !l.authz.MayInvoke(ctx, caller, authz.ResourceEscrow, OpApprove) {
		return fmt.Errorf("approve %q: %w", operationID, shared.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	op, err := l.store.Get(ctx, operationID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("approve %q: %w", operationID, err)
	}
	if err == nil && op.Released {
		return fmt.Errorf("approve %q: %w", operationID, shared.ErrAlreadyProcessed)
	}
	if err := l.store.SetApproved(ctx, operationID, true); err != nil {
		return fmt.Errorf("approve %q: %w", operationID, err)
	}
	l.record(ctx, eventlog.TopicOperationApproved, operationID, caller, nil)
	return nil
}

// SetServiceMode toggles manual approval mode for the whole ledger.
func (l *Ledger) SetServiceMode(ctx context.Context, caller int64, enabled bool) error {
	if !l.authz.MayInvoke(ctx, caller, authz.ResourceEscrow, OpServiceMode) {
		return fmt.Errorf("set service mode: %w", shared.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.SetServiceMode(ctx, enabled); err != nil {
		return fmt.Errorf("set service mode: %w", err)
	}
	ev := eventlog.Event{
		Topic:    eventlog.TopicServiceMode,
		Entity:   "ledger",
		EntityID: "escrow",
		Actor:    caller,
		Meta:     map[string]any{"enabled": enabled},
	}
	if err := l.events.Record(ctx, ev); err != nil {
		l.logger.Warn("record event", "topic", ev.Topic, "err", err)
	}
	return nil
}

// Operation returns the recorded escrow position for an operation id.
func (l *Ledger) Operation(ctx context.Context, operationID string) (Operation, error) {
	return l.store.Get(ctx, operationID)
}

// Approved reports whether an unconsumed approval is armed for the id.
func (l *Ledger) Approved(ctx context.Context, operationID string) (bool, error) {
	return l.store.Approved(ctx, operationID)
}

// ServiceMode reports whether manual approval mode is on.
func (l *Ledger) ServiceMode(ctx context.Context) (bool, error) {
	return l.store.ServiceMode(ctx)
}

// Status summarizes open positions for the admin surface.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	mode, err := l.store.ServiceMode(ctx)
	if err != nil {
		return Status{}, err
	}
	ops, err := l.store.List(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{ServiceMode: mode}
	for _, op := range ops {
		if !op.Released {
			st.OpenCount++
			st.OpenAmount += op.Amount
		}
	}
	return st, nil
}

// gate decides whether the current call may move funds: always outside
// service mode, only with an armed approval inside it.
func (l *Ledger) gate(ctx context.Context, operationID string) (bool, error) {
	mode, err := l.store.ServiceMode(ctx)
	if err != nil {
		return false, err
	}
	if !mode {
		return true, nil
	}
	return l.store.Approved(ctx, operationID)
}

// consume clears the approval the finished call ran under, whether or not
// funds actually moved.
func (l *Ledger) consume(ctx context.Context, operationID string) {
	approved, err := l.store.Approved(ctx, operationID)
	if err != nil || !approved {
		return
	}
	if err := l.store.SetApproved(ctx, operationID, false); err != nil {
		l.logger.Error("consume approval", "operation", operationID, "err", err)
	}
}

func (l *Ledger) record(ctx context.Context, topic, operationID string, actor int64, meta map[string]any) {
	ev := eventlog.Event{
		Topic:    topic,
		Entity:   "operation",
		EntityID: operationID,
		Actor:    actor,
		Meta:     meta,
	}
	if err := l.events.Record(ctx, ev); err != nil {
		l.logger.Warn("record event", "topic", topic, "operation", operationID, "err", err)
	}
}
