package workflow

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/workmesh/workmesh/internal/escrow"
	"github.com/workmesh/workmesh/internal/eventlog"
	"github.com/workmesh/workmesh/internal/payments"
	"github.com/workmesh/workmesh/internal/shared"
	"github.com/workmesh/workmesh/internal/skills"
)

const (
	client = int64(1)
	worker = int64(2)

	testArea     = uint64(4)
	testCategory = uint64(2)
	testSkills   = uint64(7)
)

type allowAll struct{}

func (allowAll) MayInvoke(context.Context, int64, string, string) bool { return true }

type denyAll struct{}

func (denyAll) MayInvoke(context.Context, int64, string, string) bool { return false }

// countingLedger wraps the real escrow ledger and counts transfers.
type countingLedger struct {
	*escrow.Ledger
	locks    int
	releases int
}

func (c *countingLedger) Lock(ctx context.Context, caller int64, operationID string, payer, amount int64) error {
	if err := c.Ledger.Lock(ctx, caller, operationID, payer, amount); err != nil {
		return err
	}
	c.locks++
	return nil
}

func (c *countingLedger) Release(ctx context.Context, caller int64, operationID string, payee, amount, changeRecipient, feeBase, additionalFee int64) error {
	if err := c.Ledger.Release(ctx, caller, operationID, payee, amount, changeRecipient, feeBase, additionalFee); err != nil {
		return err
	}
	c.releases++
	return nil
}

type fixture struct {
	engine  *Engine
	ledger  *countingLedger
	gateway *payments.Gateway
	events  *eventlog.MemoryStore
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	balances := payments.NewMemoryBalanceStore()
	gw, err := payments.NewGateway(balances, payments.Account("fees"), 0, slog.Default())
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	events := eventlog.NewMemoryStore()
	recorder := eventlog.NewService(events, nil, nil)
	ledger := &countingLedger{
		Ledger: escrow.NewLedger(escrow.NewMemoryStore(), gw, allowAll{}, recorder, nil, slog.Default()),
	}

	dir := skills.NewDirectory(skills.NewMemoryStore())
	if err := dir.Declare(context.Background(), skills.Profile{
		Subject: worker, Area: testArea, Category: testCategory, Skills: testSkills,
	}); err != nil {
		t.Fatalf("Declare: %v", err)
	}

	f := &fixture{
		gateway: gw,
		ledger:  ledger,
		events:  events,
		clock:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(NewMemoryStore(), allowAll{}, ledger, dir, recorder, nil, 99, slog.Default())
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) deposit(t *testing.T, subject, amount int64) {
	t.Helper()
	if err := f.gateway.Deposit(context.Background(), payments.SubjectAccount(subject), amount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
}

func (f *fixture) balance(t *testing.T, subject int64) int64 {
	t.Helper()
	bal, err := f.gateway.Balance(context.Background(), payments.SubjectAccount(subject))
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return bal
}

// postJob creates a job and returns its id.
func (f *fixture) postJob(t *testing.T, flags Flags) int64 {
	t.Helper()
	id, err := f.engine.PostJob(context.Background(), client, flags, testArea, testCategory, testSkills, 10_000, "build the thing")
	if err != nil {
		t.Fatalf("PostJob: %v", err)
	}
	return id
}

func (f *fixture) state(t *testing.T, id int64) State {
	t.Helper()
	job, err := f.engine.Job(context.Background(), id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	return job.State
}

// toState drives a freshly posted TM job with confirmations to the target
// state. The offer is rate 10 per minute over a 120 minute estimate.
func (f *fixture) toState(t *testing.T, id int64, target State) {
	t.Helper()
	ctx := context.Background()

	steps := []struct {
		at State
		do func() error
	}{
		{StateCreated, func() error {
			if err := f.engine.PostOffer(ctx, worker, id, "USD", 10, 120, 50); err != nil {
				return err
			}
			return f.engine.AcceptOffer(ctx, client, id, worker)
		}},
		{StateAccepted, func() error { return f.engine.StartWork(ctx, worker, id) }},
		{StatePendingStart, func() error { return f.engine.ConfirmStartWork(ctx, client, id) }},
		{StateStarted, func() error { return f.engine.EndWork(ctx, worker, id) }},
		{StatePendingFinish, func() error { return f.engine.ConfirmEndWork(ctx, client, id) }},
		{StateFinished, func() error { return f.engine.ReleasePayment(ctx, client, id) }},
	}
	for _, step := range steps {
		if f.state(t, id) == target {
			return
		}
		if step.at != f.state(t, id) {
			continue
		}
		if err := step.do(); err != nil {
			t.Fatalf("advance from %s: %v", step.at, err)
		}
	}
	if got := f.state(t, id); got != target {
		t.Fatalf("drove job to %s, want %s", got, target)
	}
}

func TestPostJobValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name     string
		flags    Flags
		area     uint64
		category uint64
		skills   uint64
		pay      int64
		details  string
	}{
		{"both models", WorkflowTM | WorkflowFixedPrice, testArea, testCategory, testSkills, 100, "x"},
		{"no model", FlagConfirmationNeeded, testArea, testCategory, testSkills, 100, "x"},
		{"unknown flag", WorkflowTM | 1<<10, testArea, testCategory, testSkills, 100, "x"},
		{"multi-flag area", WorkflowTM, 6, testCategory, testSkills, 100, "x"},
		{"zero category", WorkflowTM, testArea, 0, testSkills, 100, "x"},
		{"zero skills", WorkflowTM, testArea, testCategory, 0, 100, "x"},
		{"zero pay", WorkflowTM, testArea, testCategory, testSkills, 0, "x"},
		{"no details", WorkflowTM, testArea, testCategory, testSkills, 100, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.PostJob(ctx, client, tc.flags, tc.area, tc.category, tc.skills, tc.pay, tc.details); err == nil {
				t.Error("invalid job accepted")
			}
		})
	}

	id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)
	if f.state(t, id) != StateCreated {
		t.Errorf("new job state = %s", f.state(t, id))
	}
}

func TestPostOfferRequiresSkills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.postJob(t, WorkflowTM)

	// Worker 3 never declared anything.
	err := f.engine.PostOffer(ctx, 3, id, "USD", 10, 120, 0)
	if !errors.Is(err, shared.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.PostOffer(ctx, worker, id, "USD", 10, 120, 0); err != nil {
		t.Fatalf("qualified worker rejected: %v", err)
	}
}

func TestPostOfferRejectsClientAndBadTerms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.postJob(t, WorkflowTM)

	if err := f.engine.PostOffer(ctx, client, id, "USD", 10, 120, 0); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("client bid err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.PostOffer(ctx, worker, id, "USD", 0, 120, 0); err == nil {
		t.Error("zero rate accepted")
	}
	if err := f.engine.PostOffer(ctx, worker, id, "USD", 10, 0, 0); err == nil {
		t.Error("zero estimate accepted on time and materials job")
	}
}

func TestAcceptOfferLocksEscrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)

	if err := f.engine.PostOffer(ctx, worker, id, "USD", 10, 120, 50); err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	if err := f.engine.AcceptOffer(ctx, client, id, worker); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}

	// rate 10 * (120 estimate + 60 buffer) + 50 on top = 1850.
	job, _ := f.engine.Job(ctx, id)
	if job.Locked != 1_850 {
		t.Errorf("locked = %d, want 1850", job.Locked)
	}
	if job.Worker != worker || job.State != StateAccepted {
		t.Errorf("job = %+v", job)
	}
	if got := f.balance(t, client); got != 8_150 {
		t.Errorf("client balance = %d, want 8150", got)
	}
	if f.ledger.locks != 1 {
		t.Errorf("locks = %d, want 1", f.ledger.locks)
	}
}

func TestAcceptOfferInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 100)
	id := f.postJob(t, WorkflowTM)

	if err := f.engine.PostOffer(ctx, worker, id, "USD", 10, 120, 50); err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	err := f.engine.AcceptOffer(ctx, client, id, worker)
	if !errors.Is(err, shared.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if got := f.state(t, id); got != StateCreated {
		t.Errorf("failed accept advanced job to %s", got)
	}
}

func TestFixedPriceLockAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowFixedPrice)

	if err := f.engine.PostOffer(ctx, worker, id, "USD", 5_000, 0, 200); err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	if err := f.engine.AcceptOffer(ctx, client, id, worker); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	job, _ := f.engine.Job(ctx, id)
	if job.Locked != 5_200 {
		t.Errorf("locked = %d, want 5200", job.Locked)
	}
}

func TestConfirmationFlowTimestamps(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)
	f.toState(t, id, StateAccepted)

	if err := f.engine.StartWork(ctx, worker, id); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	if got := f.state(t, id); got != StatePendingStart {
		t.Fatalf("state = %s, want PENDING_START", got)
	}
	job, _ := f.engine.Job(ctx, id)
	if job.StartedAt != nil {
		t.Error("StartedAt set before client confirmed")
	}

	f.advance(10 * time.Minute)
	if err := f.engine.ConfirmStartWork(ctx, client, id); err != nil {
		t.Fatalf("ConfirmStartWork: %v", err)
	}
	job, _ = f.engine.Job(ctx, id)
	if job.StartedAt == nil || !job.StartedAt.Equal(f.clock) {
		t.Errorf("StartedAt = %v, want %v", job.StartedAt, f.clock)
	}
}

func TestNoConfirmationSkipsPendingStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateAccepted)

	if err := f.engine.StartWork(ctx, worker, id); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	if got := f.state(t, id); got != StateStarted {
		t.Fatalf("state = %s, want STARTED", got)
	}
	if err := f.engine.EndWork(ctx, worker, id); err != nil {
		t.Fatalf("EndWork: %v", err)
	}
	if got := f.state(t, id); got != StateFinished {
		t.Fatalf("state = %s, want FINISHED", got)
	}
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateStarted)

	if err := f.engine.ResumeWork(ctx, worker, id); !errors.Is(err, shared.ErrInvalidStage) {
		t.Errorf("resume without pause err = %v, want ErrInvalidStage", err)
	}
	if err := f.engine.PauseWork(ctx, worker, id); err != nil {
		t.Fatalf("PauseWork: %v", err)
	}
	if err := f.engine.PauseWork(ctx, worker, id); !errors.Is(err, shared.ErrInvalidStage) {
		t.Errorf("double pause err = %v, want ErrInvalidStage", err)
	}
	if err := f.engine.ResumeWork(ctx, worker, id); err != nil {
		t.Fatalf("ResumeWork: %v", err)
	}
}

func TestAddMoreTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateStarted)

	if err := f.engine.AddMoreTime(ctx, client, id, 30); err != nil {
		t.Fatalf("AddMoreTime: %v", err)
	}
	job, _ := f.engine.Job(ctx, id)
	if job.Estimate != 150 {
		t.Errorf("estimate = %d, want 150", job.Estimate)
	}
	if err := f.engine.AddMoreTime(ctx, client, id, 0); err == nil {
		t.Error("zero minutes accepted")
	}
	if err := f.engine.AddMoreTime(ctx, worker, id, 30); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("worker extend err = %v, want ErrUnauthorized", err)
	}
}

func TestAddMoreTimeFixedPrice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowFixedPrice)

	if err := f.engine.PostOffer(ctx, worker, id, "USD", 5_000, 0, 0); err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	if err := f.engine.AcceptOffer(ctx, client, id, worker); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	if err := f.engine.StartWork(ctx, worker, id); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	if err := f.engine.AddMoreTime(ctx, client, id, 30); !errors.Is(err, shared.ErrInvalidStage) {
		t.Errorf("err = %v, want ErrInvalidStage", err)
	}
}

func TestReleasePaymentPaysWorkedTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateStarted)

	f.advance(90 * time.Minute)
	if err := f.engine.EndWork(ctx, worker, id); err != nil {
		t.Fatalf("EndWork: %v", err)
	}
	if err := f.engine.ReleasePayment(ctx, client, id); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}

	// 90 minutes at rate 10 + 50 on top = 950; locked was 1850, change 900.
	// The worker's proceeds leave the platform at release, so only the
	// client's balance shows the split.
	if got := f.balance(t, worker); got != 0 {
		t.Errorf("worker pooled balance = %d, want 0", got)
	}
	if got := f.balance(t, client); got != 10_000-950 {
		t.Errorf("client balance = %d, want %d", got, 10_000-950)
	}
	if got := f.state(t, id); got != StateFinalized {
		t.Errorf("state = %s, want FINALIZED", got)
	}
	if f.ledger.locks != 1 || f.ledger.releases != 1 {
		t.Errorf("transfers = %d locks / %d releases, want 1/1", f.ledger.locks, f.ledger.releases)
	}
}

func TestReleasePaymentCapsAtEstimatePlusBuffer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateStarted)

	// Far beyond the 120 + 60 minute ceiling.
	f.advance(48 * time.Hour)
	if err := f.engine.EndWork(ctx, worker, id); err != nil {
		t.Fatalf("EndWork: %v", err)
	}
	if err := f.engine.ReleasePayment(ctx, client, id); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}

	// Capped at 180 minutes * 10 + 50 = the full locked 1850, all of it
	// withdrawn to the worker with no change back.
	if got := f.balance(t, worker); got != 0 {
		t.Errorf("worker pooled balance = %d, want 0", got)
	}
	if got := f.balance(t, client); got != 10_000-1_850 {
		t.Errorf("client balance = %d, want %d", got, 10_000-1_850)
	}
}

func TestReleasePaymentTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateFinalized)

	err := f.engine.ReleasePayment(ctx, client, id)
	if !errors.Is(err, shared.ErrInvalidStage) {
		t.Fatalf("err = %v, want ErrInvalidStage", err)
	}
	if f.ledger.releases != 1 {
		t.Errorf("releases = %d, want 1", f.ledger.releases)
	}
}

func TestCancelBeforeStartRefundsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateAccepted)

	if err := f.engine.CancelJob(ctx, client, id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if got := f.state(t, id); got != StateCanceled {
		t.Errorf("state = %s, want CANCELED", got)
	}
	if got := f.balance(t, client); got != 10_000 {
		t.Errorf("client balance = %d, want full refund of 10000", got)
	}
	if got := f.balance(t, worker); got != 0 {
		t.Errorf("worker balance = %d, want 0", got)
	}
}

func TestCancelAfterStartPaysElapsedTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM)
	f.toState(t, id, StateStarted)

	f.advance(40 * time.Minute)
	if err := f.engine.CancelJob(ctx, client, id); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	// 40 minutes at rate 10 + 50 on top = 450 to the worker, withdrawn at
	// release; the rest comes back to the client as change.
	if got := f.balance(t, worker); got != 0 {
		t.Errorf("worker pooled balance = %d, want 0", got)
	}
	if got := f.balance(t, client); got != 10_000-450 {
		t.Errorf("client balance = %d, want %d", got, 10_000-450)
	}
}

func TestCancelStages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cancelable := []State{StateCreated, StateAccepted, StatePendingStart, StateStarted, StatePendingFinish}
	for _, target := range cancelable {
		f.deposit(t, client, 10_000)
		id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)
		f.toState(t, id, target)
		if err := f.engine.CancelJob(ctx, client, id); err != nil {
			t.Errorf("cancel from %s: %v", target, err)
		}
	}

	for _, target := range []State{StateFinished, StateFinalized} {
		f.deposit(t, client, 10_000)
		id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)
		f.toState(t, id, target)
		if err := f.engine.CancelJob(ctx, client, id); !errors.Is(err, shared.ErrInvalidStage) {
			t.Errorf("cancel from %s err = %v, want ErrInvalidStage", target, err)
		}
	}
}

// TestStageGrid exercises every worker and client operation against every
// stage and asserts only the scheduled one succeeds.
func TestStageGrid(t *testing.T) {
	ctx := context.Background()

	ops := map[string]func(*fixture, int64) error{
		"accept": func(f *fixture, id int64) error { return f.engine.AcceptOffer(ctx, client, id, worker) },
		"start":  func(f *fixture, id int64) error { return f.engine.StartWork(ctx, worker, id) },
		"confirm_start": func(f *fixture, id int64) error {
			return f.engine.ConfirmStartWork(ctx, client, id)
		},
		"end": func(f *fixture, id int64) error { return f.engine.EndWork(ctx, worker, id) },
		"confirm_end": func(f *fixture, id int64) error {
			return f.engine.ConfirmEndWork(ctx, client, id)
		},
		"release": func(f *fixture, id int64) error { return f.engine.ReleasePayment(ctx, client, id) },
	}
	allowedAt := map[string]State{
		"accept":        StateCreated,
		"start":         StateAccepted,
		"confirm_start": StatePendingStart,
		"end":           StateStarted,
		"confirm_end":   StatePendingFinish,
		"release":       StateFinished,
	}
	stages := []State{StateCreated, StateAccepted, StatePendingStart, StateStarted,
		StatePendingFinish, StateFinished, StateFinalized}

	for _, stage := range stages {
		for name, op := range ops {
			t.Run(string(stage)+"/"+name, func(t *testing.T) {
				f := newFixture(t)
				f.deposit(t, client, 10_000)
				id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)
				f.toState(t, id, stage)
				if stage == StateCreated && name == "accept" {
					// The sole precondition accept needs.
					if err := f.engine.PostOffer(ctx, worker, id, "USD", 10, 120, 50); err != nil {
						t.Fatalf("PostOffer: %v", err)
					}
				}

				err := op(f, id)
				if stage == allowedAt[name] {
					if err != nil {
						t.Errorf("%s at %s failed: %v", name, stage, err)
					}
				} else if !errors.Is(err, shared.ErrInvalidStage) {
					t.Errorf("%s at %s err = %v, want ErrInvalidStage", name, stage, err)
				}
			})
		}
	}
}

func TestPartyChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 10_000)
	id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)
	f.toState(t, id, StateAccepted)

	if err := f.engine.StartWork(ctx, client, id); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("client start err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.StartWork(ctx, worker, id); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	if err := f.engine.ConfirmStartWork(ctx, worker, id); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("worker confirm err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.CancelJob(ctx, worker, id); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("worker cancel err = %v, want ErrUnauthorized", err)
	}
}

func TestRegistryDenialBlocksEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.authz = denyAll{}

	if _, err := f.engine.PostJob(ctx, client, WorkflowTM, testArea, testCategory, testSkills, 100, "x"); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.PostOffer(ctx, worker, 1, "USD", 10, 120, 0); !errors.Is(err, shared.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

// TestFullLifecycleSingleTransfers runs a complete confirmed job end to end
// and checks that value moves exactly twice: into escrow at accept and out
// at release.
func TestFullLifecycleSingleTransfers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.deposit(t, client, 100_000)
	id := f.postJob(t, WorkflowTM|FlagConfirmationNeeded)

	if err := f.engine.PostOffer(ctx, worker, id, "USD", 7, 240, 100); err != nil {
		t.Fatalf("PostOffer: %v", err)
	}
	if err := f.engine.AcceptOffer(ctx, client, id, worker); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	// 7 * (240 + 60) + 100 = 2200 locked.
	if got := f.balance(t, client); got != 97_800 {
		t.Fatalf("client balance after lock = %d, want 97800", got)
	}

	if err := f.engine.StartWork(ctx, worker, id); err != nil {
		t.Fatalf("StartWork: %v", err)
	}
	f.advance(5 * time.Minute)
	if err := f.engine.ConfirmStartWork(ctx, client, id); err != nil {
		t.Fatalf("ConfirmStartWork: %v", err)
	}

	f.advance(200 * time.Minute)
	if err := f.engine.PauseWork(ctx, worker, id); err != nil {
		t.Fatalf("PauseWork: %v", err)
	}
	f.advance(10 * time.Minute)
	if err := f.engine.ResumeWork(ctx, worker, id); err != nil {
		t.Fatalf("ResumeWork: %v", err)
	}
	if err := f.engine.EndWork(ctx, worker, id); err != nil {
		t.Fatalf("EndWork: %v", err)
	}
	f.advance(2 * time.Minute)
	if err := f.engine.ConfirmEndWork(ctx, client, id); err != nil {
		t.Fatalf("ConfirmEndWork: %v", err)
	}
	if err := f.engine.ReleasePayment(ctx, client, id); err != nil {
		t.Fatalf("ReleasePayment: %v", err)
	}

	// 212 minutes from confirmed start to confirmed end at rate 7 + 100.
	wantPay := int64(212*7 + 100)
	if got := f.balance(t, worker); got != 0 {
		t.Errorf("worker pooled balance = %d, want 0 after withdrawal", got)
	}
	if got := f.balance(t, client); got != 100_000-wantPay {
		t.Errorf("client balance = %d, want %d", got, 100_000-wantPay)
	}
	if f.ledger.locks != 1 || f.ledger.releases != 1 {
		t.Errorf("transfers = %d locks / %d releases, want exactly 1/1", f.ledger.locks, f.ledger.releases)
	}

	var topics []string
	for _, ev := range f.events.All() {
		topics = append(topics, ev.Topic)
	}
	want := []string{
		eventlog.TopicJobPosted,
		eventlog.TopicJobOfferPosted,
		eventlog.TopicPaymentLocked,
		eventlog.TopicOfferAccepted,
		eventlog.TopicWorkStarted,
		eventlog.TopicWorkStarted,
		eventlog.TopicWorkPaused,
		eventlog.TopicWorkResumed,
		eventlog.TopicWorkEnded,
		eventlog.TopicWorkEnded,
		eventlog.TopicPaymentReleased,
		eventlog.TopicJobFinalized,
	}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topics[%d] = %s, want %s", i, topics[i], want[i])
		}
	}
}

func TestWorkedMinutesRoundsUp(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		d    time.Duration
		want int64
	}{
		{0, 0},
		{30 * time.Second, 1},
		{time.Minute, 1},
		{61 * time.Second, 2},
		{90 * time.Minute, 90},
	}
	for _, tc := range cases {
		if got := workedMinutes(start, start.Add(tc.d)); got != tc.want {
			t.Errorf("workedMinutes(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
