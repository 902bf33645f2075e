package settlement

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/the-pines/frog/internal/app/domain/card"
	"github.com/the-pines/frog/internal/app/domain/payment"
	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/domain/user"
	"github.com/the-pines/frog/internal/app/services/payments"
	"github.com/the-pines/frog/internal/app/storage/memory"
	"github.com/the-pines/frog/internal/errors"
)

type scriptedExecutor struct {
	mu    sync.Mutex
	calls map[string]int
	errs  []error
}

func (e *scriptedExecutor) Execute(_ context.Context, paymentID string) (*payments.ExecuteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	n := e.calls[paymentID]
	e.calls[paymentID]++
	if n < len(e.errs) && e.errs[n] != nil {
		return nil, e.errs[n]
	}
	return &payments.ExecuteResult{TxHash: "0xabc"}, nil
}

func (e *scriptedExecutor) count(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[id]
}

func seedPayment(t *testing.T, store *memory.Store, ext string) payment.Payment {
	t.Helper()
	ctx := context.Background()
	u, err := store.EnsureUser(ctx, user.User{Name: "bob", Address: "0x3333333333333333333333333333333333333333"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	c, err := store.GetCardByUser(ctx, u.ID)
	if err != nil {
		c, err = store.CreateCard(ctx, card.Card{UserID: u.ID, StripeCardID: "ic_bob"})
		if err != nil {
			t.Fatalf("create card: %v", err)
		}
	}
	p, _, err := store.CreatePayment(ctx, payment.Payment{ExternalID: ext, CardID: c.ID, Amount: 100, Currency: "GBP", Status: payment.StatusCompleted})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return p
}

func taskFor(t *testing.T, store *memory.Store, paymentID string) settlement.Task {
	t.Helper()
	task, created, err := store.EnqueueSettlement(context.Background(), paymentID, time.Now())
	if err != nil || created {
		t.Fatalf("expected existing task: created=%v err=%v", created, err)
	}
	return task
}

func newWorker(store *memory.Store, exec Executor, clock *time.Time) *Worker {
	w := NewWorker(store, exec, Config{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: 4 * time.Second}, nil)
	w.now = func() time.Time { return *clock }
	return w
}

func TestQueueEnqueueIsIdempotent(t *testing.T) {
	store := memory.New()
	p := seedPayment(t, store, "iauth_q")
	q := NewQueue(store, nil)

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(context.Background(), p.ID); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	counts, _ := store.CountSettlements(context.Background())
	if counts[settlement.StatusPending] != 1 {
		t.Fatalf("expected one pending task, got %v", counts)
	}
}

func TestWorkerSettles(t *testing.T) {
	store := memory.New()
	p := seedPayment(t, store, "iauth_ok")
	if err := NewQueue(store, nil).Enqueue(context.Background(), p.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	exec := &scriptedExecutor{}
	clock := time.Now().Add(time.Second)
	w := newWorker(store, exec, &clock)

	if n := w.RunOnce(context.Background()); n != 1 {
		t.Fatalf("expected 1 task processed, got %d", n)
	}
	task := taskFor(t, store, p.ID)
	if task.Status != settlement.StatusDone || task.Attempts != 1 {
		t.Fatalf("unexpected task: %+v", task)
	}
	if n := w.RunOnce(context.Background()); n != 0 {
		t.Fatalf("done task reprocessed")
	}
}

func TestWorkerRetriesWithBackoffThenDies(t *testing.T) {
	store := memory.New()
	p := seedPayment(t, store, "iauth_retry")
	_ = NewQueue(store, nil).Enqueue(context.Background(), p.ID)
	short := errors.PaymentRequired(errors.ReasonInsufficientUSDCBalance)
	exec := &scriptedExecutor{errs: []error{short, short, short}}
	clock := time.Now().Add(time.Second)
	w := newWorker(store, exec, &clock)

	w.RunOnce(context.Background())
	task := taskFor(t, store, p.ID)
	if task.Status != settlement.StatusPending || task.LastError == "" {
		t.Fatalf("expected pending retry, got %+v", task)
	}
	if want := clock.Add(time.Second); !task.NextAttemptAt.Equal(want.UTC()) {
		t.Fatalf("next attempt %v, want %v", task.NextAttemptAt, want)
	}

	// not yet due
	if n := w.RunOnce(context.Background()); n != 0 {
		t.Fatalf("task ran before its backoff elapsed")
	}

	clock = clock.Add(time.Minute)
	w.RunOnce(context.Background())
	clock = clock.Add(time.Minute)
	w.RunOnce(context.Background())

	task = taskFor(t, store, p.ID)
	if task.Status != settlement.StatusDead || task.Attempts != 3 {
		t.Fatalf("expected dead after 3 attempts, got %+v", task)
	}
	if exec.count(p.ID) != 3 {
		t.Fatalf("expected 3 executions, got %d", exec.count(p.ID))
	}
}

func TestWorkerOutcomes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want settlement.Status
	}{
		{"already executed", errors.Conflict("Payment already executed").WithReason(errors.ReasonAlreadyExecuted), settlement.StatusDone},
		{"not approved", errors.Conflict("Payment not approved"), settlement.StatusDead},
		{"missing payment", errors.NotFound("No completed payment for card"), settlement.StatusDead},
		{"in progress", errors.Conflict("Payment execution in progress").WithReason(errors.ReasonExecutionInProgress), settlement.StatusPending},
		{"rpc failure", errors.BadGateway("transferFrom failed", stderrors.New("boom")), settlement.StatusPending},
		{"plain error", stderrors.New("db down"), settlement.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.New()
			p := seedPayment(t, store, "iauth_case")
			_ = NewQueue(store, nil).Enqueue(context.Background(), p.ID)
			clock := time.Now().Add(time.Second)
			w := newWorker(store, &scriptedExecutor{errs: []error{tc.err}}, &clock)

			w.RunOnce(context.Background())
			if got := taskFor(t, store, p.ID).Status; got != tc.want {
				t.Fatalf("status %s, want %s", got, tc.want)
			}
		})
	}
}

func TestWorkerStartStop(t *testing.T) {
	store := memory.New()
	w := NewWorker(store, &scriptedExecutor{}, Config{Schedule: "@every 1s"}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestWorkerRejectsBadSchedule(t *testing.T) {
	w := NewWorker(memory.New(), &scriptedExecutor{}, Config{Schedule: "not a schedule"}, nil)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}
