package settlement

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/the-pines/frog/internal/app/domain/settlement"
	"github.com/the-pines/frog/internal/app/metrics"
	"github.com/the-pines/frog/internal/app/services/payments"
	"github.com/the-pines/frog/internal/app/storage"
	"github.com/the-pines/frog/internal/app/system"
	"github.com/the-pines/frog/internal/errors"
	"github.com/the-pines/frog/pkg/logger"
)

// Executor settles one payment.
type Executor interface {
	Execute(ctx context.Context, paymentID string) (*payments.ExecuteResult, error)
}

// Settlement results reported to metrics.
const (
	ResultSettled         = "settled"
	ResultAlreadyExecuted = "already_executed"
	ResultRetry           = "retry"
	ResultDead            = "dead"
)

// Config tunes the worker. Zero values select defaults.
type Config struct {
	Schedule    string
	MaxAttempts int
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Lease is how long a running task may go untouched before another
	// worker reclaims it. It must exceed the chain receipt timeout.
	Lease time.Duration
}

func (c Config) withDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = "@every 5s"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	return c
}

// Worker drains the settlement queue on a cron schedule.
type Worker struct {
	store    storage.SettlementStore
	executor Executor
	cfg      Config
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Worker)(nil)

// NewWorker builds a worker. It does nothing until Start.
func NewWorker(store storage.SettlementStore, executor Executor, cfg Config, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.NewDefault("settlement-worker")
	}
	return &Worker{
		store:    store,
		executor: executor,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
	}
}

func (w *Worker) Name() string { return "settlement-worker" }

// Start registers the drain and gauge jobs and starts the scheduler.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(w.log.Entry()))),
	)
	if _, err := c.AddFunc(w.cfg.Schedule, func() { w.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("settlement schedule %q: %w", w.cfg.Schedule, err)
	}
	if _, err := c.AddFunc("@every 1m", func() { w.reportQueue(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("settlement gauge schedule: %w", err)
	}
	c.Start()

	w.cron = c
	w.cancel = cancel
	w.running = true
	w.log.WithField("schedule", w.cfg.Schedule).Info("settlement worker started")
	return nil
}

// Stop halts the scheduler and waits for an in-flight drain.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	c, cancel := w.cron, w.cancel
	w.running = false
	w.cron = nil
	w.cancel = nil
	w.mu.Unlock()

	// in-flight executions are left to finish so a mined transfer is recorded
	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()
	return nil
}

// RunOnce claims due tasks and settles them sequentially. It returns the
// number of tasks processed.
func (w *Worker) RunOnce(ctx context.Context) int {
	tasks, err := w.store.ClaimDueSettlements(ctx, w.now().UTC(), w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		w.log.WithError(err).Warn("claim due settlements failed")
		return 0
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		w.settle(ctx, task)
	}
	return len(tasks)
}

func (w *Worker) settle(ctx context.Context, task settlement.Task) {
	log := w.log.WithFields(map[string]interface{}{
		"task":    task.ID,
		"payment": task.PaymentID,
		"attempt": task.Attempts + 1,
	})

	task.Attempts++
	res, err := w.executor.Execute(ctx, task.PaymentID)
	result := classify(err)

	switch result {
	case ResultSettled:
		task.Status = settlement.StatusDone
		task.LastError = ""
		log.WithField("tx", res.TxHash).Info("payment settled")
	case ResultAlreadyExecuted:
		task.Status = settlement.StatusDone
		task.LastError = ""
		log.Info("payment already settled")
	case ResultRetry:
		task.LastError = err.Error()
		if task.Attempts >= w.cfg.MaxAttempts {
			task.Status = settlement.StatusDead
			result = ResultDead
			log.WithError(err).Error("settlement attempts exhausted")
			break
		}
		task.Status = settlement.StatusPending
		task.NextAttemptAt = w.now().UTC().Add(settlement.Backoff(task.Attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff))
		log.WithError(err).WithField("next", task.NextAttemptAt).Warn("settlement will be retried")
	case ResultDead:
		task.Status = settlement.StatusDead
		task.LastError = err.Error()
		log.WithError(err).Error("settlement rejected")
	}

	metrics.RecordSettlement(result)
	// a cancelled drain still records the outcome
	if _, err := w.store.UpdateSettlement(context.WithoutCancel(ctx), task); err != nil {
		log.WithError(err).Error("update settlement task failed")
	}
}

// classify maps an execution error onto a queue outcome. Client errors other
// than insufficient funds and an in-flight execution will never succeed.
func classify(err error) string {
	if err == nil {
		return ResultSettled
	}
	if errors.HasReason(err, errors.ReasonAlreadyExecuted) {
		return ResultAlreadyExecuted
	}
	se := errors.GetServiceError(err)
	if se == nil {
		return ResultRetry
	}
	switch {
	case se.HTTPStatus == http.StatusPaymentRequired:
		return ResultRetry
	case se.Reason == errors.ReasonExecutionInProgress:
		return ResultRetry
	case se.HTTPStatus >= 400 && se.HTTPStatus < 500:
		return ResultDead
	}
	return ResultRetry
}

func (w *Worker) reportQueue(ctx context.Context) {
	counts, err := w.store.CountSettlements(ctx)
	if err != nil {
		w.log.WithError(err).Warn("count settlements failed")
		return
	}
	out := make(map[string]int, len(settlement.Statuses))
	for _, s := range settlement.Statuses {
		out[string(s)] = counts[s]
	}
	metrics.SetSettlementQueue(out)
}
