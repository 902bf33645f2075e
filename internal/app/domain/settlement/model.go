// Package settlement models durable payment settlement tasks.
package settlement

import "time"

// Status of a settlement task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusDead    Status = "dead"
)

// Statuses lists every status, for gauges.
var Statuses = []Status{StatusPending, StatusRunning, StatusDone, StatusDead}

// Task asks the worker to settle one payment. PaymentID is unique so a
// payment is enqueued at most once.
type Task struct {
	ID            string
	PaymentID     string
	Status        Status
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Backoff returns the delay before retry number attempts (1-based),
// doubling from base and capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
