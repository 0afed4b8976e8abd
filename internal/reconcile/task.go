package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-checkout/internal/checkout"
)

// TypeOrder is the asynq task type for replaying an order write.
const TypeOrder = "checkout:reconcile_order"

// QueueName is the asynq queue reconciliation tasks are placed on.
const QueueName = "reconcile"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewTask encodes c as a reconciliation task. The receipt ref doubles as the
// task id so a case reported twice is queued once.
func NewTask(c checkout.Reconciliation) (*asynq.Task, string, error) {
	if c.Payload.ReceiptRef == "" {
		return nil, "", errors.New("reconcile: receipt ref is required")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, "", fmt.Errorf("reconcile: encode task: %w", err)
	}
	return asynq.NewTask(TypeOrder, raw), "reconcile:" + c.Payload.ReceiptRef, nil
}

// Reporter implements checkout.ReconciliationReporter by enqueuing a task for
// the worker to retry.
type Reporter struct {
	Client    Enqueuer
	MaxRetry  int
	Retention time.Duration
}

// ReportReconciliation implements checkout.ReconciliationReporter.
func (r Reporter) ReportReconciliation(ctx context.Context, c checkout.Reconciliation) error {
	if r.Client == nil {
		return errors.New("reconcile: queue client not configured")
	}
	task, id, err := NewTask(c)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(QueueName),
		asynq.MaxRetry(r.maxRetry()),
		asynq.Retention(r.retention()),
	}
	_, err = r.Client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func (r Reporter) maxRetry() int {
	if r.MaxRetry <= 0 {
		return 10
	}
	return r.MaxRetry
}

func (r Reporter) retention() time.Duration {
	if r.Retention <= 0 {
		return 7 * 24 * time.Hour
	}
	return r.Retention
}
