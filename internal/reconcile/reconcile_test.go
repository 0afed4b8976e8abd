package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

func init() {
	obs.MustRegisterDomainMetrics("test", prometheus.NewRegistry())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "x"}, nil
}

type fakeOrders struct {
	calls int
	err   error
}

func (f *fakeOrders) CreateOrder(_ context.Context, p checkout.OrderPayload) (checkout.OrderResult, error) {
	f.calls++
	if f.err != nil {
		return checkout.OrderResult{}, f.err
	}
	return checkout.OrderResult{OrderID: "ord-" + p.ReceiptRef}, nil
}

func sampleCase() checkout.Reconciliation {
	return checkout.Reconciliation{
		Reason:     checkout.ReasonOrderWriteFailed,
		Provider:   "midtrans",
		OrderError: "db unavailable",
		OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: checkout.OrderPayload{
			UserID:        "u-1",
			ReceiptRef:    "rcpt-1",
			PaymentStatus: checkout.PaymentCompleted,
			PaymentID:     "pay-1",
		},
	}
}

func TestReporterEnqueuesTask(t *testing.T) {
	q := &fakeEnqueuer{}
	r := Reporter{Client: q, MaxRetry: 3}
	require.NoError(t, r.ReportReconciliation(context.Background(), sampleCase()))
	require.Len(t, q.tasks, 1)
	require.Equal(t, TypeOrder, q.tasks[0].Type())

	var decoded checkout.Reconciliation
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &decoded))
	require.Equal(t, "rcpt-1", decoded.Payload.ReceiptRef)
	require.Equal(t, checkout.PaymentCompleted, decoded.Payload.PaymentStatus)
	require.Len(t, q.opts[0], 4)
}

func TestReporterTreatsDuplicateAsQueued(t *testing.T) {
	r := Reporter{Client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, r.ReportReconciliation(context.Background(), sampleCase()))
}

func TestReporterRequiresReceiptRef(t *testing.T) {
	c := sampleCase()
	c.Payload.ReceiptRef = ""
	require.Error(t, Reporter{Client: &fakeEnqueuer{}}.ReportReconciliation(context.Background(), c))
}

func TestWorkerPlacesOrder(t *testing.T) {
	orders := &fakeOrders{}
	task, _, err := NewTask(sampleCase())
	require.NoError(t, err)

	before := testutil.ToFloat64(obs.ReconcileJobsTotal.WithLabelValues("placed"))
	require.NoError(t, Worker{Orders: orders, Logger: zerolog.Nop()}.ProcessTask(context.Background(), task))
	require.Equal(t, 1, orders.calls)
	require.Equal(t, before+1, testutil.ToFloat64(obs.ReconcileJobsTotal.WithLabelValues("placed")))
}

func TestWorkerReturnsErrorForRetry(t *testing.T) {
	orders := &fakeOrders{err: errors.New("still down")}
	task, _, err := NewTask(sampleCase())
	require.NoError(t, err)

	err = Worker{Orders: orders, Logger: zerolog.Nop()}.ProcessTask(context.Background(), task)
	require.EqualError(t, err, "still down")
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestWorkerSkipsRetryOnBadPayload(t *testing.T) {
	err := Worker{Orders: &fakeOrders{}, Logger: zerolog.Nop()}.ProcessTask(context.Background(), asynq.NewTask(TypeOrder, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
