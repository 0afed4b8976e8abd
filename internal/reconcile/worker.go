package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

// Worker replays order writes for reconciliation cases. Order creation is
// idempotent on the receipt ref, so a retry after a partial success returns
// the existing order.
type Worker struct {
	Orders  checkout.OrderCreator
	Logger  zerolog.Logger
	Timeout time.Duration
}

// ProcessTask implements asynq.Handler.
func (w Worker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var c checkout.Reconciliation
	if err := json.Unmarshal(t.Payload(), &c); err != nil || c.Payload.ReceiptRef == "" {
		record("invalid")
		w.Logger.Error().Err(err).Str("task_type", t.Type()).Msg("reconcile_invalid_payload")
		return fmt.Errorf("reconcile: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	logger := w.Logger.With().
		Str("receipt_ref", c.Payload.ReceiptRef).
		Str("user_id", c.Payload.UserID).
		Str("reason", c.Reason).
		Logger()

	orderCtx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()
	res, err := w.Orders.CreateOrder(orderCtx, c.Payload)
	if err == nil {
		record("placed")
		logger.Info().Str("order_id", res.OrderID).Msg("reconcile_order_placed")
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if ok && retried >= maxRetry {
		record("exhausted")
		logger.Error().Err(err).Bool("reconciliation", true).Int("attempts", retried+1).
			Str("payment_id", c.Payload.PaymentID).Msg("reconcile_exhausted")
		return err
	}
	record("retry")
	logger.Warn().Err(err).Int("attempt", retried+1).Msg("reconcile_order_failed")
	return err
}

func (w Worker) timeout() time.Duration {
	if w.Timeout <= 0 {
		return 10 * time.Second
	}
	return w.Timeout
}

// NewServeMux routes reconciliation tasks to w.
func NewServeMux(w Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeOrder, w)
	return mux
}

func record(result string) {
	if obs.ReconcileJobsTotal != nil {
		obs.ReconcileJobsTotal.WithLabelValues(result).Inc()
	}
}
