package checkout

import (
	"context"
	"time"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

// OrderCreator persists an order. Implementations should treat
// OrderPayload.ReceiptRef as an idempotency key.
type OrderCreator interface {
	CreateOrder(ctx context.Context, payload OrderPayload) (OrderResult, error)
}

// AddressBook lists a user's saved addresses.
type AddressBook interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
}

// CartClearer empties a cart after a cart-sourced order is placed.
type CartClearer interface {
	Clear(ctx context.Context, owner string) error
}

// Reconciliation describes a checkout where payment may have been collected
// but no order record exists.
type Reconciliation struct {
	Reason      string       `json:"reason"`
	Provider    string       `json:"provider"`
	Payload     OrderPayload `json:"payload"`
	VerifyError string       `json:"verifyError,omitempty"`
	OrderError  string       `json:"orderError"`
	OccurredAt  time.Time    `json:"occurredAt"`
}

// Reconciliation reasons.
const (
	ReasonFallbackFailed   = "verification_and_fallback_failed"
	ReasonOrderWriteFailed = "order_write_after_verified_payment_failed"
)

// ReconciliationReporter hands reconciliation cases to operators or to a
// retrying worker.
type ReconciliationReporter interface {
	ReportReconciliation(ctx context.Context, c Reconciliation) error
}

// PendingStore keeps gateway checkouts that are waiting for the shopper so a
// restarted replica can still resume them.
type PendingStore interface {
	Save(ctx context.Context, userID string, p Pending, ttl time.Duration) error
	Load(ctx context.Context, userID string) (Pending, bool, error)
	Delete(ctx context.Context, userID string) error
}

// PaymentPrompt hands a session to the gateway's own flow and waits for the
// shopper to finish it.
type PaymentPrompt interface {
	Await(ctx context.Context, session payment.Session) (GatewayOutcome, error)
}

// PromptFunc adapts a function to PaymentPrompt.
type PromptFunc func(ctx context.Context, session payment.Session) (GatewayOutcome, error)

// Await implements PaymentPrompt.
func (f PromptFunc) Await(ctx context.Context, session payment.Session) (GatewayOutcome, error) {
	return f(ctx, session)
}
