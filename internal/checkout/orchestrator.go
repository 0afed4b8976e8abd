package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

// State is a checkout state machine state.
type State string

const (
	StateIdle                State = "idle"
	StateSubmitting          State = "submitting"
	StateCODPlaced           State = "cod_placed"
	StateGatewayPending      State = "gateway_pending"
	StateVerifying           State = "verifying"
	StateVerified            State = "verified"
	StateOrderPlaced         State = "order_placed"
	StateVerificationFailed  State = "verification_failed"
	StateFallbackOrderPlaced State = "fallback_order_placed"
)

// Submission is everything needed to leave Idle.
type Submission struct {
	UserID            string
	CartOwner         string
	Draft             Draft
	ShippingAddressID string
	BillingAddressID  string
	Method            PaymentMethod
	Notes             string
}

// OutcomeKind is how the shopper left the gateway's flow.
type OutcomeKind int

const (
	OutcomePaid OutcomeKind = iota + 1
	OutcomeDismissed
	OutcomeFailed
)

// GatewayOutcome is the result of the gateway's own payment flow.
type GatewayOutcome struct {
	Kind     OutcomeKind
	Response payment.GatewayResponse
	Message  string
}

// Paid reports a completed payment.
func Paid(resp payment.GatewayResponse) GatewayOutcome {
	return GatewayOutcome{Kind: OutcomePaid, Response: resp}
}

// Dismissed reports that the shopper closed the payment flow.
func Dismissed() GatewayOutcome { return GatewayOutcome{Kind: OutcomeDismissed} }

// GatewayFailed reports an error raised by the payment flow.
func GatewayFailed(message string) GatewayOutcome {
	return GatewayOutcome{Kind: OutcomeFailed, Message: message}
}

// Pending is a gateway checkout waiting for the shopper.
type Pending struct {
	Payload   OrderPayload    `json:"payload"`
	Session   payment.Session `json:"session"`
	Source    Source          `json:"source"`
	CartOwner string          `json:"cartOwner"`
	StartedAt time.Time       `json:"startedAt"`
}

// Result describes where a checkout call left the machine.
type Result struct {
	State         State            `json:"state"`
	OrderID       string           `json:"orderId,omitempty"`
	ReceiptRef    string           `json:"receiptRef,omitempty"`
	PaymentStatus PaymentStatus    `json:"paymentStatus,omitempty"`
	CurrentStatus OrderStatus      `json:"currentStatus,omitempty"`
	Session       *payment.Session `json:"session,omitempty"`
	CartCleared   bool             `json:"cartCleared"`
	Cancelled     bool             `json:"cancelled,omitempty"`
	Message       string           `json:"message,omitempty"`
}

// Timeouts bound each collaborator call. Zero values use defaults.
type Timeouts struct {
	Lookup  time.Duration
	Order   time.Duration
	Session time.Duration
	Verify  time.Duration
}

// Deps are the collaborators and settings shared by every orchestrator.
type Deps struct {
	Orders     OrderCreator
	Gateway    payment.Gateway
	Addresses  AddressBook
	Cart       CartClearer
	Reconciler ReconciliationReporter
	Pending    PendingStore

	Timeouts   Timeouts
	PendingTTL time.Duration
	Currency   string
	Logger     zerolog.Logger

	Now           func() time.Time
	NewReceiptRef func() string
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) receiptRef() string {
	if d.NewReceiptRef != nil {
		return d.NewReceiptRef()
	}
	return "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (d *Deps) pendingTTL() time.Duration {
	if d.PendingTTL <= 0 {
		return 30 * time.Minute
	}
	return d.PendingTTL
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Orchestrator drives one shopper's checkout from Idle to a terminal state.
// A submission latch rejects a second submission while one is in flight,
// including while a gateway payment is pending.
type Orchestrator struct {
	deps   *Deps
	userID string
	tracer trace.Tracer

	mu      sync.Mutex
	state   State
	busy    bool
	stored  bool
	retired bool
	pending *Pending
}

// errRetired is returned by an orchestrator Sessions has already forgotten.
// Sessions.Begin and Sessions.Resume retry against the registry.
var errRetired = errors.New("checkout: orchestrator retired")

// NewOrchestrator binds an orchestrator to userID. An empty userID accepts
// submissions from any user.
func NewOrchestrator(deps *Deps, userID string) *Orchestrator {
	return &Orchestrator{deps: deps, userID: userID, state: StateIdle, tracer: otel.Tracer("checkout")}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Busy reports whether the submission latch is held.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}

// Checkout runs Begin and, for gateway payments, waits on prompt and resumes
// with its outcome. A prompt error is treated as the gateway failing, or as a
// dismissal when ctx was cancelled.
func (o *Orchestrator) Checkout(ctx context.Context, sub Submission, prompt PaymentPrompt) (Result, error) {
	res, err := o.Begin(ctx, sub)
	if err != nil || res.State != StateGatewayPending {
		return res, err
	}
	outcome, err := prompt.Await(ctx, *res.Session)
	if err != nil {
		if ctx.Err() != nil {
			outcome = Dismissed()
		} else {
			outcome = GatewayFailed(err.Error())
		}
	}
	return o.Resume(context.WithoutCancel(ctx), outcome)
}

// Begin checks preconditions and submits. COD orders complete here; gateway
// payments stop in StateGatewayPending holding the latch until Resume.
func (o *Orchestrator) Begin(ctx context.Context, sub Submission) (res Result, err error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Begin")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.method", string(sub.Method)), attribute.String("checkout.source", string(sub.Draft.Source)))

	if err := o.acquire(ctx); err != nil {
		return Result{}, err
	}
	hold := false
	defer func() {
		if !hold {
			o.finish(ctx)
		}
	}()

	shipping, billing, err := o.preconditions(ctx, sub)
	if err != nil {
		if KindOf(err) == KindValidation {
			recordSubmission(sub.Method, "invalid")
		}
		return Result{}, err
	}
	o.setState(StateSubmitting)

	payload := newPayload(sub, shipping, billing, o.deps.receiptRef(), o.deps.Currency)
	logger := o.logger(ctx, payload)
	span.SetAttributes(attribute.String("checkout.receipt_ref", payload.ReceiptRef))

	if sub.Method == MethodCOD {
		return o.placeCOD(ctx, logger, sub, payload)
	}
	res, err = o.openSession(ctx, logger, sub, payload)
	hold = err == nil
	return res, err
}

// Resume continues a pending gateway checkout with the shopper's outcome.
func (o *Orchestrator) Resume(ctx context.Context, outcome GatewayOutcome) (Result, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.Resume")
	defer span.End()

	switch outcome.Kind {
	case OutcomePaid, OutcomeDismissed, OutcomeFailed:
	default:
		return Result{}, validationError("outcome", "unknown payment outcome")
	}
	p, err := o.takePending(ctx)
	if err != nil {
		return Result{}, err
	}
	defer o.finish(ctx)

	logger := o.logger(ctx, p.Payload)
	span.SetAttributes(attribute.String("checkout.receipt_ref", p.Payload.ReceiptRef))

	switch outcome.Kind {
	case OutcomeDismissed:
		recordSubmission(MethodGateway, "dismissed")
		logger.Info().Msg("checkout_payment_dismissed")
		return Result{State: StateIdle, ReceiptRef: p.Payload.ReceiptRef, Cancelled: true, Message: "payment cancelled, no order was created"}, nil
	case OutcomeFailed:
		recordSubmission(MethodGateway, "gateway_error")
		logger.Warn().Str("gateway_message", outcome.Message).Msg("checkout_payment_failed")
		msg := strings.TrimSpace(outcome.Message)
		if msg == "" {
			msg = "payment failed, no order was created"
		}
		return Result{}, &Error{Kind: KindCollaborator, Message: msg}
	default:
		return o.settle(ctx, logger, p, outcome.Response)
	}
}

// Abandon drops a pending gateway checkout that outlived the pending TTL.
// It reports whether anything was dropped.
func (o *Orchestrator) Abandon(ctx context.Context) bool {
	o.mu.Lock()
	expired := o.state == StateGatewayPending && o.expiredLocked()
	o.mu.Unlock()
	if !expired {
		return false
	}
	o.finish(ctx)
	return true
}

func (o *Orchestrator) preconditions(ctx context.Context, sub Submission) (Address, Address, error) {
	switch {
	case strings.TrimSpace(sub.UserID) == "":
		return Address{}, Address{}, validationError("user", "sign in to place an order")
	case o.userID != "" && sub.UserID != o.userID:
		return Address{}, Address{}, &Error{Kind: KindInvalidState, Message: "checkout belongs to another user"}
	case strings.TrimSpace(sub.ShippingAddressID) == "":
		return Address{}, Address{}, validationError("shippingAddressId", "select a shipping address")
	case sub.Draft.IsEmpty():
		return Address{}, Address{}, validationError("items", "there are no valid items to order")
	case !sub.Method.Valid():
		return Address{}, Address{}, validationError("paymentMethod", "select a payment method")
	case sub.Method == MethodGateway && o.deps.Gateway == nil:
		return Address{}, Address{}, &Error{Kind: KindCollaborator, Message: "online payment is not available"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, orDefault(o.deps.Timeouts.Lookup, 5*time.Second))
	defer cancel()
	addresses, err := o.deps.Addresses.ListAddresses(lookupCtx, sub.UserID)
	if err != nil {
		return Address{}, Address{}, collaboratorError("could not load your addresses, please try again", err)
	}
	shipping, ok := findAddress(addresses, sub.ShippingAddressID)
	if !ok {
		return Address{}, Address{}, validationError("shippingAddressId", "the selected shipping address was not found")
	}
	billing := shipping
	if id := strings.TrimSpace(sub.BillingAddressID); id != "" && id != shipping.ID {
		if billing, ok = findAddress(addresses, id); !ok {
			return Address{}, Address{}, validationError("billingAddressId", "the selected billing address was not found")
		}
	}
	return shipping, billing, nil
}

func (o *Orchestrator) placeCOD(ctx context.Context, logger zerolog.Logger, sub Submission, payload OrderPayload) (Result, error) {
	created, err := o.createOrder(ctx, payload)
	if err != nil {
		recordSubmission(MethodCOD, "order_failed")
		logger.Warn().Err(err).Msg("checkout_order_failed")
		return Result{}, collaboratorError("could not place your order, please try again", err)
	}
	o.setState(StateCODPlaced)
	cleared := o.clearCart(ctx, logger, sub.Draft.Source, sub.CartOwner)
	recordSubmission(MethodCOD, "placed")
	logger.Info().Str("order_id", created.OrderID).Msg("checkout_order_placed")
	return Result{
		State:         StateCODPlaced,
		OrderID:       created.OrderID,
		ReceiptRef:    payload.ReceiptRef,
		PaymentStatus: payload.PaymentStatus,
		CurrentStatus: payload.CurrentStatus,
		CartCleared:   cleared,
	}, nil
}

func (o *Orchestrator) openSession(ctx context.Context, logger zerolog.Logger, sub Submission, payload OrderPayload) (Result, error) {
	sessionCtx, cancel := context.WithTimeout(ctx, orDefault(o.deps.Timeouts.Session, 10*time.Second))
	defer cancel()
	session, err := o.deps.Gateway.CreateSession(sessionCtx, payment.SessionRequest{
		Amount:      payload.Total,
		Currency:    payload.Currency,
		ReceiptRef:  payload.ReceiptRef,
		Description: "Order " + payload.ReceiptRef,
	})
	if err != nil {
		recordSubmission(MethodGateway, "session_failed")
		logger.Warn().Err(err).Msg("checkout_session_failed")
		return Result{}, collaboratorError("could not start the payment, no order was created", err)
	}

	p := Pending{
		Payload:   payload,
		Session:   session,
		Source:    sub.Draft.Source,
		CartOwner: sub.CartOwner,
		StartedAt: o.deps.now(),
	}
	stored := false
	if o.deps.Pending != nil {
		if err := o.deps.Pending.Save(ctx, sub.UserID, p, o.deps.pendingTTL()); err != nil {
			logger.Warn().Err(err).Msg("checkout_pending_store_failed")
		} else {
			stored = true
		}
	}
	o.mu.Lock()
	o.state = StateGatewayPending
	o.pending = &p
	o.stored = stored
	o.mu.Unlock()

	logger.Info().Str("session_id", session.ID).Msg("checkout_gateway_pending")
	return Result{State: StateGatewayPending, ReceiptRef: payload.ReceiptRef, Session: &session}, nil
}

func (o *Orchestrator) settle(ctx context.Context, logger zerolog.Logger, p Pending, resp payment.GatewayResponse) (Result, error) {
	payload := p.Payload
	payload.PaymentID = strings.TrimSpace(resp.PaymentID)
	payload.GatewayOrderID = strings.TrimSpace(resp.GatewayOrderID)
	if payload.GatewayOrderID == "" {
		payload.GatewayOrderID = p.Session.ID
	}

	verifyErr := o.verify(ctx, p.Session, resp)
	if verifyErr == nil {
		o.setState(StateVerified)
		payload.PaymentStatus = PaymentCompleted
		payload.CurrentStatus = StatusPaymentReceived
		created, err := o.createOrder(ctx, payload)
		if err != nil {
			return o.reconcile(ctx, logger, payload, nil, err, ReasonOrderWriteFailed)
		}
		o.setState(StateOrderPlaced)
		cleared := o.clearCart(ctx, logger, p.Source, p.CartOwner)
		recordSubmission(MethodGateway, "placed")
		logger.Info().Str("order_id", created.OrderID).Str("payment_id", payload.PaymentID).Msg("checkout_order_placed")
		return Result{
			State:         StateOrderPlaced,
			OrderID:       created.OrderID,
			ReceiptRef:    payload.ReceiptRef,
			PaymentStatus: payload.PaymentStatus,
			CurrentStatus: payload.CurrentStatus,
			CartCleared:   cleared,
		}, nil
	}

	o.setState(StateVerificationFailed)
	logger.Warn().Err(verifyErr).Str("payment_id", payload.PaymentID).Msg("checkout_verification_failed")
	payload.PaymentStatus = PaymentFailed
	payload.CurrentStatus = StatusPaymentPending
	created, err := o.createOrder(ctx, payload)
	if err != nil {
		return o.reconcile(ctx, logger, payload, verifyErr, err, ReasonFallbackFailed)
	}
	o.setState(StateFallbackOrderPlaced)
	cleared := o.clearCart(ctx, logger, p.Source, p.CartOwner)
	recordSubmission(MethodGateway, "fallback")
	logger.Warn().Str("order_id", created.OrderID).Msg("checkout_fallback_order_placed")
	return Result{
		State:         StateFallbackOrderPlaced,
		OrderID:       created.OrderID,
		ReceiptRef:    payload.ReceiptRef,
		PaymentStatus: payload.PaymentStatus,
		CurrentStatus: payload.CurrentStatus,
		CartCleared:   cleared,
		Message:       "we could not confirm your payment yet, the order is awaiting payment review",
	}, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, logger zerolog.Logger, payload OrderPayload, verifyErr, orderErr error, reason string) (Result, error) {
	state := o.State()
	if obs.CheckoutReconciliationTotal != nil {
		obs.CheckoutReconciliationTotal.Inc()
	}
	recordSubmission(MethodGateway, "reconciliation")

	c := Reconciliation{
		Reason:     reason,
		Payload:    payload,
		OrderError: orderErr.Error(),
		OccurredAt: o.deps.now(),
	}
	if o.deps.Gateway != nil {
		c.Provider = o.deps.Gateway.Name()
	}
	if verifyErr != nil {
		c.VerifyError = verifyErr.Error()
	}
	evt := logger.Error().Bool("reconciliation", true).Str("reason", reason).Str("payment_id", payload.PaymentID).AnErr("order_error", orderErr)
	if verifyErr != nil {
		evt = evt.AnErr("verify_error", verifyErr)
	}
	evt.Msg("checkout_reconciliation_required")

	if o.deps.Reconciler != nil {
		if err := o.deps.Reconciler.ReportReconciliation(context.WithoutCancel(ctx), c); err != nil {
			logger.Error().Err(err).Bool("reconciliation", true).Msg("checkout_reconciliation_report_failed")
		}
	}
	return Result{State: state, ReceiptRef: payload.ReceiptRef}, &Error{
		Kind:    KindReconciliation,
		Message: "your payment may have been taken but the order could not be recorded, our support team will contact you",
		Err:     errors.Join(verifyErr, orderErr),
	}
}

// createOrder is not cancelled by the caller; only the timeout bounds it.
func (o *Orchestrator) createOrder(ctx context.Context, payload OrderPayload) (OrderResult, error) {
	orderCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orDefault(o.deps.Timeouts.Order, 10*time.Second))
	defer cancel()
	return o.deps.Orders.CreateOrder(orderCtx, payload)
}

func (o *Orchestrator) verify(ctx context.Context, session payment.Session, resp payment.GatewayResponse) error {
	if strings.TrimSpace(resp.PaymentID) == "" {
		return errors.New("gateway reported no payment id")
	}
	verifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orDefault(o.deps.Timeouts.Verify, 10*time.Second))
	defer cancel()
	return o.deps.Gateway.Verify(verifyCtx, session, resp)
}

func (o *Orchestrator) clearCart(ctx context.Context, logger zerolog.Logger, source Source, owner string) bool {
	if source != SourceCart || o.deps.Cart == nil || strings.TrimSpace(owner) == "" {
		return false
	}
	if err := o.deps.Cart.Clear(context.WithoutCancel(ctx), owner); err != nil {
		logger.Warn().Err(err).Str("owner", owner).Msg("checkout_cart_clear_failed")
		return false
	}
	return true
}

func (o *Orchestrator) acquire(ctx context.Context) error {
	o.mu.Lock()
	if o.retired {
		o.mu.Unlock()
		return errRetired
	}
	if !o.busy {
		o.busy = true
		o.mu.Unlock()
		return nil
	}
	expired := o.state == StateGatewayPending && o.expiredLocked()
	o.mu.Unlock()
	if !expired {
		return &Error{Kind: KindBusy, Message: "a checkout is already in progress"}
	}
	o.finish(ctx)
	return o.acquire(ctx)
}

func (o *Orchestrator) takePending(ctx context.Context) (Pending, error) {
	o.mu.Lock()
	if o.retired {
		o.mu.Unlock()
		return Pending{}, errRetired
	}
	if o.state != StateGatewayPending && !o.busy && o.deps.Pending != nil && o.userID != "" {
		o.mu.Unlock()
		p, found, err := o.deps.Pending.Load(ctx, o.userID)
		if err != nil {
			return Pending{}, collaboratorError("could not load the pending payment", err)
		}
		o.mu.Lock()
		if o.retired {
			o.mu.Unlock()
			return Pending{}, errRetired
		}
		if found && !o.busy {
			o.busy, o.stored, o.pending, o.state = true, true, &p, StateGatewayPending
		}
	}
	defer o.mu.Unlock()

	switch o.state {
	case StateGatewayPending:
	case StateIdle:
		return Pending{}, &Error{Kind: KindInvalidState, Message: "no payment is awaiting confirmation"}
	default:
		return Pending{}, &Error{Kind: KindBusy, Message: "the payment is already being processed"}
	}
	if o.expiredLocked() {
		return Pending{}, &Error{Kind: KindInvalidState, Message: "the checkout expired, please start again"}
	}
	o.state = StateVerifying
	return *o.pending, nil
}

// retire marks an idle orchestrator unusable. It fails while the latch is held.
func (o *Orchestrator) retire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return false
	}
	o.retired = true
	return true
}

func (o *Orchestrator) expiredLocked() bool {
	return o.pending != nil && o.deps.now().Sub(o.pending.StartedAt) > o.deps.pendingTTL()
}

// finish releases the latch and returns to Idle.
func (o *Orchestrator) finish(ctx context.Context) {
	o.mu.Lock()
	stored := o.stored
	o.busy, o.stored, o.pending, o.state = false, false, nil, StateIdle
	o.mu.Unlock()
	if stored && o.userID != "" {
		if err := o.deps.Pending.Delete(context.WithoutCancel(ctx), o.userID); err != nil {
			o.deps.Logger.Warn().Err(err).Str("user_id", o.userID).Msg("checkout_pending_delete_failed")
		}
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) logger(ctx context.Context, payload OrderPayload) zerolog.Logger {
	base := o.deps.Logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		base = *l
	}
	return base.With().
		Str("user_id", payload.UserID).
		Str("receipt_ref", payload.ReceiptRef).
		Str("payment_method", string(payload.PaymentMethod)).
		Logger()
}

func findAddress(addresses []Address, id string) (Address, bool) {
	id = strings.TrimSpace(id)
	for _, a := range addresses {
		if a.ID == id {
			return a, true
		}
	}
	return Address{}, false
}

func recordSubmission(method PaymentMethod, result string) {
	if obs.CheckoutSubmissionsTotal != nil {
		obs.CheckoutSubmissionsTotal.WithLabelValues(string(method), result).Inc()
	}
}
