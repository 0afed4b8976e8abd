package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

func TestCODPlacesOrderAndClearsCart(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")

	res, err := o.Begin(context.Background(), submission(checkout.MethodCOD))
	require.NoError(t, err)
	require.Equal(t, checkout.StateCODPlaced, res.State)
	require.Equal(t, "ord-rcpt-1", res.OrderID)
	require.True(t, res.CartCleared)

	calls := f.orders.calls()
	require.Len(t, calls, 1)
	p := calls[0]
	require.Equal(t, checkout.PaymentPending, p.PaymentStatus)
	require.Equal(t, checkout.StatusOrderPlaced, p.CurrentStatus)
	require.Equal(t, "addr-1", p.ShippingAddress.ID)
	require.Equal(t, "addr-1", p.BillingAddress.ID, "billing defaults to shipping")
	require.True(t, p.Total.Equal(money("246")))
	require.Equal(t, []string{"user:u-1"}, f.cart.cleared)

	require.Equal(t, checkout.StateIdle, o.State())
	require.False(t, o.Busy())
}

func TestSingleProductOrderKeepsCart(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	sub := submission(checkout.MethodCOD)
	sub.Draft = checkout.Builder{}.FromSelection(checkout.ProductSelection{ProductID: "p-5", Name: "Sepatu", Price: money("500")})
	sub.BillingAddressID = "addr-2"

	res, err := o.Begin(context.Background(), sub)
	require.NoError(t, err)
	require.False(t, res.CartCleared)
	require.Empty(t, f.cart.cleared)
	require.Equal(t, "addr-2", f.orders.calls()[0].BillingAddress.ID)
}

func TestCODOrderFailureLeavesCart(t *testing.T) {
	f := newFixture()
	f.orders.fail = common.NewAppError(common.CodeConflict, "product p-1 is sold out", 409, nil)
	o := checkout.NewOrchestrator(f.deps, "u-1")

	_, err := o.Begin(context.Background(), submission(checkout.MethodCOD))
	require.Equal(t, checkout.KindCollaborator, checkout.KindOf(err))
	var ce *checkout.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "product p-1 is sold out", ce.Message)
	require.Empty(t, f.cart.cleared)
	require.False(t, o.Busy())
}

func TestPreconditionsBlockSubmission(t *testing.T) {
	cases := map[string]func(*checkout.Submission, *fixture){
		"unauthenticated": func(s *checkout.Submission, _ *fixture) { s.UserID = "" },
		"no address":      func(s *checkout.Submission, _ *fixture) { s.ShippingAddressID = "" },
		"unknown address": func(s *checkout.Submission, _ *fixture) { s.ShippingAddressID = "addr-404" },
		"empty draft":     func(s *checkout.Submission, _ *fixture) { s.Draft = checkout.Draft{} },
		"bad method":      func(s *checkout.Submission, _ *fixture) { s.Method = "CARD" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			sub := submission(checkout.MethodCOD)
			mutate(&sub, f)
			o := checkout.NewOrchestrator(f.deps, "")

			_, err := o.Begin(context.Background(), sub)
			require.Equal(t, checkout.KindValidation, checkout.KindOf(err))
			require.Empty(t, f.orders.calls())
			require.Equal(t, checkout.StateIdle, o.State())
			require.False(t, o.Busy())
		})
	}
}

func TestAddressLookupFailureIsCollaboratorError(t *testing.T) {
	f := newFixture()
	f.deps.Addresses = fakeAddresses{err: errDown}
	o := checkout.NewOrchestrator(f.deps, "u-1")

	_, err := o.Begin(context.Background(), submission(checkout.MethodCOD))
	require.Equal(t, checkout.KindCollaborator, checkout.KindOf(err))
	require.ErrorIs(t, err, errDown)
}

func TestGatewayPaymentVerifiedPlacesPaidOrder(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	res, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	require.Equal(t, checkout.StateGatewayPending, res.State)
	require.NotNil(t, res.Session)
	require.True(t, res.Session.Amount.Equal(money("246")))
	require.Empty(t, f.orders.calls(), "no order before payment")
	require.True(t, o.Busy())

	res, err = o.Resume(ctx, paid())
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrderPlaced, res.State)
	require.True(t, res.CartCleared)

	p := f.orders.calls()[0]
	require.Equal(t, checkout.PaymentCompleted, p.PaymentStatus)
	require.Equal(t, checkout.StatusPaymentReceived, p.CurrentStatus)
	require.Equal(t, "pay-1", p.PaymentID)
	require.Equal(t, "gw-1", p.GatewayOrderID)
	require.False(t, o.Busy())
}

func TestSessionFailureCreatesNoOrder(t *testing.T) {
	f := newFixture()
	f.gateway.sessionErr = errDown
	o := checkout.NewOrchestrator(f.deps, "u-1")

	_, err := o.Begin(context.Background(), submission(checkout.MethodGateway))
	require.Equal(t, checkout.KindCollaborator, checkout.KindOf(err))
	require.Empty(t, f.orders.calls())
	require.Empty(t, f.cart.cleared)
	require.Equal(t, checkout.StateIdle, o.State())
	require.False(t, o.Busy())
}

func TestVerificationFailurePlacesFallbackOrder(t *testing.T) {
	f := newFixture()
	f.gateway.verifyErr = payment.ErrInvalidSignature
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	res, err := o.Resume(ctx, paid())
	require.NoError(t, err)
	require.Equal(t, checkout.StateFallbackOrderPlaced, res.State)
	require.NotEmpty(t, res.Message)

	p := f.orders.calls()[0]
	require.Equal(t, checkout.PaymentFailed, p.PaymentStatus)
	require.Equal(t, checkout.StatusPaymentPending, p.CurrentStatus)
	require.Equal(t, "pay-1", p.PaymentID)
	require.Empty(t, f.reconciler.cases)
}

func TestFallbackFailureRequiresReconciliation(t *testing.T) {
	f := newFixture()
	f.gateway.verifyErr = payment.ErrVerificationFailed
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	f.orders.fail = errDown

	_, err = o.Resume(ctx, paid())
	require.Equal(t, checkout.KindReconciliation, checkout.KindOf(err))
	require.ErrorIs(t, err, errDown)
	require.ErrorIs(t, err, payment.ErrVerificationFailed)

	require.Len(t, f.reconciler.cases, 1)
	c := f.reconciler.cases[0]
	require.Equal(t, checkout.ReasonFallbackFailed, c.Reason)
	require.Equal(t, "pay-1", c.Payload.PaymentID)
	require.Equal(t, "fake", c.Provider)
	require.Empty(t, f.cart.cleared)
	require.False(t, o.Busy())
}

func TestOrderWriteFailureAfterVerifiedPaymentIsReconciled(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	f.orders.fail = errDown

	_, err = o.Resume(ctx, paid())
	require.Equal(t, checkout.KindReconciliation, checkout.KindOf(err))
	require.Len(t, f.reconciler.cases, 1)
	require.Equal(t, checkout.ReasonOrderWriteFailed, f.reconciler.cases[0].Reason)
	require.Equal(t, checkout.PaymentCompleted, f.reconciler.cases[0].Payload.PaymentStatus)
}

func TestDismissReleasesGuardWithoutOrder(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	res, err := o.Resume(ctx, checkout.Dismissed())
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Empty(t, f.orders.calls())
	require.False(t, o.Busy())

	_, err = o.Begin(ctx, submission(checkout.MethodCOD))
	require.NoError(t, err)
}

func TestGatewayErrorSurfacesMessage(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	_, err = o.Resume(ctx, checkout.GatewayFailed("card declined"))
	var ce *checkout.Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, checkout.KindCollaborator, ce.Kind)
	require.Equal(t, "card declined", ce.Message)
	require.Empty(t, f.orders.calls())
}

func TestResumeWithoutPendingIsInvalidState(t *testing.T) {
	o := checkout.NewOrchestrator(newFixture().deps, "u-1")
	_, err := o.Resume(context.Background(), paid())
	require.Equal(t, checkout.KindInvalidState, checkout.KindOf(err))
}

func TestSecondSubmissionWhilePendingIsRejected(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	_, err = o.Begin(ctx, submission(checkout.MethodCOD))
	require.Equal(t, checkout.KindBusy, checkout.KindOf(err))
	require.Equal(t, 1, f.gateway.sessions)
	require.Empty(t, f.orders.calls())
}

func TestConcurrentSubmissionsPlaceOneOrder(t *testing.T) {
	f := newFixture()
	f.orders.block = make(chan struct{})
	o := checkout.NewOrchestrator(f.deps, "u-1")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Begin(context.Background(), submission(checkout.MethodCOD))
		}(i)
	}
	require.Eventually(t, o.Busy, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.orders.block)
	wg.Wait()

	ok, busy := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case checkout.KindOf(err) == checkout.KindBusy:
			busy++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 4, busy)
	require.Len(t, f.orders.calls(), 1)
}

func TestExpiredPendingIsAbandoned(t *testing.T) {
	f := newFixture()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.deps.Now = func() time.Time { return now }
	f.deps.PendingTTL = time.Minute
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	now = now.Add(2 * time.Minute)

	_, err = o.Resume(ctx, paid())
	require.Equal(t, checkout.KindInvalidState, checkout.KindOf(err))
	require.Empty(t, f.orders.calls())

	_, err = o.Begin(ctx, submission(checkout.MethodCOD))
	require.NoError(t, err)
}

func TestCheckoutRunsPromptToCompletion(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	var seen payment.Session
	prompt := checkout.PromptFunc(func(_ context.Context, s payment.Session) (checkout.GatewayOutcome, error) {
		seen = s
		return paid(), nil
	})

	res, err := o.Checkout(context.Background(), submission(checkout.MethodGateway), prompt)
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrderPlaced, res.State)
	require.Equal(t, "sess-rcpt-1", seen.ID)
}

func TestCheckoutCancelledPromptIsDismissal(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx, cancel := context.WithCancel(context.Background())
	prompt := checkout.PromptFunc(func(ctx context.Context, _ payment.Session) (checkout.GatewayOutcome, error) {
		cancel()
		<-ctx.Done()
		return checkout.GatewayOutcome{}, ctx.Err()
	})

	res, err := o.Checkout(ctx, submission(checkout.MethodGateway), prompt)
	require.NoError(t, err)
	require.True(t, res.Cancelled)
	require.Empty(t, f.orders.calls())
	require.False(t, o.Busy())
}

func TestPendingCheckoutSurvivesRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture()
	f.deps.Pending = checkout.RedisPendingStore{R: rdb}
	ctx := context.Background()

	_, err := checkout.NewOrchestrator(f.deps, "u-1").Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	require.True(t, mr.Exists("checkout:pending:u-1"))

	restarted := checkout.NewOrchestrator(f.deps, "u-1")
	res, err := restarted.Resume(ctx, paid())
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrderPlaced, res.State)
	require.Equal(t, "rcpt-1", f.orders.calls()[0].ReceiptRef)
	require.False(t, mr.Exists("checkout:pending:u-1"))
}

func TestSessionsSweepDropsIdleAndExpired(t *testing.T) {
	f := newFixture()
	now := time.Now()
	f.deps.Now = func() time.Time { return now }
	f.deps.PendingTTL = time.Minute
	s := checkout.NewSessions(f.deps)
	ctx := context.Background()

	_, err := s.For("u-1").Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	cod := submission(checkout.MethodCOD)
	cod.UserID = "u-2"
	_, err = s.For("u-2").Begin(ctx, cod)
	require.NoError(t, err)
	require.Same(t, s.For("u-1"), s.For("u-1"))

	require.Equal(t, 0, s.Sweep(ctx))
	require.Equal(t, 1, s.Len(), "pending checkout stays tracked")

	now = now.Add(time.Hour)
	require.Equal(t, 1, s.Sweep(ctx))
	require.Equal(t, 0, s.Len())
}

func TestSweptOrchestratorCannotOpenSecondCheckout(t *testing.T) {
	f := newFixture()
	s := checkout.NewSessions(f.deps)
	ctx := context.Background()

	stale := s.For("u-1")
	s.Sweep(ctx)
	require.Equal(t, 0, s.Len())

	_, err := stale.Begin(ctx, submission(checkout.MethodGateway))
	require.Error(t, err)
	require.Zero(t, f.gateway.sessions, "a forgotten orchestrator must not open a session")

	res, err := s.Begin(ctx, "u-1", submission(checkout.MethodGateway))
	require.NoError(t, err)
	require.Equal(t, checkout.StateGatewayPending, res.State)
	_, err = s.Begin(ctx, "u-1", submission(checkout.MethodGateway))
	require.Equal(t, checkout.KindBusy, checkout.KindOf(err))

	res, err = s.Resume(ctx, "u-1", paid())
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrderPlaced, res.State)
	require.Len(t, f.orders.calls(), 1)
	require.Equal(t, 1, f.gateway.sessions)
}

func TestSweepKeepsOrchestratorHoldingLatch(t *testing.T) {
	f := newFixture()
	s := checkout.NewSessions(f.deps)
	ctx := context.Background()

	held := s.For("u-1")
	_, err := held.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)
	s.Sweep(ctx)
	require.Same(t, held, s.For("u-1"))
}

func TestUnknownOutcomeKeepsPendingCheckout(t *testing.T) {
	f := newFixture()
	o := checkout.NewOrchestrator(f.deps, "u-1")
	ctx := context.Background()

	_, err := o.Begin(ctx, submission(checkout.MethodGateway))
	require.NoError(t, err)

	_, err = o.Resume(ctx, checkout.GatewayOutcome{Kind: checkout.OutcomeKind(42)})
	require.Equal(t, checkout.KindValidation, checkout.KindOf(err))
	require.Equal(t, checkout.StateGatewayPending, o.State())
	require.True(t, o.Busy())

	res, err := o.Resume(ctx, paid())
	require.NoError(t, err)
	require.Equal(t, checkout.StateOrderPlaced, res.State)
}

func TestAsAppErrorStatuses(t *testing.T) {
	cases := map[checkout.Kind]int{
		checkout.KindValidation:     400,
		checkout.KindBusy:           409,
		checkout.KindInvalidState:   409,
		checkout.KindReconciliation: 202,
		checkout.KindCollaborator:   502,
	}
	for kind, status := range cases {
		appErr := checkout.AsAppError(&checkout.Error{Kind: kind, Message: "x"})
		require.Equal(t, status, appErr.HTTPStatus, kind)
	}
	require.Equal(t, 500, checkout.AsAppError(errors.New("boom")).HTTPStatus)
}
