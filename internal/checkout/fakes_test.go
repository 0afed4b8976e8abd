package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/payment"
)

type fakeOrders struct {
	mu       sync.Mutex
	payloads []checkout.OrderPayload
	fail     error
	block    chan struct{}
}

func (f *fakeOrders) CreateOrder(ctx context.Context, p checkout.OrderPayload) (checkout.OrderResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return checkout.OrderResult{}, f.fail
	}
	f.payloads = append(f.payloads, p)
	return checkout.OrderResult{OrderID: "ord-" + p.ReceiptRef}, nil
}

func (f *fakeOrders) calls() []checkout.OrderPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]checkout.OrderPayload(nil), f.payloads...)
}

type fakeGateway struct {
	sessionErr error
	verifyErr  error
	sessions   int
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	if g.sessionErr != nil {
		return payment.Session{}, g.sessionErr
	}
	g.sessions++
	return payment.Session{ID: "sess-" + req.ReceiptRef, Provider: "fake", Amount: req.Amount, Currency: req.Currency, ReceiptRef: req.ReceiptRef}, nil
}

func (g *fakeGateway) Verify(context.Context, payment.Session, payment.GatewayResponse) error {
	return g.verifyErr
}

type fakeAddresses struct {
	list []checkout.Address
	err  error
}

func (a fakeAddresses) ListAddresses(context.Context, string) ([]checkout.Address, error) {
	return a.list, a.err
}

type fakeCart struct {
	mu      sync.Mutex
	cleared []string
	err     error
}

func (c *fakeCart) Clear(_ context.Context, owner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.cleared = append(c.cleared, owner)
	return nil
}

type fakeReconciler struct {
	cases []checkout.Reconciliation
}

func (r *fakeReconciler) ReportReconciliation(_ context.Context, c checkout.Reconciliation) error {
	r.cases = append(r.cases, c)
	return nil
}

var errDown = errors.New("backend down")

type fixture struct {
	deps       *checkout.Deps
	orders     *fakeOrders
	gateway    *fakeGateway
	cart       *fakeCart
	reconciler *fakeReconciler
}

func newFixture() *fixture {
	f := &fixture{
		orders:     &fakeOrders{},
		gateway:    &fakeGateway{},
		cart:       &fakeCart{},
		reconciler: &fakeReconciler{},
	}
	n := 0
	f.deps = &checkout.Deps{
		Orders:  f.orders,
		Gateway: f.gateway,
		Addresses: fakeAddresses{list: []checkout.Address{
			{ID: "addr-1", ReceiverName: "Sari", City: "Bandung"},
			{ID: "addr-2", ReceiverName: "Sari", City: "Jakarta"},
		}},
		Cart:       f.cart,
		Reconciler: f.reconciler,
		Currency:   "IDR",
		NewReceiptRef: func() string {
			n++
			return fmt.Sprintf("rcpt-%d", n)
		},
	}
	return f
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cartDraft() checkout.Draft {
	var b checkout.Builder
	return b.FromCart(cart.Snapshot{
		Items: []cart.Item{{
			ProductID: "p-1", Name: "Kemeja", Price: money("100"), Quantity: 2, FlatShippingRate: money("10"),
		}},
		TotalItems: 2,
		Total:      money("200"),
	})
}

func submission(method checkout.PaymentMethod) checkout.Submission {
	return checkout.Submission{
		UserID:            "u-1",
		CartOwner:         "user:u-1",
		Draft:             cartDraft(),
		ShippingAddressID: "addr-1",
		Method:            method,
	}
}

func paid() checkout.GatewayOutcome {
	return checkout.Paid(payment.GatewayResponse{PaymentID: "pay-1", GatewayOrderID: "gw-1", Signature: "sig"})
}
