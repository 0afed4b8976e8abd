package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/toko-checkout/internal/checkout"
)

var (
	// ErrNotFound is returned when no order matches.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition is returned when a payment status change is not allowed.
	ErrInvalidTransition = errors.New("payment status transition not allowed")
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists orders in Postgres. Orders are unique per receipt ref, so
// replaying a create returns the existing order.
type Store struct {
	DB DB
}

const orderColumns = `id, user_id, receipt_ref, payment_method, payment_status, current_status,
	subtotal, shipping_fee, tax, total, currency, notes, shipping_address, billing_address,
	payment_id, gateway_order_id, created_at, updated_at`

// CreateOrder implements checkout.OrderCreator.
func (s Store) CreateOrder(ctx context.Context, p checkout.OrderPayload) (checkout.OrderResult, error) {
	if strings.TrimSpace(p.ReceiptRef) == "" {
		return checkout.OrderResult{}, errors.New("order: receipt ref is required")
	}
	if len(p.Items) == 0 {
		return checkout.OrderResult{}, errors.New("order: no items")
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return checkout.OrderResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.NewString()
	var inserted string
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, receipt_ref, payment_method, payment_status, current_status,
			subtotal, shipping_fee, tax, total, currency, notes, shipping_address, billing_address,
			payment_id, gateway_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, ''), NULLIF($16, ''))
		ON CONFLICT (receipt_ref) DO NOTHING
		RETURNING id`,
		id, p.UserID, p.ReceiptRef, string(p.PaymentMethod), string(p.PaymentStatus), string(p.CurrentStatus),
		p.Subtotal, p.ShippingFee, p.Tax, p.Total, p.Currency, p.Notes, p.ShippingAddress, p.BillingAddress,
		p.PaymentID, p.GatewayOrderID,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		var existing string
		if err := tx.QueryRow(ctx, `SELECT id FROM orders WHERE receipt_ref = $1`, p.ReceiptRef).Scan(&existing); err != nil {
			return checkout.OrderResult{}, fmt.Errorf("order: load replayed order: %w", err)
		}
		return checkout.OrderResult{OrderID: existing, Message: "order already recorded"}, nil
	}
	if err != nil {
		return checkout.OrderResult{}, fmt.Errorf("order: insert: %w", err)
	}

	batch := &pgx.Batch{}
	for i, it := range p.Items {
		batch.Queue(`INSERT INTO order_items (order_id, position, product_id, name, quantity, unit_price, size, color, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			inserted, i, it.ProductID, it.Name, it.Quantity, it.UnitPrice, it.Size, it.Color, it.ImageURL)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return checkout.OrderResult{}, fmt.Errorf("order: insert items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return checkout.OrderResult{}, err
	}
	return checkout.OrderResult{OrderID: inserted}, nil
}

// ListForUser returns a page of the user's orders, newest first, without items.
func (s Store) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Order, int64, error) {
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	orders, err := collectOrders(rows)
	return orders, total, err
}

// ListNeedsReview returns orders whose gateway payment could not be verified.
func (s Store) ListNeedsReview(ctx context.Context, limit, offset int) ([]Order, int64, error) {
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE payment_status = $1`, string(checkout.PaymentFailed)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_status = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3`, string(checkout.PaymentFailed), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	orders, err := collectOrders(rows)
	return orders, total, err
}

// GetForUser loads one of the user's orders with its items.
func (s Store) GetForUser(ctx context.Context, userID, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, ErrNotFound
	}
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return Order{}, err
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return Order{}, err
	}
	if len(orders) == 0 {
		return Order{}, ErrNotFound
	}
	ord := orders[0]
	itemRows, err := s.DB.Query(ctx, `SELECT product_id, name, quantity, unit_price, size, color, image_url
		FROM order_items WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return Order{}, err
	}
	ord.Items, err = pgx.CollectRows(itemRows, func(row pgx.CollectableRow) (checkout.OrderLine, error) {
		var l checkout.OrderLine
		err := row.Scan(&l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.Size, &l.Color, &l.ImageURL)
		return l, err
	})
	return ord, err
}

// ResolvePayment marks an order's payment Completed after an operator
// confirmed it with the gateway. Only Pending or Failed payments move.
func (s Store) ResolvePayment(ctx context.Context, id, paymentID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	tag, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, current_status = $3,
			payment_id = COALESCE(NULLIF($4, ''), payment_id), updated_at = now()
		WHERE id = $1 AND payment_status IN ($5, $6)`,
		id, string(checkout.PaymentCompleted), string(checkout.StatusPaymentReceived), paymentID,
		string(checkout.PaymentPending), string(checkout.PaymentFailed))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		var o Order
		var method, payStatus, current string
		err := row.Scan(&o.ID, &o.UserID, &o.ReceiptRef, &method, &payStatus, &current,
			&o.Subtotal, &o.ShippingFee, &o.Tax, &o.Total, &o.Currency, &o.Notes,
			&o.ShippingAddress, &o.BillingAddress, &o.PaymentID, &o.GatewayOrderID, &o.CreatedAt, &o.UpdatedAt)
		o.PaymentMethod = checkout.PaymentMethod(method)
		o.PaymentStatus = checkout.PaymentStatus(payStatus)
		o.CurrentStatus = checkout.OrderStatus(current)
		return o, err
	})
}
