package user

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-checkout/internal/checkout"
)

// maxAddresses bounds the checkout lookup; address books are small.
const maxAddresses = 100

// Querier is the subset of pgxpool.Pool the service needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Address is a saved address as listed to its owner.
type Address struct {
	checkout.Address
	Label     string `json:"label,omitempty"`
	IsDefault bool   `json:"isDefault"`
}

// Service reads the address book. Addresses are created and edited by the
// account service; this module only consumes them.
type Service struct {
	DB Querier
}

const addressColumns = `id, label, receiver_name, phone, country, province, city, postal_code,
	address_line1, address_line2, is_default`

// List returns a page of the user's addresses, default first.
func (s Service) List(ctx context.Context, userID string, limit, offset int) ([]Address, int64, error) {
	var total int64
	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM user_addresses WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.DB.Query(ctx, `SELECT `+addressColumns+` FROM user_addresses WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	addresses, err := pgx.CollectRows(rows, scanAddress)
	return addresses, total, err
}

// ListAddresses implements checkout.AddressBook.
func (s Service) ListAddresses(ctx context.Context, userID string) ([]checkout.Address, error) {
	addresses, _, err := s.List(ctx, userID, maxAddresses, 0)
	if err != nil {
		return nil, err
	}
	out := make([]checkout.Address, 0, len(addresses))
	for _, a := range addresses {
		out = append(out, a.Address)
	}
	return out, nil
}

func scanAddress(row pgx.CollectableRow) (Address, error) {
	var a Address
	var id uuid.UUID
	err := row.Scan(&id, &a.Label, &a.ReceiverName, &a.Phone, &a.Country, &a.Province, &a.City,
		&a.PostalCode, &a.AddressLine1, &a.AddressLine2, &a.IsDefault)
	a.ID = id.String()
	a.Label = strings.TrimSpace(a.Label)
	return a, err
}
