package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/noah-isme/toko-checkout/internal/checkout"
)

// Addresses reads saved addresses from the backend.
type Addresses struct {
	Client Client
}

type listAddressesResponse struct {
	envelope
	Addresses []checkout.Address `json:"addresses"`
}

// ListAddresses implements checkout.AddressBook.
func (a Addresses) ListAddresses(ctx context.Context, userID string) ([]checkout.Address, error) {
	var out listAddressesResponse
	if err := a.Client.call(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/addresses", "", nil, &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}
