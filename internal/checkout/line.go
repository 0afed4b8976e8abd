package checkout

import (
	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Defaults used when neither the line nor the product names a size or colour.
const (
	DefaultSize  = "Standard"
	DefaultColor = "Default"
)

// OrderLine is the canonical line shape submitted for order creation.
type OrderLine struct {
	ProductID string        `json:"productId" validate:"required"`
	Name      string        `json:"name" validate:"required"`
	Quantity  int           `json:"quantity" validate:"min=1"`
	UnitPrice pricing.Money `json:"unitPrice" validate:"gt=0"`
	Size      string        `json:"size" validate:"required"`
	Color     string        `json:"color" validate:"required"`
	ImageURL  string        `json:"imageUrl,omitempty"`

	FreeShipping     bool          `json:"-"`
	FlatShippingRate pricing.Money `json:"-"`
}

func (l OrderLine) pricingLine() pricing.Line {
	return pricing.Line{
		Qty:              l.Quantity,
		UnitPrice:        l.UnitPrice,
		FreeShipping:     l.FreeShipping,
		FlatShippingRate: l.FlatShippingRate,
	}
}

// ProductSelection is a single "buy now" product with an optional variant,
// size and colour choice.
type ProductSelection struct {
	ProductID        string        `json:"productId"`
	Name             string        `json:"name"`
	Price            pricing.Money `json:"price"`
	Quantity         int           `json:"quantity" validate:"omitempty,min=1,max=99"`
	Variant          *cart.Variant `json:"variant,omitempty"`
	Size             string        `json:"size,omitempty"`
	Color            string        `json:"color,omitempty"`
	Sizes            []string      `json:"sizes,omitempty"`
	Colors           []string      `json:"colors,omitempty"`
	ImageURL         string        `json:"imageUrl,omitempty"`
	FreeShipping     bool          `json:"freeShipping"`
	FlatShippingRate pricing.Money `json:"flatShippingRate"`
}

// Address is a saved shipping or billing address owned by a user.
type Address struct {
	ID           string `json:"id"`
	ReceiverName string `json:"receiverName"`
	Phone        string `json:"phone"`
	Country      string `json:"country"`
	Province     string `json:"province"`
	City         string `json:"city"`
	PostalCode   string `json:"postalCode"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
}
