package cart

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Variant is a material or finish option carrying its own price.
type Variant struct {
	ID    string        `json:"id"`
	Name  string        `json:"name,omitempty"`
	Price pricing.Money `json:"price"`
}

// Item is a single cart line keyed by product id.
type Item struct {
	ProductID        string        `json:"productId" validate:"required"`
	Name             string        `json:"name"`
	Price            pricing.Money `json:"price"`
	Quantity         int           `json:"quantity"`
	Variant          *Variant      `json:"variant,omitempty"`
	Size             string        `json:"size,omitempty"`
	Color            string        `json:"color,omitempty"`
	Sizes            []string      `json:"sizes,omitempty"`
	Colors           []string      `json:"colors,omitempty"`
	ImageURL         string        `json:"imageUrl,omitempty"`
	FreeShipping     bool          `json:"freeShipping"`
	FlatShippingRate pricing.Money `json:"flatShippingRate"`
	Stock            int           `json:"stock"`
}

// UnitPrice resolves the price charged per unit: the variant price when a
// variant is selected, otherwise the base price.
func (it Item) UnitPrice() pricing.Money {
	if it.Variant != nil && it.Variant.Price.IsPositive() {
		return it.Variant.Price
	}
	return it.Price
}

// LineTotal is UnitPrice × Quantity.
func (it Item) LineTotal() pricing.Money {
	return it.UnitPrice().Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// CanAdd reports whether qty more units fit under the stock ceiling.
func (it Item) CanAdd(qty int) bool {
	if qty <= 0 {
		qty = 1
	}
	return it.Quantity+qty <= it.Stock
}

func (it Item) clone() Item {
	out := it
	if it.Variant != nil {
		v := *it.Variant
		out.Variant = &v
	}
	if it.Sizes != nil {
		out.Sizes = append([]string(nil), it.Sizes...)
	}
	if it.Colors != nil {
		out.Colors = append([]string(nil), it.Colors...)
	}
	return out
}

func normaliseID(id string) string {
	return strings.TrimSpace(id)
}
