package pricing

import "github.com/shopspring/decimal"

// Money represents a monetary value in major currency units.
type Money = decimal.Decimal

// DefaultTaxRate is the fraction of the subtotal charged as tax when no rate is configured.
var DefaultTaxRate = decimal.RequireFromString("0.18")

// Line describes a purchase line used for pricing calculation.
type Line struct {
	Qty              int
	UnitPrice        Money
	FreeShipping     bool
	FlatShippingRate Money
}

// ShippingCharge returns what this line contributes to the shipping fee.
func (l Line) ShippingCharge() Money {
	if l.FreeShipping || l.FlatShippingRate.IsNegative() {
		return decimal.Zero
	}
	return l.FlatShippingRate
}

// Input carries the lines being purchased and, for cart purchases, the ledger's running total.
type Input struct {
	Lines     []Line
	FromCart  bool
	CartTotal Money
}

// Summary aggregates computed pricing components.
type Summary struct {
	Subtotal Money `json:"subtotal"`
	Shipping Money `json:"shippingFee"`
	Tax      Money `json:"tax"`
	Total    Money `json:"total"`
}

// IsZero reports whether every component is zero.
func (s Summary) IsZero() bool {
	return s.Subtotal.IsZero() && s.Shipping.IsZero() && s.Tax.IsZero() && s.Total.IsZero()
}

// Engine computes order totals with a fixed tax rate.
type Engine struct {
	TaxRate Money
}

func (e Engine) taxRate() Money {
	if e.TaxRate.IsZero() || e.TaxRate.IsNegative() {
		return DefaultTaxRate
	}
	return e.TaxRate
}

// Compute derives subtotal, shipping, tax and total. Shipping is the plain sum of
// per-line charges; tax is rounded to whole units before it is added.
func (e Engine) Compute(in Input) Summary {
	if len(in.Lines) == 0 {
		return Summary{}
	}
	subtotal := in.CartTotal
	if !in.FromCart {
		subtotal = decimal.Zero
		for _, it := range in.Lines {
			if it.Qty <= 0 {
				continue
			}
			subtotal = subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Qty))))
		}
	}
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	shipping := decimal.Zero
	for _, it := range in.Lines {
		shipping = shipping.Add(it.ShippingCharge())
	}
	tax := subtotal.Mul(e.taxRate()).Round(0)
	total := subtotal.Add(shipping).Add(tax)
	return Summary{
		Subtotal: subtotal.Round(2),
		Shipping: shipping.Round(2),
		Tax:      tax.Round(2),
		Total:    total.Round(2),
	}
}

// Compute calculates totals using the default tax rate.
func Compute(in Input) Summary {
	return Engine{}.Compute(in)
}
