package checkout

import (
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

// Source records where a draft's lines came from. It decides whether the
// cart is cleared after the order is placed.
type Source string

const (
	SourceCart          Source = "fromCart"
	SourceSingleProduct Source = "singleProduct"
)

var defaultValidator = common.NewValidator()

// Draft is the checkout-time working set of normalised lines and totals.
type Draft struct {
	Lines   []OrderLine     `json:"items"`
	Source  Source          `json:"source"`
	Totals  pricing.Summary `json:"totals"`
	Dropped []string        `json:"droppedProductIds,omitempty"`

	// LinesSubtotal is the sum of the surviving lines. It is set only for
	// cart drafts that dropped lines, where the ledger total still prices
	// the order.
	LinesSubtotal *pricing.Money `json:"linesSubtotal,omitempty"`
}

// IsEmpty reports whether no valid line survived normalisation.
func (d Draft) IsEmpty() bool { return len(d.Lines) == 0 }

// LedgerMismatch reports whether the priced subtotal differs from the sum of
// the lines that will actually be ordered.
func (d Draft) LedgerMismatch() bool {
	return d.LinesSubtotal != nil && !d.LinesSubtotal.Equal(d.Totals.Subtotal)
}

// Builder normalises cart lines and single selections into drafts. Lines
// failing validation are dropped and logged instead of failing the draft.
type Builder struct {
	Validate *validator.Validate
	Pricing  pricing.Engine
	Logger   zerolog.Logger
}

// rawLine is the common shape of a cart item and a product selection before
// normalisation.
type rawLine struct {
	productID string
	name      string
	price     pricing.Money
	variant   *cart.Variant
	quantity  int
	size      string
	color     string
	sizes     []string
	colors    []string
	imageURL  string
	free      bool
	flatRate  pricing.Money
}

// FromCart builds a draft from a ledger snapshot. The subtotal is the
// ledger's running total.
func (b Builder) FromCart(snap cart.Snapshot) Draft {
	d := Draft{Source: SourceCart}
	for _, it := range snap.Items {
		b.appendLine(&d, rawLine{
			productID: it.ProductID,
			name:      it.Name,
			price:     it.Price,
			variant:   it.Variant,
			quantity:  it.Quantity,
			size:      it.Size,
			color:     it.Color,
			sizes:     it.Sizes,
			colors:    it.Colors,
			imageURL:  it.ImageURL,
			free:      it.FreeShipping,
			flatRate:  it.FlatShippingRate,
		})
	}
	d.Totals = b.Pricing.Compute(pricing.Input{Lines: pricingLines(d.Lines), FromCart: true, CartTotal: snap.Total})
	if len(d.Dropped) > 0 {
		sum := linesSubtotal(d.Lines)
		d.LinesSubtotal = &sum
		if d.LedgerMismatch() {
			b.Logger.Warn().
				Str("ledger_total", d.Totals.Subtotal.StringFixed(2)).
				Str("lines_subtotal", sum.StringFixed(2)).
				Strs("dropped", d.Dropped).
				Msg("cart total no longer matches orderable lines")
		}
	}
	return d
}

func linesSubtotal(lines []OrderLine) pricing.Money {
	sum := pricing.Money{}
	for _, l := range lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return sum.Round(2)
}

// FromSelection builds a single-line draft from a "buy now" selection.
func (b Builder) FromSelection(sel ProductSelection) Draft {
	d := Draft{Source: SourceSingleProduct}
	qty := sel.Quantity
	if qty <= 0 {
		qty = 1
	}
	b.appendLine(&d, rawLine{
		productID: sel.ProductID,
		name:      sel.Name,
		price:     sel.Price,
		variant:   sel.Variant,
		quantity:  qty,
		size:      sel.Size,
		color:     sel.Color,
		sizes:     sel.Sizes,
		colors:    sel.Colors,
		imageURL:  sel.ImageURL,
		free:      sel.FreeShipping,
		flatRate:  sel.FlatShippingRate,
	})
	d.Totals = b.Pricing.Compute(pricing.Input{Lines: pricingLines(d.Lines)})
	return d
}

func (b Builder) appendLine(d *Draft, raw rawLine) {
	line := OrderLine{
		ProductID:        strings.TrimSpace(raw.productID),
		Name:             strings.TrimSpace(raw.name),
		Quantity:         raw.quantity,
		UnitPrice:        raw.price,
		Size:             firstNonEmpty(raw.size, first(raw.sizes), DefaultSize),
		Color:            firstNonEmpty(raw.color, first(raw.colors), DefaultColor),
		ImageURL:         raw.imageURL,
		FreeShipping:     raw.free,
		FlatShippingRate: raw.flatRate,
	}
	if raw.variant != nil && raw.variant.Price.IsPositive() {
		line.UnitPrice = raw.variant.Price
	}
	if err := b.check(line); err != nil {
		b.Logger.Warn().
			Str("product_id", line.ProductID).
			Str("source", string(d.Source)).
			Str("reason", err.Error()).
			Msg("order line dropped")
		if obs.DraftLinesDroppedTotal != nil {
			obs.DraftLinesDroppedTotal.WithLabelValues(string(d.Source)).Inc()
		}
		d.Dropped = append(d.Dropped, line.ProductID)
		return
	}
	d.Lines = append(d.Lines, line)
}

func (b Builder) check(line OrderLine) error {
	v := b.Validate
	if v == nil {
		v = defaultValidator
	}
	return v.Struct(line)
}

func pricingLines(lines []OrderLine) []pricing.Line {
	out := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.pricingLine())
	}
	return out
}

func first(values []string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
