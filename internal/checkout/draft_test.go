package checkout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/pricing"
)

func TestFromCartUsesLedgerTotalAndDropsInvalidLines(t *testing.T) {
	b := checkout.Builder{}
	snap := cart.Snapshot{
		Items: []cart.Item{
			{ProductID: "p-1", Name: "Kemeja", Price: money("100"), Quantity: 2, FlatShippingRate: money("10"), Sizes: []string{"M", "L"}},
			{ProductID: "p-2", Name: "", Price: money("50"), Quantity: 1},
			{ProductID: "p-3", Name: "Topi", Price: money("0"), Quantity: 1},
			{ProductID: "p-4", Name: "Kaos", Price: money("40"), Quantity: 1, Color: "Red", FreeShipping: true, FlatShippingRate: money("15")},
		},
		TotalItems: 5,
		Total:      money("290"),
	}

	d := b.FromCart(snap)
	require.Equal(t, checkout.SourceCart, d.Source)
	require.Len(t, d.Lines, 2)
	require.ElementsMatch(t, []string{"p-2", "p-3"}, d.Dropped)

	require.Equal(t, "M", d.Lines[0].Size)
	require.Equal(t, checkout.DefaultColor, d.Lines[0].Color)
	require.Equal(t, checkout.DefaultSize, d.Lines[1].Size)
	require.Equal(t, "Red", d.Lines[1].Color)

	require.True(t, d.Totals.Subtotal.Equal(money("290")), "subtotal follows the ledger total")
	require.True(t, d.Totals.Shipping.Equal(money("10")))
	require.True(t, d.Totals.Tax.Equal(money("52")))
	require.True(t, d.Totals.Total.Equal(money("352")))

	require.NotNil(t, d.LinesSubtotal)
	require.True(t, d.LinesSubtotal.Equal(money("240")))
	require.True(t, d.LedgerMismatch())
}

func TestFromCartWithoutDropsReportsNoMismatch(t *testing.T) {
	b := checkout.Builder{}
	d := b.FromCart(cart.Snapshot{
		Items: []cart.Item{{ProductID: "p-1", Name: "Kemeja", Price: money("100"), Quantity: 2}},
		Total: money("200"),
	})
	require.Empty(t, d.Dropped)
	require.Nil(t, d.LinesSubtotal)
	require.False(t, d.LedgerMismatch())
}

func TestFromSelectionPrefersVariantPrice(t *testing.T) {
	b := checkout.Builder{Pricing: pricing.Engine{TaxRate: money("0.1")}}
	d := b.FromSelection(checkout.ProductSelection{
		ProductID: "p-9",
		Name:      "Jaket",
		Price:     money("300"),
		Variant:   &cart.Variant{ID: "v-xl", Name: "XL", Price: money("350")},
		Size:      "XL",
	})

	require.Equal(t, checkout.SourceSingleProduct, d.Source)
	require.Len(t, d.Lines, 1)
	line := d.Lines[0]
	require.Equal(t, 1, line.Quantity)
	require.True(t, line.UnitPrice.Equal(money("350")))
	require.Equal(t, "XL", line.Size)
	require.True(t, d.Totals.Subtotal.Equal(money("350")))
	require.True(t, d.Totals.Tax.Equal(money("35")))
	require.True(t, d.Totals.Total.Equal(money("385")))
}

func TestEmptyDraftHasZeroTotals(t *testing.T) {
	b := checkout.Builder{}
	d := b.FromSelection(checkout.ProductSelection{ProductID: "p-1", Name: "Kosong"})
	require.True(t, d.IsEmpty())
	require.True(t, d.Totals.IsZero())
	require.Equal(t, []string{"p-1"}, d.Dropped)
}
