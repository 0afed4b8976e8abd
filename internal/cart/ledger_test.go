package cart_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/cart"
)

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func sofa() cart.Item {
	return cart.Item{ProductID: "sofa", Name: "Sofa", Price: money("500"), Quantity: 2, FreeShipping: true, Stock: 10}
}

func lamp() cart.Item {
	return cart.Item{ProductID: "lamp", Name: "Lamp", Price: money("19.99"), FlatShippingRate: money("10"), Stock: 5}
}

type recordingPersister struct {
	snaps []cart.Snapshot
	err   error
}

func (p *recordingPersister) Persist(s cart.Snapshot) error {
	p.snaps = append(p.snaps, s)
	return p.err
}

func recompute(s cart.Snapshot) (int, decimal.Decimal) {
	count, total := 0, decimal.Zero
	for _, it := range s.Items {
		count += it.Quantity
		total = total.Add(it.LineTotal())
	}
	return count, total
}

func TestAddIncrementsExistingLine(t *testing.T) {
	l := cart.NewLedger(nil)
	require.NoError(t, l.Add(sofa()))
	require.NoError(t, l.Add(cart.Item{ProductID: "sofa", Price: money("500")}))

	require.Equal(t, 1, l.Len())
	require.Equal(t, 3, l.TotalItems())
	require.True(t, money("1500").Equal(l.Total()))
}

func TestAddUsesVariantPrice(t *testing.T) {
	l := cart.NewLedger(nil)
	item := lamp()
	item.Variant = &cart.Variant{ID: "brass", Price: money("25.50")}
	item.Quantity = 2
	require.NoError(t, l.Add(item))
	require.True(t, money("51").Equal(l.Total()))
}

func TestAddRejectsMissingProductID(t *testing.T) {
	l := cart.NewLedger(nil)
	require.ErrorIs(t, l.Add(cart.Item{Price: money("1")}), cart.ErrInvalidItem)
}

func TestDecreaseAtOneIsNoop(t *testing.T) {
	l := cart.NewLedger(nil)
	require.NoError(t, l.Add(lamp()))
	before := l.Snapshot()

	require.ErrorIs(t, l.Decrease("lamp"), cart.ErrMinimumQuantity)
	require.Equal(t, before, l.Snapshot())
}

func TestDecreaseAndRemove(t *testing.T) {
	l := cart.NewLedger(nil)
	require.NoError(t, l.Add(sofa()))
	require.NoError(t, l.Add(lamp()))

	require.NoError(t, l.Decrease("sofa"))
	require.Equal(t, 2, l.TotalItems())
	require.True(t, money("519.99").Equal(l.Total()))

	require.NoError(t, l.Remove("lamp"))
	require.Equal(t, 1, l.TotalItems())
	require.True(t, money("500").Equal(l.Total()))

	require.ErrorIs(t, l.Remove("lamp"), cart.ErrItemNotFound)
	require.ErrorIs(t, l.Decrease("missing"), cart.ErrItemNotFound)
}

func TestResetZeroesEverything(t *testing.T) {
	l := cart.NewLedger(nil)
	require.NoError(t, l.Add(sofa()))
	require.NoError(t, l.Reset())

	snap := l.Snapshot()
	require.Empty(t, snap.Items)
	require.Zero(t, snap.TotalItems)
	require.True(t, snap.Total.IsZero())
}

func TestSetVariantRepricesLine(t *testing.T) {
	l := cart.NewLedger(nil)
	item := lamp()
	item.Quantity = 3
	require.NoError(t, l.Add(item))

	require.NoError(t, l.SetVariant("lamp", &cart.Variant{ID: "oak", Price: money("30")}))
	require.True(t, money("90").Equal(l.Total()))

	require.NoError(t, l.SetVariant("lamp", nil))
	require.True(t, money("59.97").Equal(l.Total()))
	require.ErrorIs(t, l.SetVariant("nope", nil), cart.ErrItemNotFound)
}

func TestSnapshotIsDefensiveCopy(t *testing.T) {
	l := cart.NewLedger(nil)
	item := lamp()
	item.Variant = &cart.Variant{ID: "brass", Price: money("25")}
	item.Sizes = []string{"S"}
	require.NoError(t, l.Add(item))

	snap := l.Snapshot()
	snap.Items[0].Quantity = 99
	snap.Items[0].Variant.Price = money("1")
	snap.Items[0].Sizes[0] = "XL"

	got, ok := l.Get("lamp")
	require.True(t, ok)
	require.Equal(t, 1, got.Quantity)
	require.True(t, money("25").Equal(got.Variant.Price))
	require.Equal(t, []string{"S"}, got.Sizes)
}

func TestCountersNeverDrift(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	catalogue := []cart.Item{
		sofa(), lamp(),
		{ProductID: "rug", Price: money("0.10"), Stock: 50},
		{ProductID: "vase", Price: money("33.33"), Variant: &cart.Variant{ID: "glass", Price: money("41.07")}, Stock: 8},
	}
	l := cart.NewLedger(nil)
	for i := 0; i < 2000; i++ {
		pick := catalogue[rng.Intn(len(catalogue))]
		var err error
		switch rng.Intn(4) {
		case 0, 1:
			pick.Quantity = rng.Intn(3)
			err = l.Add(pick)
		case 2:
			err = l.Decrease(pick.ProductID)
		case 3:
			err = l.Remove(pick.ProductID)
		}
		if err != nil {
			require.True(t, errors.Is(err, cart.ErrItemNotFound) || errors.Is(err, cart.ErrMinimumQuantity), err)
		}
		snap := l.Snapshot()
		count, total := recompute(snap)
		require.Equal(t, count, snap.TotalItems)
		require.True(t, total.Equal(snap.Total), "total %s, recomputed %s", snap.Total, total)
	}
}

func TestEveryMutationPersistsFullSnapshot(t *testing.T) {
	p := &recordingPersister{}
	l := cart.NewLedger(p)
	require.NoError(t, l.Add(sofa()))
	require.NoError(t, l.Add(lamp()))
	require.NoError(t, l.Decrease("sofa"))
	require.NoError(t, l.Remove("lamp"))
	require.NoError(t, l.Reset())

	require.Len(t, p.snaps, 5)
	require.Equal(t, 3, p.snaps[1].TotalItems)
	require.Equal(t, 0, p.snaps[4].TotalItems)

	restored, err := cart.Rehydrate(p.snaps[2], nil)
	require.NoError(t, err)
	require.Equal(t, p.snaps[2].TotalItems, restored.TotalItems())
	require.True(t, p.snaps[2].Total.Equal(restored.Total()))
	require.Equal(t, 1, restored.Len())
}

func TestPersistFailureKeepsMutation(t *testing.T) {
	p := &recordingPersister{err: errors.New("disk full")}
	l := cart.NewLedger(p)

	err := l.Add(sofa())
	require.ErrorIs(t, err, cart.ErrPersist)
	require.Equal(t, 2, l.TotalItems())
}

func TestRehydrateRejectsInconsistentSnapshot(t *testing.T) {
	good := cart.NewLedger(nil)
	require.NoError(t, good.Add(sofa()))
	snap := good.Snapshot()

	tampered := snap
	tampered.Total = money("999")
	l, err := cart.Rehydrate(tampered, nil)
	require.ErrorIs(t, err, cart.ErrCorruptSnapshot)
	require.Zero(t, l.Len())

	dup := cart.Snapshot{Items: []cart.Item{sofa(), sofa()}, TotalItems: 4, Total: money("2000")}
	_, err = cart.Rehydrate(dup, nil)
	require.ErrorIs(t, err, cart.ErrCorruptSnapshot)
}

func TestCanAdd(t *testing.T) {
	item := sofa()
	require.True(t, item.CanAdd(8))
	require.False(t, item.CanAdd(9))
	require.True(t, item.CanAdd(0))
}
