package cart

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/pricing"
)

var (
	// ErrItemNotFound signals that no line exists for the product id.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrMinimumQuantity signals a decrease on a line already at quantity 1.
	ErrMinimumQuantity = errors.New("minimum quantity reached")
	// ErrInvalidItem is returned when an item has no product id.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrPersist wraps failures of the persistence hook. The in-memory ledger
	// has already been mutated when it is returned.
	ErrPersist = errors.New("cart persist failed")
	// ErrCorruptSnapshot marks a snapshot whose counters disagree with its items.
	ErrCorruptSnapshot = errors.New("cart snapshot inconsistent")
)

// Snapshot is the persisted and displayed form of a ledger.
type Snapshot struct {
	Items      []Item        `json:"items"`
	TotalItems int           `json:"totalItems"`
	Total      pricing.Money `json:"total"`
}

// IsEmpty reports whether the snapshot holds no items.
func (s Snapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// Persister receives a full snapshot after every mutation.
type Persister interface {
	Persist(Snapshot) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(Snapshot) error

// Persist implements Persister.
func (f PersistFunc) Persist(s Snapshot) error {
	return f(s)
}

// Ledger holds cart lines in insertion order with eagerly maintained counters.
// It is not safe for concurrent use.
type Ledger struct {
	items      []Item
	totalItems int
	total      pricing.Money
	persister  Persister
}

// NewLedger returns an empty ledger that mirrors every mutation into p.
func NewLedger(p Persister) *Ledger {
	return &Ledger{persister: p}
}

// Rehydrate rebuilds a ledger from a persisted snapshot. A snapshot whose
// counters do not match its items is rejected with ErrCorruptSnapshot and an
// empty ledger is returned in its place.
func Rehydrate(s Snapshot, p Persister) (*Ledger, error) {
	l := NewLedger(p)
	seen := make(map[string]struct{}, len(s.Items))
	var (
		count int
		total = decimal.Zero
	)
	for _, it := range s.Items {
		id := normaliseID(it.ProductID)
		if id == "" || it.Quantity < 1 {
			return NewLedger(p), fmt.Errorf("%w: invalid line %q", ErrCorruptSnapshot, it.ProductID)
		}
		if _, dup := seen[id]; dup {
			return NewLedger(p), fmt.Errorf("%w: duplicate line %q", ErrCorruptSnapshot, id)
		}
		seen[id] = struct{}{}
		count += it.Quantity
		total = total.Add(it.LineTotal())
	}
	if count != s.TotalItems || !total.Equal(s.Total) {
		return NewLedger(p), fmt.Errorf("%w: counters %d/%s, items %d/%s", ErrCorruptSnapshot, s.TotalItems, s.Total, count, total)
	}
	for _, it := range s.Items {
		c := it.clone()
		c.ProductID = normaliseID(c.ProductID)
		l.items = append(l.items, c)
	}
	l.totalItems = count
	l.total = total
	return l, nil
}

// Add inserts the item or, when the product is already present, increments its
// quantity. item.Quantity is the amount to add and defaults to 1. Stock checks
// are the caller's responsibility.
func (l *Ledger) Add(item Item) error {
	id := normaliseID(item.ProductID)
	if id == "" {
		return ErrInvalidItem
	}
	qty := item.Quantity
	if qty <= 0 {
		qty = 1
	}
	if i := l.indexOf(id); i >= 0 {
		existing := &l.items[i]
		existing.Quantity += qty
		l.totalItems += qty
		l.total = l.total.Add(existing.UnitPrice().Mul(decimal.NewFromInt(int64(qty))))
		return l.persist()
	}
	line := item.clone()
	line.ProductID = id
	line.Quantity = qty
	l.items = append(l.items, line)
	l.totalItems += qty
	l.total = l.total.Add(line.LineTotal())
	return l.persist()
}

// Decrease lowers the quantity of a line by one. At quantity 1 nothing changes
// and ErrMinimumQuantity is returned.
func (l *Ledger) Decrease(productID string) error {
	i := l.indexOf(normaliseID(productID))
	if i < 0 {
		return ErrItemNotFound
	}
	line := &l.items[i]
	if line.Quantity <= 1 {
		return ErrMinimumQuantity
	}
	line.Quantity--
	l.totalItems--
	l.total = l.total.Sub(line.UnitPrice())
	return l.persist()
}

// Remove deletes a line and subtracts its full value from the counters.
func (l *Ledger) Remove(productID string) error {
	i := l.indexOf(normaliseID(productID))
	if i < 0 {
		return ErrItemNotFound
	}
	line := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.totalItems -= line.Quantity
	l.total = l.total.Sub(line.LineTotal())
	return l.persist()
}

// SetVariant changes the selected variant of a line, re-pricing it in place.
// A nil variant reverts the line to its base price.
func (l *Ledger) SetVariant(productID string, v *Variant) error {
	i := l.indexOf(normaliseID(productID))
	if i < 0 {
		return ErrItemNotFound
	}
	line := &l.items[i]
	before := line.LineTotal()
	if v == nil {
		line.Variant = nil
	} else {
		cp := *v
		line.Variant = &cp
	}
	l.total = l.total.Sub(before).Add(line.LineTotal())
	return l.persist()
}

// Reset clears all lines and zeroes both counters.
func (l *Ledger) Reset() error {
	l.items = nil
	l.totalItems = 0
	l.total = decimal.Zero
	return l.persist()
}

// Get returns a copy of the line for productID.
func (l *Ledger) Get(productID string) (Item, bool) {
	i := l.indexOf(normaliseID(productID))
	if i < 0 {
		return Item{}, false
	}
	return l.items[i].clone(), true
}

// Len returns the number of distinct lines.
func (l *Ledger) Len() int {
	return len(l.items)
}

// TotalItems returns the sum of quantities.
func (l *Ledger) TotalItems() int {
	return l.totalItems
}

// Total returns the sum of unit price × quantity.
func (l *Ledger) Total() pricing.Money {
	return l.total
}

// Snapshot returns a deep copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	items := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		items = append(items, it.clone())
	}
	return Snapshot{Items: items, TotalItems: l.totalItems, Total: l.total}
}

func (l *Ledger) indexOf(id string) int {
	for i := range l.items {
		if l.items[i].ProductID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) persist() error {
	if l.persister == nil {
		return nil
	}
	if err := l.persister.Persist(l.Snapshot()); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}
