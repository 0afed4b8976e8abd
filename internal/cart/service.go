package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

var (
	// ErrOwnerRequired is returned when no cart owner key was supplied.
	ErrOwnerRequired = errors.New("cart owner required")
	// ErrOutOfStock is returned by Service.Add when the requested quantity
	// would exceed the stock ceiling sent with the item.
	ErrOutOfStock = errors.New("requested quantity exceeds stock")
)

// Locker serialises mutations of one owner's cart across replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service loads ledgers from the Store, applies one mutation under a per-owner
// lock and lets the ledger mirror the result back to the Store.
type Service struct {
	Store   Store
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger

	mu sync.Mutex
}

// Snapshot returns the current cart for owner.
func (s *Service) Snapshot(ctx context.Context, owner string) (Snapshot, error) {
	ledger, err := s.load(ctx, owner)
	if err != nil {
		return Snapshot{}, err
	}
	return ledger.Snapshot(), nil
}

// Add inserts or increments a line after checking the stock ceiling carried
// by item against the quantity already in the cart.
func (s *Service) Add(ctx context.Context, owner string, item Item) (Snapshot, error) {
	return s.Mutate(ctx, owner, "add", func(l *Ledger) error {
		current, _ := l.Get(item.ProductID)
		current.Stock = item.Stock
		if !current.CanAdd(item.Quantity) {
			return ErrOutOfStock
		}
		return l.Add(item)
	})
}

// Decrease lowers a line's quantity by one.
func (s *Service) Decrease(ctx context.Context, owner, productID string) (Snapshot, error) {
	return s.Mutate(ctx, owner, "decrease", func(l *Ledger) error { return l.Decrease(productID) })
}

// Remove deletes a line.
func (s *Service) Remove(ctx context.Context, owner, productID string) (Snapshot, error) {
	return s.Mutate(ctx, owner, "remove", func(l *Ledger) error { return l.Remove(productID) })
}

// SetVariant re-prices a line with a new variant selection.
func (s *Service) SetVariant(ctx context.Context, owner, productID string, v *Variant) (Snapshot, error) {
	return s.Mutate(ctx, owner, "set_variant", func(l *Ledger) error { return l.SetVariant(productID, v) })
}

// Reset empties the cart.
func (s *Service) Reset(ctx context.Context, owner string) (Snapshot, error) {
	return s.Mutate(ctx, owner, "reset", func(l *Ledger) error { return l.Reset() })
}

// Clear empties the cart and only reports failure.
func (s *Service) Clear(ctx context.Context, owner string) error {
	_, err := s.Reset(ctx, owner)
	return err
}

// Mutate runs fn against the owner's ledger while holding the owner's lock and
// returns the resulting snapshot. Signals such as ErrMinimumQuantity are
// returned alongside the unchanged snapshot.
func (s *Service) Mutate(ctx context.Context, owner, op string, fn func(*Ledger) error) (Snapshot, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Snapshot{}, ErrOwnerRequired
	}
	var (
		snap  Snapshot
		opErr error
	)
	run := func(lockCtx context.Context) error {
		ledger, err := s.load(lockCtx, owner)
		if err != nil {
			return err
		}
		ledger.persister = PersistFunc(func(next Snapshot) error {
			return s.Store.Save(lockCtx, owner, next)
		})
		opErr = fn(ledger)
		snap = ledger.Snapshot()
		return nil
	}
	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, "lock:cart:"+owner, s.lockTTL(), run)
	} else {
		s.mu.Lock()
		err = run(ctx)
		s.mu.Unlock()
	}
	if err != nil {
		recordMutation(op, "error")
		return Snapshot{}, err
	}
	recordMutation(op, mutationResult(opErr))
	if errors.Is(opErr, ErrPersist) {
		s.Logger.Error().Err(opErr).Str("owner", owner).Str("op", op).Msg("cart_persist_failed")
	}
	return snap, opErr
}

func (s *Service) load(ctx context.Context, owner string) (*Ledger, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if s == nil || s.Store == nil {
		return nil, errors.New("cart service not configured")
	}
	snap, err := s.Store.Load(ctx, owner)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSnapshot):
		return NewLedger(nil), nil
	case errors.Is(err, ErrCorruptSnapshot):
		s.Logger.Warn().Err(err).Str("owner", owner).Msg("cart_snapshot_discarded")
		return NewLedger(nil), nil
	default:
		return nil, err
	}
	ledger, err := Rehydrate(snap, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Str("owner", owner).Msg("cart_snapshot_discarded")
	}
	return ledger, nil
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 5 * time.Second
	}
	return s.LockTTL
}

func mutationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMinimumQuantity):
		return "min_quantity"
	case errors.Is(err, ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrPersist):
		return "persist_error"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	default:
		return "invalid"
	}
}

func recordMutation(op, result string) {
	if obs.CartMutationsTotal != nil {
		obs.CartMutationsTotal.WithLabelValues(op, result).Inc()
	}
}
