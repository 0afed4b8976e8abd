package checkout

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Sessions hands out one Orchestrator per user so the submission latch is
// shared by every request the user makes against this replica.
type Sessions struct {
	deps *Deps

	mu     sync.Mutex
	byUser map[string]*Orchestrator
}

// NewSessions builds an empty registry.
func NewSessions(deps *Deps) *Sessions {
	return &Sessions{deps: deps, byUser: make(map[string]*Orchestrator)}
}

// Deps returns the shared collaborators.
func (s *Sessions) Deps() *Deps { return s.deps }

// For returns the orchestrator for userID, creating it on first use.
func (s *Sessions) For(userID string) *Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.byUser[userID]
	if !ok {
		o = NewOrchestrator(s.deps, userID)
		s.byUser[userID] = o
	}
	return o
}

// Begin submits through the user's current orchestrator. An orchestrator
// retired by Sweep between lookup and latch is replaced by a fresh lookup, so
// the latch a request takes is always the one the registry hands out next.
func (s *Sessions) Begin(ctx context.Context, userID string, sub Submission) (Result, error) {
	for {
		res, err := s.For(userID).Begin(ctx, sub)
		if !errors.Is(err, errRetired) {
			return res, err
		}
	}
}

// Resume continues the user's pending gateway checkout.
func (s *Sessions) Resume(ctx context.Context, userID string, outcome GatewayOutcome) (Result, error) {
	for {
		res, err := s.For(userID).Resume(ctx, outcome)
		if !errors.Is(err, errRetired) {
			return res, err
		}
	}
}

// Sweep abandons expired gateway checkouts and forgets idle orchestrators.
// It returns the number of abandoned checkouts.
func (s *Sessions) Sweep(ctx context.Context) int {
	s.mu.Lock()
	snapshot := make(map[string]*Orchestrator, len(s.byUser))
	for id, o := range s.byUser {
		snapshot[id] = o
	}
	s.mu.Unlock()

	abandoned := 0
	for id, o := range snapshot {
		if o.Abandon(ctx) {
			abandoned++
			s.deps.Logger.Info().Str("user_id", id).Msg("checkout_pending_expired")
		}
		s.mu.Lock()
		if s.byUser[id] == o && o.retire() {
			delete(s.byUser, id)
		}
		s.mu.Unlock()
	}
	return abandoned
}

// Len reports how many orchestrators are tracked.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

// Run sweeps every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
