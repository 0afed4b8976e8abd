package resilience

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when a breaker trips and how long it stays open.
type BreakerConfig struct {
	Target       string
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
}

// Breaker is a failure-ratio circuit breaker guarding one remote dependency.
// It trips once MinRequests outcomes have been observed and the failure share
// reaches FailureRatio, then admits a single trial call after OpenFor.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    State
	failures int
	total    int
	openedAt time.Time
	probing  bool
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBreaker constructs a closed breaker, filling unset thresholds with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 1
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	cfg.Target = strings.TrimSpace(cfg.Target)
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	b := &Breaker{cfg: cfg, logger: zerolog.Nop(), now: time.Now}
	b.publishState()
	return b
}

// WithLogger configures the logger used for transition events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Target returns the dependency label used in metrics and logs.
func (b *Breaker) Target() string { return b.cfg.Target }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Only one trial call is admitted while
// half-open.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return false
		}
		b.transitionLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of a call admitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.transitionLocked(ctx, Closed)
		} else {
			b.transitionLocked(ctx, Open)
		}
		return
	}

	b.total++
	if !success {
		b.failures++
	}
	if b.total < b.cfg.MinRequests {
		return
	}
	if float64(b.failures)/float64(b.total) >= b.cfg.FailureRatio {
		b.transitionLocked(ctx, Open)
		return
	}
	// decay the window so old successes cannot mask a fresh outage
	if b.total > b.cfg.MinRequests*2 {
		b.total = (b.total + 1) / 2
		b.failures = (b.failures + 1) / 2
	}
}

// Execute runs fn if the breaker admits it and reports the outcome. Context
// cancellation by the caller is not counted against the dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow(ctx) {
		return ErrOpenCircuit
	}
	err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		b.release()
		return err
	}
	b.Report(ctx, err == nil)
	return err
}

// release frees a half-open trial slot without recording an outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

// Backoff returns the exponential delay for attempt (1-based). jitterPct is a
// fraction, 0.2 meaning ±20%.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if jitterPct <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * float64(d) * jitterPct
	return d + time.Duration(delta)
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.failures, b.total = 0, 0
	b.publishState()

	BreakerTransitions.WithLabelValues(b.cfg.Target, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(b.cfg.Target).Inc()
	}

	logger := b.logger
	if ctxLogger := zerolog.Ctx(ctx); ctxLogger.GetLevel() != zerolog.Disabled {
		logger = *ctxLogger
	}
	evt := logger.Warn()
	if next == Closed {
		evt = logger.Info()
	}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		evt = evt.Str("trace_id", span.TraceID().String())
	}
	evt.Str("target", b.cfg.Target).
		Str("from_state", prev.String()).
		Str("to_state", next.String()).
		Msg("breaker_transition")
}

func (b *Breaker) publishState() {
	var v float64
	switch b.state {
	case Open:
		v = 1
	case HalfOpen:
		v = 2
	}
	BreakerState.WithLabelValues(b.cfg.Target).Set(v)
}
