// Package llm implements spec.md component Q: an abstract complete/extract
// facade that the rest of the core depends on only through this interface.
// No concrete vendor backend is in scope; Noop is the fallback that must be
// wired when nothing else is configured, and Breaker wraps any real Backend
// a caller supplies so repeated transport failures degrade to
// LlmUnavailableError instead of hanging.
package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/txcore/tx/internal/txerr"
)

// CompleteRequest is the input to Backend.Complete.
type CompleteRequest struct {
	Prompt     string
	MaxTokens  int
	JSONSchema map[string]any
}

// CompleteResult is Backend.Complete's output.
type CompleteResult struct {
	Text       string
	Model      string
	DurationMS int64
}

// Candidate is one extracted-learning proposal from Backend.Extract.
type Candidate struct {
	Content    string
	Confidence float64
	Tags       []string
}

// ExtractResult is Backend.Extract's output.
type ExtractResult struct {
	Candidates   []Candidate
	SourceChunk  string
	WasExtracted bool
	Metadata     map[string]any
}

// Backend is the facade every concrete implementation (no-op, breaker-
// wrapped vendor client) satisfies; the rest of the core never depends on
// anything beyond this interface.
type Backend interface {
	Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error)
	Extract(ctx context.Context, chunk string) (ExtractResult, error)
	IsAvailable() bool
}

// Noop is the mandatory fallback when no backend is configured: Complete
// always fails with LlmUnavailableError, Extract always reports zero
// candidates with WasExtracted=false (spec.md §4.Q).
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (Noop) Complete(_ context.Context, _ CompleteRequest) (CompleteResult, error) {
	return CompleteResult{}, txerr.LlmUnavailable("no backend configured")
}

func (Noop) Extract(_ context.Context, chunk string) (ExtractResult, error) {
	return ExtractResult{SourceChunk: chunk, WasExtracted: false}, nil
}

func (Noop) IsAvailable() bool { return false }

// Breaker wraps a real Backend with a circuit breaker so a string of
// transport failures trips open and fails fast as LlmUnavailableError
// rather than letting every caller hang on its own timeout (grounded in
// jordigilh-kubernaut's gobreaker-based per-channel circuit breaker).
type Breaker struct {
	inner   Backend
	cb      *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	log     *zap.Logger
}

// BreakerConfig mirrors the tunables the teacher's circuit breaker manager
// exposes: consecutive-failure threshold, open-state cooldown, and the
// half-open trial request budget. RateLimit/RateBurst are optional; a zero
// RateLimit disables the limiter entirely (grounded in cklxx-elephant.ai's
// llm Factory.EnableUserRateLimit, which pairs a rate.Limiter with its own
// circuit breaker around outbound vendor calls).
type BreakerConfig struct {
	Name                string
	MaxHalfOpenRequests uint32
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
	RateLimit           rate.Limit
	RateBurst           int
}

func NewBreaker(inner Backend, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxHalfOpenRequests == 0 {
		cfg.MaxHalfOpenRequests = 1
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	name := cfg.Name
	if name == "" {
		name = "llm"
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxHalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("llm circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings), limiter: limiter, log: log}
}

// wait blocks until the rate limiter admits one request, or returns ctx's
// error if it's cancelled first. A nil limiter (the default) never blocks.
func (b *Breaker) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

func (b *Breaker) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	if err := b.wait(ctx); err != nil {
		return CompleteResult{}, wrapBackendErr(err)
	}
	out, err := b.cb.Execute(func() (any, error) {
		res, err := b.inner.Complete(ctx, req)
		if err != nil {
			return CompleteResult{}, err
		}
		return res, nil
	})
	if err != nil {
		return CompleteResult{}, wrapBackendErr(err)
	}
	return out.(CompleteResult), nil
}

func (b *Breaker) Extract(ctx context.Context, chunk string) (ExtractResult, error) {
	if err := b.wait(ctx); err != nil {
		return ExtractResult{SourceChunk: chunk, WasExtracted: false}, wrapExtractionErr(err)
	}
	out, err := b.cb.Execute(func() (any, error) {
		res, err := b.inner.Extract(ctx, chunk)
		if err != nil {
			return ExtractResult{}, err
		}
		return res, nil
	})
	if err != nil {
		return ExtractResult{SourceChunk: chunk, WasExtracted: false}, wrapExtractionErr(err)
	}
	return out.(ExtractResult), nil
}

// IsAvailable reports false while the breaker is open, in addition to
// deferring to the wrapped backend's own availability check.
func (b *Breaker) IsAvailable() bool {
	if b.cb.State() == gobreaker.StateOpen {
		return false
	}
	return b.inner.IsAvailable()
}

// wrapBackendErr and wrapExtractionErr convert any Complete/Extract error
// -- whether it came from the open breaker itself or from the wrapped
// backend's own transport failure -- into the sentinel the rest of the
// core expects, so callers never need to know a breaker is involved.
func wrapBackendErr(err error) error {
	return txerr.LlmUnavailable(err.Error())
}

func wrapExtractionErr(err error) error {
	return txerr.ExtractionUnavailable(err.Error())
}
