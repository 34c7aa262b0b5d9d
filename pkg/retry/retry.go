// Package retry re-runs calls that failed on transient provider errors, with
// exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

type Config struct {
	MaxRetries    int           `envconfig:"MAX_RETRIES" split_words:"true" default:"3"`
	InitialDelay  time.Duration `envconfig:"INITIAL_DELAY" split_words:"true" default:"2s"`
	MaxDelay      time.Duration `envconfig:"MAX_DELAY" split_words:"true" default:"30s"`
	BackoffFactor float64       `envconfig:"BACKOFF_FACTOR" split_words:"true" default:"2"`
	Jitter        time.Duration `envconfig:"JITTER" split_words:"true" default:"100ms"`
	CallTimeout   time.Duration `envconfig:"CALL_TIMEOUT" split_words:"true" default:"45s"`
}

var DefaultConfig = Config{
	MaxRetries:    3,
	InitialDelay:  2 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2,
	Jitter:        100 * time.Millisecond,
	CallTimeout:   45 * time.Second,
}

// Classifier reports whether err is worth another attempt.
type Classifier func(error) bool

// AnyOf returns a classifier that matches when any of cs does.
func AnyOf(cs ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range cs {
			if c != nil && c(err) {
				return true
			}
		}
		return false
	}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient tags err so IsTransient accepts it regardless of its text.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient is the provider-agnostic classifier: explicit marks plus the
// usual rate-limit and overload wording.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"429", "rate limit", "resource exhausted", "resource_exhausted", "quota", "too many requests", "overloaded"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

type Policy struct {
	Config     Config
	Classifier Classifier

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	jitter func(max time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPolicy(cfg Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = IsTransient
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	return &Policy{
		Config:     cfg,
		Classifier: classifier,
		jitter:     uniformJitter,
		sleep:      sleepCtx,
	}
}

// WithConfig returns a copy of p with a different schedule and the same
// classifier and hooks.
func (p *Policy) WithConfig(cfg Config) *Policy {
	out := NewPolicy(cfg, p.Classifier)
	out.OnRetry = p.OnRetry
	out.jitter = p.jitter
	out.sleep = p.sleep
	return out
}

// CalculateDelay returns the wait before retry number retry (0-based):
// InitialDelay * BackoffFactor^retry capped at MaxDelay, plus jitter.
func (p *Policy) CalculateDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(retry)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}
	if p.Config.Jitter > 0 && p.jitter != nil {
		delay += p.jitter(p.Config.Jitter)
	}
	return delay
}

func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Do runs fn until it succeeds, fails with a non-transient error, or runs out
// of retries. The last error is always returned, wrapped in
// ErrRetriesExhausted when the budget ran out.
func Do[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p == nil {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= p.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.CalculateDelay(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("transient failure, retrying")
			if err := p.sleep(ctx, delay); err != nil {
				return zero, fmt.Errorf("retry cancelled: %w", errors.Join(err, lastErr))
			}
		}

		out, err := callOnce(ctx, p.Config.CallTimeout, fn)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !p.ShouldRetry(err) && !errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, p.Config.MaxRetries+1, lastErr)
}

// callOnce bounds a single attempt by timeout. An attempt that hits its own
// deadline while ctx is still live is retried like any transient failure.
func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
