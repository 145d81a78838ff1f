package ai

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/sprite-ai/fixrev/internal/config"
	"github.com/sprite-ai/fixrev/internal/fault"
)

// Policy is an exponential backoff policy.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Factor         float64
	AttemptTimeout time.Duration
}

// PolicyFromConfig builds the retry policy from the [ai] settings.
func PolicyFromConfig(cfg config.AI) Policy {
	return Policy{
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      seconds(cfg.RetryBaseDelay),
		MaxDelay:       seconds(cfg.RetryMaxDelay),
		Factor:         cfg.RetryBackoffFactor,
		AttemptTimeout: seconds(float64(cfg.APITimeout)),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Delay returns the wait before retry n (1-based):
// min(MaxDelay, BaseDelay * Factor^(n-1)).
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Attempt describes one finished call, passed to Retrier.Observe.
type Attempt struct {
	N          int
	Completion Completion
	Err        error
	Elapsed    time.Duration
}

// Retrier runs provider calls under a Policy.
type Retrier struct {
	Policy Policy
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Observe is called after every attempt, successful or not.
	Observe func(Attempt)
	// Stop, when set, is checked before every retry. Returning true
	// abandons the call with a ProviderUnavailable error.
	Stop   func() bool
	Logger *slog.Logger
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. It returns the last completion, the number of
// attempts made and the final error.
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) (Completion, error)) (Completion, int, error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		c   Completion
		err error
	)
	for attempt := 1; ; attempt++ {
		start := time.Now()
		c, err = r.attempt(ctx, op, fn)
		if r.Observe != nil {
			r.Observe(Attempt{N: attempt, Completion: c, Err: err, Elapsed: time.Since(start)})
		}
		if err == nil {
			return c, attempt, nil
		}

		kind := fault.KindOf(err)
		if !kind.Retryable() || attempt > r.Policy.MaxRetries || ctx.Err() != nil {
			return c, attempt, err
		}
		if r.stopped() {
			return c, attempt, fault.New(fault.ProviderUnavailable, op, err)
		}

		delay := r.Policy.Delay(attempt)
		logger.Debug("retrying provider call",
			"op", op, "attempt", attempt, "kind", kind.String(), "delay", delay)
		if serr := sleep(ctx, delay); serr != nil {
			return c, attempt, err
		}
		if r.stopped() {
			return c, attempt, fault.New(fault.ProviderUnavailable, op, err)
		}
	}
}

func (r *Retrier) stopped() bool {
	return r.Stop != nil && r.Stop()
}

func (r *Retrier) attempt(ctx context.Context, op string, fn func(context.Context) (Completion, error)) (Completion, error) {
	actx := ctx
	if r.Policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.Policy.AttemptTimeout)
		defer cancel()
	}

	c, err := fn(actx)
	if err == nil {
		return c, nil
	}
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return c, fault.New(fault.Timeout, op, err)
	}
	if fault.KindOf(err) == fault.Unknown {
		return c, classify(op, 0, err)
	}
	return c, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
