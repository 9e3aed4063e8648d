package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Outcome classifies the result of one remote call.
type Outcome int

const (
	OK Outcome = iota
	TransientOutcome
	PermanentOutcome
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case TransientOutcome:
		return "transient"
	default:
		return "permanent"
	}
}

// ErrRetryExhausted is returned when every attempt failed transiently or the
// elapsed-time budget ran out.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// StatusError is a non-2xx HTTP response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status: %d", e.Code)
}

type classified struct {
	kind Outcome
	err  error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: TransientOutcome, err: err}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: PermanentOutcome, err: err}
}

// Classify maps an error onto an Outcome. Explicit marks win; then HTTP
// status codes, network timeouts, cancellation and other network errors are
// inspected.
// Anything unrecognized is permanent.
func Classify(err error) Outcome {
	if err == nil {
		return OK
	}
	var c *classified
	if errors.As(err, &c) {
		return c.kind
	}
	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Code)
	}
	// http.Client.Timeout surfaces as a *url.Error that also matches
	// context.DeadlineExceeded; it is a slow response, not a cancellation.
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return TransientOutcome
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return PermanentOutcome
	}
	if ne != nil {
		return TransientOutcome
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return TransientOutcome
	}
	return PermanentOutcome
}

func classifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return OK
	case code == http.StatusRequestTimeout,
		code == http.StatusConflict,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return TransientOutcome
	default:
		return PermanentOutcome
	}
}

// Policy is an exponential backoff schedule bounded by attempts and elapsed time.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, 0.2 = +/-20%
	MaxElapsed  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		MaxElapsed:  2 * time.Minute,
	}
}

// Delay is the un-jittered wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) jittered(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	f := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// Attempts is how many times the operation was invoked.
type Attempts int

type retryOptions struct {
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	limiter *Limiter
	logger  *slog.Logger
	op      string
}

type RetryOption func(*retryOptions)

// WithSleep replaces the wait between attempts (tests use a no-op).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(o *retryOptions) { o.sleep = fn }
}

// WithLimiter waits on l before every attempt.
func WithLimiter(l *Limiter) RetryOption {
	return func(o *retryOptions) { o.limiter = l }
}

// WithClock replaces time.Now for the elapsed-time budget.
func WithClock(now func() time.Time) RetryOption {
	return func(o *retryOptions) { o.now = now }
}

func WithRetryLogger(logger *slog.Logger, op string) RetryOption {
	return func(o *retryOptions) { o.logger, o.op = logger, op }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails permanently, or the policy is spent.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...RetryOption) (T, Attempts, error) {
	o := retryOptions{sleep: sleepCtx, now: time.Now, logger: slog.Default(), op: "remote_call"}
	for _, fn := range opts {
		fn(&o)
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var (
		zero    T
		lastErr error
		n       Attempts
	)
	start := o.now()
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, n, err
		}
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return zero, n, err
			}
		}
		n++
		v, err := op(ctx)
		outcome := Classify(err)
		if outcome == OK {
			return v, n, nil
		}
		// only the caller's own context ends the loop as a cancellation
		if outcome == PermanentOutcome || ctx.Err() != nil {
			return zero, n, err
		}
		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.jittered(attempt)
		if p.MaxElapsed > 0 && o.now().Sub(start)+wait > p.MaxElapsed {
			o.logger.Warn("llm.retry.budget_spent", "op", o.op, "attempt", attempt, "error", err)
			break
		}
		if dl, ok := ctx.Deadline(); ok && time.Now().Add(wait).After(dl) {
			break
		}
		o.logger.Warn("llm.retry.backoff",
			"op", o.op,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
		if err := o.sleep(ctx, wait); err != nil {
			return zero, n, err
		}
	}
	return zero, n, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, n, lastErr)
}
