// Package resolve runs ordered fallback strategies until one yields an
// acceptable value, recording every attempt.
package resolve

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Outcome is the explicit result of a single strategy attempt.
type Outcome int

const (
	// Empty means the strategy ran and found nothing.
	Empty Outcome = iota
	// Found means the strategy produced at least one candidate.
	Found
	// Failed means the strategy could not run (timeout, page error).
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Failed:
		return "failed"
	default:
		return "empty"
	}
}

// Result is what a strategy returns.
type Result struct {
	Outcome Outcome
	// Candidates are tried in order against the acceptance predicate.
	Candidates []string
	Err        error
}

// Hit returns a Found result. Blank candidates are dropped; if none remain
// the result is Empty.
func Hit(candidates ...string) Result {
	kept := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return Miss()
	}
	return Result{Outcome: Found, Candidates: kept}
}

// Miss returns an Empty result.
func Miss() Result {
	return Result{Outcome: Empty}
}

// Fail returns a Failed result.
func Fail(err error) Result {
	return Result{Outcome: Failed, Err: err}
}

// Strategy is one way of locating a value in an input of type T.
type Strategy[T any] interface {
	Name() string
	Resolve(ctx context.Context, in T) Result
}

type funcStrategy[T any] struct {
	name string
	fn   func(ctx context.Context, in T) Result
}

func (f funcStrategy[T]) Name() string { return f.name }

func (f funcStrategy[T]) Resolve(ctx context.Context, in T) Result { return f.fn(ctx, in) }

// Func adapts a function to a Strategy.
func Func[T any](name string, fn func(ctx context.Context, in T) Result) Strategy[T] {
	return funcStrategy[T]{name: name, fn: fn}
}

// Attempt records one strategy run.
type Attempt struct {
	Strategy string
	Outcome  Outcome
	Rejected []string
	Err      error
	Elapsed  time.Duration
}

// Resolution is the outcome of a whole chain.
type Resolution struct {
	Value    string
	Strategy string
	Found    bool
	Attempts []Attempt
	// Err is set only when the parent context ended the chain early.
	Err error
}

// Chain tries strategies in order.
type Chain[T any] struct {
	strategies []Strategy[T]
	accept     func(string) bool
	normalize  func(string) string
	timeout    time.Duration
}

// Option configures a Chain.
type Option[T any] func(*Chain[T])

// WithAccept sets the sanity predicate applied to each candidate.
func WithAccept[T any](fn func(string) bool) Option[T] {
	return func(c *Chain[T]) { c.accept = fn }
}

// WithNormalize sets a cleanup applied to each candidate before acceptance.
func WithNormalize[T any](fn func(string) string) Option[T] {
	return func(c *Chain[T]) { c.normalize = fn }
}

// WithAttemptTimeout bounds every attempt. A timed-out attempt counts as a
// failed strategy and the chain moves on.
func WithAttemptTimeout[T any](d time.Duration) Option[T] {
	return func(c *Chain[T]) { c.timeout = d }
}

// NewChain builds a chain over strategies in the given order.
func NewChain[T any](strategies []Strategy[T], opts ...Option[T]) *Chain[T] {
	c := &Chain[T]{
		strategies: strategies,
		accept:     func(string) bool { return true },
		normalize:  strings.TrimSpace,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve runs the chain against in.
func (c *Chain[T]) Resolve(ctx context.Context, in T) Resolution {
	var res Resolution

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		attempt := Attempt{Strategy: s.Name()}
		started := time.Now()
		r := c.run(ctx, s, in)
		attempt.Elapsed = time.Since(started)
		attempt.Outcome = r.Outcome
		attempt.Err = r.Err

		if r.Outcome == Found {
			for _, cand := range r.Candidates {
				v := c.normalize(cand)
				if v != "" && c.accept(v) {
					res.Attempts = append(res.Attempts, attempt)
					res.Value, res.Strategy, res.Found = v, s.Name(), true
					return res
				}
				attempt.Rejected = append(attempt.Rejected, v)
			}
		}
		res.Attempts = append(res.Attempts, attempt)
	}

	return res
}

func (c *Chain[T]) run(ctx context.Context, s Strategy[T], in T) (r Result) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	r = s.Resolve(attemptCtx, in)
	if r.Outcome == Empty && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Fail(attemptCtx.Err())
	}
	return r
}
