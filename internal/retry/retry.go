// Package retry implements the small backoff loops used by hub and fetch to
// wrap flaky process invocations and downloads. It intentionally stays a
// hand-rolled helper rather than a pulled-in backoff library: neither
// distri's shell-out call sites nor ratt's isTemporary-gated retry loop
// (cmd/ratt.go) use one either, and the policies this spec needs (fixed
// attempt counts, exponential or linear backoff) are a dozen lines each.
package retry

import (
	"context"
	"time"
)

// Policy describes a bounded retry schedule.
type Policy struct {
	MaxAttempts int
	InitialWait time.Duration
	// Exponential selects exponential backoff (wait doubles each attempt)
	// versus linear backoff (wait grows by InitialWait each attempt).
	Exponential bool
}

// Hub is the policy for hub submissions: up to 3 attempts, exponential
// backoff starting at 10s.
var Hub = Policy{MaxAttempts: 3, InitialWait: 10 * time.Second, Exponential: true}

// Download is the policy for archive downloads: up to 2 attempts, linear
// backoff starting at 5s.
var Download = Policy{MaxAttempts: 2, InitialWait: 5 * time.Second}

// Permanent wraps an error to signal that Do should not retry it (e.g.
// authentication failures or "package not found").
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do calls fn up to p.MaxAttempts times, waiting between attempts per the
// policy's backoff shape. It stops immediately if fn returns an error
// wrapped in *Permanent, or if ctx is done.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	wait := p.InitialWait
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		var perm *Permanent
		if asPermanent(err, &perm) {
			return perm.Err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if p.Exponential {
			wait *= 2
		} else {
			wait += p.InitialWait
		}
	}
	return lastErr
}

func asPermanent(err error, target **Permanent) bool {
	for err != nil {
		if p, ok := err.(*Permanent); ok {
			*target = p
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
