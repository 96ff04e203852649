package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an exponential retry schedule with a fixed attempt ceiling
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

// Do runs op until it succeeds, fails with a non-retryable error or the
// attempt ceiling is reached. The delay doubles after every failed attempt
// and there is no sleep after the last one. It returns the number of
// attempts made and the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.InitialBackoff << uint(maxAttempts)
	b.MaxElapsedTime = 0

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx))

	return attempts, err
}
