package pinning

import (
	"context"
	"math"
	"time"
)

// Retry states. The upload loop is modelled as an explicit state machine
// so tests can assert the exact attempt/backoff schedule.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateSucceeded
	stateExhausted
)

const (
	maxAttempts   = 3
	backoffBase   = 2 * time.Second
	backoffGrowth = 1.5
)

// backoffFor returns the wait after the given zero-based failed attempt:
// 2s, 3s, 4.5s, ...
func backoffFor(attempt int) time.Duration {
	return time.Duration(float64(backoffBase) * math.Pow(backoffGrowth, float64(attempt)))
}

// retrier drives an operation through the Attempting/Backoff states until
// it either Succeeds or is Exhausted. sleep is injectable for tests.
type retrier struct {
	sleep func(ctx context.Context, d time.Duration) error
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run executes op up to maxAttempts times. It returns the terminal state
// and, when exhausted, the error from the final attempt.
func (r *retrier) run(ctx context.Context, op func(attempt int) error) (retryState, error) {
	sleep := r.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	state := stateAttempting
	attempt := 0
	var lastErr error

	for {
		switch state {
		case stateAttempting:
			lastErr = op(attempt)
			switch {
			case lastErr == nil:
				state = stateSucceeded
			case attempt == maxAttempts-1:
				state = stateExhausted
			default:
				state = stateBackoff
			}

		case stateBackoff:
			if err := sleep(ctx, backoffFor(attempt)); err != nil {
				return stateExhausted, err
			}
			attempt++
			state = stateAttempting

		case stateSucceeded:
			return stateSucceeded, nil

		case stateExhausted:
			return stateExhausted, lastErr
		}
	}
}
