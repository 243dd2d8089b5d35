package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/ippousyuga/search-lucene/pkg/errors"
)

// WithTimeout bounds fn, typically one record source call, to timeout. When
// the limit is hit first the error matches apperrors.ErrTimeout and
// context.DeadlineExceeded. A cancelled parent is returned as its own
// context error. fn must honour its context; WithTimeout does not wait for
// it after the deadline.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(bounded)
	}()

	var err error
	select {
	case err = <-done:
	case <-bounded.Done():
		err = bounded.Err()
	}
	if err == nil || ctx.Err() != nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, apperrors.ErrTimeout) {
		return err
	}
	return &apperrors.OpError{Kind: apperrors.ErrTimeout, Op: op, Err: fmt.Errorf("no result within %v: %w", timeout, err)}
}
