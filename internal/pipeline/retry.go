package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// maxRowRetries bounds per-row retries of transient failures.
const maxRowRetries = 3

// applyWithRetry runs op, retrying transient failures with exponential
// backoff. Anything else passes through on the first attempt; a transient
// failure that survives all retries escalates to permanent.
func applyWithRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var out T
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(), maxRowRetries), ctx)

	err := backoff.Retry(func() error {
		var err error
		out, err = op()
		if err == nil {
			return nil
		}
		if llmerrors.Classify(err) == llmerrors.KindTransient {
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	if err != nil && llmerrors.Classify(err) == llmerrors.KindTransient {
		err = llmerrors.NewPermanentError("retry exhausted", "", err)
	}
	return out, err
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}
