package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-harvester/models"
)

// RetryPolicy bounds navigation retries; the wait before attempt n+1 is Delay × n
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
	Timeout  time.Duration
}

// DefaultRetryPolicy is 3 attempts with 2s, 4s between them and a 30s timeout per attempt
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    2 * time.Second,
		Timeout:  30 * time.Second,
	}
}

// NavigateWithRetry navigates page to target, retrying with linear backoff. An attempt
// that runs past the policy timeout is reported as models.ErrNavigationTimeout.
func NavigateWithRetry(ctx context.Context, page Page, target string, policy RetryPolicy, log *logrus.Logger) error {
	if policy.Attempts == 0 {
		policy.Attempts = 1
	}

	err := retry.Do(
		func() error {
			navCtx := ctx
			cancel := func() {}
			if policy.Timeout > 0 {
				navCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			}
			defer cancel()

			err := page.Navigate(navCtx, target)
			if err != nil && ctx.Err() == nil && errors.Is(navCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s", models.ErrNavigationTimeout, target, policy.Timeout)
			}
			return err
		},
		retry.Attempts(policy.Attempts),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return policy.Delay * time.Duration(n+1)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.WithFields(logrus.Fields{
				"url":     target,
				"attempt": n + 1,
			}).WithError(err).Warn("Navigation failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	return nil
}
