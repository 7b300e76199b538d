package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff bounds for retrying after a fatal run.
const (
	retryInitialInterval = 5 * time.Second
	retryMaxInterval     = 2 * time.Minute
)

// Run calls RunOnce every interval until ctx is cancelled. After a fatal run
// the next attempt is scheduled with exponential backoff, never later than
// the regular interval.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(retryInitialInterval, interval)
	b.MaxInterval = min(retryMaxInterval, interval)
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		wait := interval
		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = min(b.NextBackOff(), interval)
			p.logger.Warn("retrying after fatal run", "backoff", wait)
		} else {
			b.Reset()
		}

		if !p.sleep(ctx, wait) {
			return nil
		}
	}
}

func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	t := clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
