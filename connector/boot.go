package connector

import (
	"context"
	"errors"
	"time"

	"lscon-go/errcode"
	"lscon-go/x/timex"
)

// Retry bounds the boot loop. Zero MaxAttempts retries until ctx ends.
type Retry struct {
	Backoff     time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
}

// Boot initializes c, retrying while the upstream resources are deferred,
// then populates it. The wait between attempts doubles up to MaxBackoff.
func Boot(ctx context.Context, c *Connector, r Retry) error {
	wait := r.Backoff
	if wait <= 0 {
		wait = 50 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		err := c.Initialize()
		if err == nil {
			break
		}
		if !errors.Is(err, errcode.Deferred) {
			return err
		}
		if r.MaxAttempts > 0 && attempt >= r.MaxAttempts {
			return err
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = timex.NextBackoff(wait, r.MaxBackoff)
	}
	return c.Populate()
}
