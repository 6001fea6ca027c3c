// Request pacing for the Gmail and Drive APIs
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound API calls so we stay under per-user quota.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket releases one token per interval and holds at most burst tokens.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	stop     chan struct{}
	stopDone chan struct{}
}

// PerMinute returns a bucket that allows rpm requests per minute with a burst of rpm/60 (at least 1).
func PerMinute(rpm int) *TokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	burst := rpm / 60
	if burst < 1 {
		burst = 1
	}
	return NewTokenBucket(time.Minute/time.Duration(rpm), burst)
}

// NewTokenBucket returns a limiter that adds a token every interval.
func NewTokenBucket(interval time.Duration, burst int) *TokenBucket {
	if interval <= 0 {
		interval = time.Millisecond
	}
	if burst < 1 {
		burst = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(interval),
		tokens:   make(chan struct{}, burst),
		stop:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	// allow the first call to proceed immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases resources held by the limiter.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.stop)
	<-t.stopDone
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
