package telegram

import (
	"context"
	"sync"
	"time"
)

// Throttle paces Bot API calls per chat with token buckets, so bursts of
// webhooks to one group stay under Telegram's per-chat limits instead of
// relying on 429 responses alone.
type Throttle struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	max       float64
	rate      float64 // tokens per second
	lastSweep time.Time
	now       func() time.Time
	sleep     SleepFunc
}

const sweepInterval = 10 * time.Minute

type bucket struct {
	tokens   float64
	lastTime time.Time
}

// NewThrottle allows maxBurst immediate calls per chat, refilled at
// ratePerMinute. It returns nil when ratePerMinute <= 0, which disables pacing.
func NewThrottle(maxBurst int, ratePerMinute float64) *Throttle {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 1
	}
	return &Throttle{
		buckets: make(map[string]*bucket),
		max:     float64(maxBurst),
		rate:    ratePerMinute / 60.0,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Wait blocks until a call to chat may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context, chat string) error {
	if t == nil {
		return nil
	}
	for {
		t.mu.Lock()
		now := t.now()
		t.sweep(now)
		b, ok := t.buckets[chat]
		if !ok {
			b = &bucket{tokens: t.max, lastTime: now}
			t.buckets[chat] = b
		}
		b.tokens += now.Sub(b.lastTime).Seconds() * t.rate
		if b.tokens > t.max {
			b.tokens = t.max
		}
		b.lastTime = now

		if b.tokens >= 1.0 {
			b.tokens -= 1.0
			t.mu.Unlock()
			return nil
		}

		wait := time.Duration((1.0 - b.tokens) / t.rate * float64(time.Second))
		t.mu.Unlock()

		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// sweep drops buckets that have refilled completely. A full bucket behaves
// exactly like a missing one, so forgetting it changes no pacing decision.
// Caller holds t.mu.
func (t *Throttle) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < sweepInterval {
		return
	}
	t.lastSweep = now
	for chat, b := range t.buckets {
		if b.tokens+now.Sub(b.lastTime).Seconds()*t.rate >= t.max {
			delete(t.buckets, chat)
		}
	}
}
