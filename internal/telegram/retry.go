package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"slack2tg/internal/domain"
	"slack2tg/internal/metrics"
)

// RetryPolicy bounds retries of server-side failures. Rate-limit waits do not
// count against MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
}

// MaxBackoff caps a single retry wait.
const MaxBackoff = 5 * time.Minute

// Backoff returns the wait before retrying after the given failed attempt
// (0-based): Base * 2^attempt, saturating at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 0; i < attempt && d < MaxBackoff; i++ {
		d *= 2
	}
	return min(d, MaxBackoff)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type failureKind int

const (
	failurePermanent failureKind = iota
	failureRateLimited
	failureServer
)

// classify sorts a Bot API error into rate limiting (with the requested wait
// in seconds), a server-side failure, or a permanent rejection.
func classify(err error) (failureKind, int) {
	apiErr, ok := asAPIError(err)
	if !ok {
		return failurePermanent, 0
	}
	switch {
	case apiErr.Code == 429 || apiErr.RetryAfter > 0:
		return failureRateLimited, apiErr.RetryAfter
	case apiErr.Code >= 500:
		return failureServer, 0
	default:
		return failurePermanent, 0
	}
}

func asAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// withRetry runs call until it succeeds, fails permanently, or exhausts the
// server-error budget. Every attempt first passes the chat's throttle.
func (c *Client) withRetry(ctx context.Context, op string, chat tgbotapi.BaseChat, call func() error) error {
	attempt := 0
	for {
		if err := c.throttle.Wait(ctx, chatKey(chat)); err != nil {
			return err
		}
		err := call()
		if err == nil {
			metrics.TelegramSends.Inc()
			return nil
		}

		kind, retryAfter := classify(err)
		switch kind {
		case failureRateLimited:
			delay := time.Duration(retryAfter+1) * time.Second
			metrics.TelegramRateLimited.Inc()
			c.logger.Warn("telegram rate limited", "op", op, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}

		case failureServer:
			if attempt >= c.retry.MaxAttempts {
				return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientUpstream, err)
			}
			delay := c.retry.Backoff(attempt)
			metrics.TelegramRetries.Inc()
			c.logger.Warn("telegram server error, retrying", "op", op, "attempt", attempt, "delay", delay, "err", err)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			attempt++

		default:
			return fmt.Errorf("%s: %w: %w", op, domain.ErrPermanentUpstream, err)
		}
	}
}
