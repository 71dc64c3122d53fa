package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Caller — один сетевой вызов к внешней системе.
type Caller func(ctx context.Context) error

// Reliability оборачивает вызовы к upstream в цепочку
// Rate Limiter -> Circuit Breaker -> Retries с таймаутом на попытку.
// Один экземпляр на один upstream, чтобы предохранитель не смешивал
// здоровье разных систем.
type Reliability struct {
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	timeout time.Duration
}

func NewReliability(name string, timeout time.Duration) *Reliability {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Reliability{
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(50), 10),
		timeout: timeout,
	}
}

func (w *Reliability) Do(ctx context.Context, call Caller) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Upstream попросил подождать (Retry-After) — слушаемся
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
			// "ok": false — это ответ, а не сбой: повтор не поможет
			retry.RetryIf(func(err error) bool {
				var apiErr *APIError
				return !errors.As(err, &apiErr)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()
			return call(tCtx)
		})
	})

	return err
}
