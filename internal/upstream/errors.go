package upstream

import (
	"fmt"
	"time"
)

// ThrottleError возвращается, когда upstream просит притормозить
// (429 + Retry-After). Ретраер использует RetryAfter вместо бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// APIError — ответ Slack Web API с "ok": false. Это валидный ответ сервиса
// (канал не найден, нет прав), а не сетевой сбой — ретраить его бессмысленно.
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s: %s", e.Method, e.Reason)
}
