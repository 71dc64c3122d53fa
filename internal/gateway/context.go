package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/xela07ax/aibot-search-gateway/internal/domain"
)

// Тип для ключей в контексте (избегаем коллизий)
type ctxKey string

const (
	traceIDKey  ctxKey = "trace_id"
	identityKey ctxKey = "resolved_identity"
)

// WithIdentity привязывает ResolvedIdentity к контексту запроса.
// В боевом коде единственный, кто конструирует identity, — сам шлюз.
// Жизнь привязки равна жизни запроса, глобального состояния нет.
func WithIdentity(ctx context.Context, id *domain.ResolvedIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom достает привязанную identity. ok == false означает, что
// запрос не проходил через шлюз — работать с ним нельзя.
func IdentityFrom(ctx context.Context) (*domain.ResolvedIdentity, bool) {
	id, ok := ctx.Value(identityKey).(*domain.ResolvedIdentity)
	return id, ok && id != nil
}

// TracingMiddleware инициализирует Trace-ID для каждого запроса
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Пытаемся достать ID из заголовка (если пришел от прокси)
		traceID := r.Header.Get("X-Trace-ID")

		// 2. Если его нет — генерируем новый
		if traceID == "" {
			traceID = uuid.New().String()
		}

		// 3. Кладем в контекст и в ответ, чтобы клиент знал ID своего запроса
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID помогает безопасно достать ID в любом месте кода
func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}
