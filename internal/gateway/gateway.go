package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/audit"
	"github.com/xela07ax/aibot-search-gateway/internal/domain"
	"github.com/xela07ax/aibot-search-gateway/internal/infra/auth"
)

const decisionAllowed = "allowed"

// Gateway — входная дверь сервиса. Вся цепочка проверки строго
// последовательная: каждый шаг открывает следующий, любой отказ обрывает
// запрос сразу, ничего ниже по конвейеру не стартует.
type Gateway struct {
	verifier   TokenVerifier
	resolver   *Resolver
	authorizer *Authorizer
	blocklist  *Blocklist
	trail      *audit.Trail
	metrics    *Metrics
	logger     *zap.Logger

	assertionHeader string
	oboHeader       string
	audience        string
	allowedPaths    map[string]struct{}
}

func New(
	verifier TokenVerifier,
	resolver *Resolver,
	authorizer *Authorizer,
	blocklist *Blocklist,
	trail *audit.Trail,
	metrics *Metrics,
	logger *zap.Logger,
	assertionHeader, oboHeader, audience string,
	allowedPaths []string,
) *Gateway {
	paths := make(map[string]struct{}, len(allowedPaths))
	for _, p := range allowedPaths {
		paths[p] = struct{}{}
	}
	return &Gateway{
		verifier:        verifier,
		resolver:        resolver,
		authorizer:      authorizer,
		blocklist:       blocklist,
		trail:           trail,
		metrics:         metrics,
		logger:          logger.Named("gateway"),
		assertionHeader: assertionHeader,
		oboHeader:       oboHeader,
		audience:        audience,
		allowedPaths:    paths,
	}
}

// Middleware реализует конвейер проверки доступа:
// allow-list пути -> периметральное утверждение -> blocklist ->
// посредник/on-behalf-of -> rate limit -> директория/allow-листы ->
// привязка identity -> handler.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Любая неожиданная паника конвертируется в 500 и не может
		// перепрыгнуть через scrub заголовков: OBO-токен вычищается
		// до передачи управления хендлеру, а привязка identity умирает
		// вместе с контекстом запроса.
		defer func() {
			if rec := recover(); rec != nil {
				g.logger.Error("panic during access check",
					zap.Any("panic", rec),
					zap.String("trace_id", extractTraceID(r.Context())),
					zap.String("path", r.URL.Path))
				g.reject(w, r, start, "", "",
					domain.NewAuthError(domain.CodeInternal, http.StatusInternalServerError, "Security validation failed"))
			}
		}()

		// Health без авторизации
		if r.URL.Path == "/health" || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		// 1. Allow-list путей ДО разбора каких-либо креденшелов:
		// зондирующий запрос не должен получить никакого сигнала.
		if _, ok := g.allowedPaths[r.URL.Path]; !ok {
			g.logger.Warn("unauthorized path probe",
				zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			g.reject(w, r, start, "", "",
				domain.NewAuthError(domain.CodeForbiddenPath, http.StatusForbidden, "Forbidden"))
			return
		}

		// 2. Периметральное утверждение
		assertion := r.Header.Get(g.assertionHeader)
		if assertion == "" {
			g.reject(w, r, start, "", "",
				domain.NewAuthError(domain.CodeMissingAssertion, http.StatusUnauthorized, "Authentication required"))
			return
		}

		claims, err := g.verifier.Verify(assertion, g.audience)
		if err != nil {
			if errors.Is(err, auth.ErrMissingClaim) {
				g.reject(w, r, start, "", "",
					domain.NewAuthError(domain.CodeMissingClaim, http.StatusForbidden, "Email missing from identity"))
				return
			}
			g.logger.Warn("perimeter assertion verification failed", zap.Error(err))
			g.reject(w, r, start, "", "",
				domain.NewAuthError(domain.CodeInvalidAssertion, http.StatusUnauthorized, "Invalid perimeter assertion"))
			return
		}
		caller := claims.Email

		// 2.5 Оперативный blocklist: отозванный principal режется сразу
		if g.blocklist != nil && g.blocklist.IsBlocked(caller) {
			g.reject(w, r, start, caller, "",
				domain.NewAuthError(domain.CodePrincipalBlocked, http.StatusForbidden, "Forbidden"))
			return
		}

		// 3. Посредник / on-behalf-of
		oboToken := r.Header.Get(g.oboHeader)
		acting, _, aerr := g.resolver.Resolve(r.Context(), caller, oboToken)

		// Сырой OBO-токен не должен дойти ни до хендлера, ни до логов —
		// вычищаем безусловно, в том числе на пути отказа.
		r.Header.Del(g.oboHeader)

		if aerr != nil {
			g.reject(w, r, start, caller, "", aerr)
			return
		}

		// 4. Авторизация по директории workspace
		dir, aerr := g.authorizer.Authorize(r.Context(), acting)
		if aerr != nil {
			g.reject(w, r, start, caller, acting, aerr)
			return
		}

		identity := &domain.ResolvedIdentity{
			CallerPrincipal: caller,
			ActingEmail:     acting,
			SlackUserID:     dir.SlackUserID,
			TeamID:          dir.TeamID,
			EnterpriseID:    dir.EnterpriseID,
		}
		if acting != caller {
			identity.Intermediary = caller
		}

		g.record(r, start, caller, acting, decisionAllowed, http.StatusOK)

		// 5. Привязка identity живет ровно один запрос: она уходит вниз
		// через контекст и исчезает вместе с ним, глобального состояния нет.
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

func (g *Gateway) reject(w http.ResponseWriter, r *http.Request, start time.Time, caller, acting string, aerr *domain.AuthError) {
	g.record(r, start, caller, acting, aerr.Code, aerr.Status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.Status)
	json.NewEncoder(w).Encode(map[string]string{"error": aerr.Message})
}

func (g *Gateway) record(r *http.Request, start time.Time, caller, acting, decision string, status int) {
	g.metrics.AuthDecisions.WithLabelValues(decision).Inc()
	g.metrics.RequestDuration.WithLabelValues(r.URL.Path, decision).
		Observe(time.Since(start).Seconds())

	if g.trail != nil {
		g.trail.Log(audit.Event{
			ID:              uuid.New().String(),
			TraceID:         extractTraceID(r.Context()),
			Path:            r.URL.Path,
			CallerPrincipal: caller,
			ActingEmail:     acting,
			Decision:        decision,
			Status:          status,
			DurationMs:      time.Since(start).Milliseconds(),
		})
	}
}
