package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/domain"
	"github.com/xela07ax/aibot-search-gateway/internal/infra/auth"
)

// IntermediaryPolicy — правило проверки для доверенного сервиса-посредника.
type IntermediaryPolicy struct {
	Pattern        string // подстрока в principal вызывающего
	VerifyAudience bool   // проверять ли aud у on-behalf-of токена
	Audience       string // ожидаемый aud (когда VerifyAudience)
}

// TokenVerifier — криптографическая проверка утверждения (infra/auth.Verifier).
type TokenVerifier interface {
	Verify(assertion, expectedAudience string) (*domain.IdentityClaims, error)
}

// Resolver решает, от чьего имени выполняется запрос.
//
// Прямой пользователь: его собственный claim финален, on-behalf-of токен
// не нужен, лимитер не трогается. Посредник: обязан принести OBO-токен,
// который проверяется по политике этого посредника, и каждое такое
// действие проходит через лимит на число различных identity.
type Resolver struct {
	verifier  TokenVerifier
	counter   WindowedCounter
	policies  []IntermediaryPolicy
	window    time.Duration
	maxUnique int
	logger    *zap.Logger
}

func NewResolver(verifier TokenVerifier, counter WindowedCounter, policies []IntermediaryPolicy,
	window time.Duration, maxUnique int, logger *zap.Logger) *Resolver {
	return &Resolver{
		verifier:  verifier,
		counter:   counter,
		policies:  policies,
		window:    window,
		maxUnique: maxUnique,
		logger:    logger.Named("resolver"),
	}
}

// matchPolicy возвращает политику посредника или nil для прямого пользователя.
// Таблица — данные, не код: новый посредник добавляется конфигом.
func (r *Resolver) matchPolicy(principal string) *IntermediaryPolicy {
	for i := range r.policies {
		if strings.Contains(principal, r.policies[i].Pattern) {
			return &r.policies[i]
		}
	}
	return nil
}

// Resolve возвращает acting-identity и сработавшую политику посредника
// (nil для прямого пользователя). oboToken — сырое значение заголовка,
// может быть пустым.
func (r *Resolver) Resolve(ctx context.Context, callerPrincipal, oboToken string) (string, *IntermediaryPolicy, *domain.AuthError) {
	pol := r.matchPolicy(callerPrincipal)
	if pol == nil {
		return callerPrincipal, nil, nil
	}

	if oboToken == "" {
		r.logger.Warn("intermediary calling without impersonation token",
			zap.String("principal", callerPrincipal))
		return "", nil, domain.NewAuthError(domain.CodeMissingImpersonation,
			http.StatusUnauthorized, "Impersonation token required")
	}

	// aud выбирается политикой: "" = проверка audience сознательно опущена
	expectedAudience := ""
	if pol.VerifyAudience {
		expectedAudience = pol.Audience
	}

	claims, err := r.verifier.Verify(oboToken, expectedAudience)
	if err != nil {
		if errors.Is(err, auth.ErrMissingClaim) {
			return "", nil, domain.NewAuthError(domain.CodeMissingClaim,
				http.StatusForbidden, "Email missing from identity")
		}
		r.logger.Warn("impersonation token verification failed",
			zap.String("principal", callerPrincipal), zap.Error(err))
		return "", nil, domain.NewAuthError(domain.CodeInvalidImpersonation,
			http.StatusForbidden, "Invalid impersonation token")
	}
	acting := claims.Email

	// Лимит считается только для посредников; недоступный лимитер = отказ
	allowed, err := r.counter.RecordAndCheck(ctx, acting, r.window, r.maxUnique)
	if err != nil {
		r.logger.Error("impersonation rate check failed", zap.Error(err))
		return "", nil, domain.NewAuthError(domain.CodeInternal,
			http.StatusInternalServerError, "Security validation failed")
	}
	if !allowed {
		r.logger.Warn("impersonation rate limit exceeded",
			zap.String("principal", callerPrincipal), zap.String("acting_as", acting))
		return "", nil, domain.NewAuthError(domain.CodeRateLimited,
			http.StatusTooManyRequests, "Impersonation rate limit exceeded")
	}

	return acting, pol, nil
}
