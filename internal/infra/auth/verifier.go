package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/aibot-search-gateway/internal/domain"
)

var (
	// ErrInvalidAssertion — подпись/срок/aud не прошли проверку.
	ErrInvalidAssertion = errors.New("invalid assertion")
	// ErrMissingClaim — токен криптографически валиден, но не несет identity.
	ErrMissingClaim = errors.New("identity claim missing")
)

// Verifier проверяет JWT, подписанные периметральным прокси (RS256).
// Проверка чистая: без побочных эффектов и сетевых вызовов.
type Verifier struct {
	keys   map[string]*rsa.PublicKey // kid -> ключ
	leeway time.Duration             // допуск на рассинхронизацию часов
}

func NewVerifier(keys map[string]*rsa.PublicKey, leeway time.Duration) *Verifier {
	return &Verifier{keys: keys, leeway: leeway}
}

// keyFunc подбирает ключ по kid; если kid нет, а ключ один — используем его
// (периметр не всегда проставляет kid в заголовок).
func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		if key, ok := v.keys[kid]; ok {
			return key, nil
		}
		if len(v.keys) > 1 {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
	}

	for _, key := range v.keys {
		return key, nil
	}
	return nil, errors.New("no verification keys configured")
}

// Verify проверяет подпись, срок действия и (опционально) audience.
// expectedAudience == "" означает, что проверка aud сознательно пропускается —
// такой режим допустим только для отдельных политик посредников.
func (v *Verifier) Verify(assertion, expectedAudience string) (*domain.IdentityClaims, error) {
	assertion = strings.TrimSpace(strings.TrimPrefix(assertion, "Bearer "))

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if expectedAudience != "" {
		opts = append(opts, jwt.WithAudience(expectedAudience))
	}

	claims := &domain.IdentityClaims{}
	token, err := jwt.ParseWithClaims(assertion, claims, v.keyFunc, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	if claims.Email == "" {
		return nil, ErrMissingClaim
	}

	return claims, nil
}

// ParseRSAPublicKey превращает []byte PEM в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
