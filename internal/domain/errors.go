package domain

// Коды отказов цепочки проверки доступа. Машинные: уходят в аудит и метрики,
// клиент видит только Message.
const (
	CodeForbiddenPath        = "forbidden_path"
	CodeMissingAssertion     = "missing_assertion"
	CodeInvalidAssertion     = "invalid_assertion"
	CodeMissingClaim         = "missing_claim"
	CodeMissingImpersonation = "missing_impersonation_token"
	CodeInvalidImpersonation = "invalid_impersonation_token"
	CodeRateLimited          = "rate_limited"
	CodePrincipalBlocked     = "principal_blocked"
	CodeUserNotFound         = "user_not_found"
	CodeUnauthorized         = "unauthorized"
	CodeInternal             = "internal_error"
)

// AuthError — типизированный результат отказа. Каждый шаг шлюза возвращает
// его явно, вместо того чтобы раскручивать стек паникой.
type AuthError struct {
	Code    string // машинный код
	Status  int    // HTTP статус
	Message string // текст для клиента, попадает в {"error": ...}
}

func (e *AuthError) Error() string {
	return e.Message
}

func NewAuthError(code string, status int, message string) *AuthError {
	return &AuthError{Code: code, Status: status, Message: message}
}
