package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// IdentityClaims — полезная нагрузка проверенного JWT.
// Один и тот же формат используется и для периметрального утверждения (IAP),
// и для on-behalf-of токена посредника: нас интересует только email.
type IdentityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ResolvedIdentity — итоговая личность запроса, которую обязан использовать
// весь конвейер ниже шлюза. Создается ТОЛЬКО шлюзом, живет строго в рамках
// одного запроса (передается через context, никогда не сохраняется).
type ResolvedIdentity struct {
	CallerPrincipal string // кто физически пришел (email из периметрального токена)
	ActingEmail     string // от чьего имени работаем (для прямого пользователя совпадает с CallerPrincipal)
	Intermediary    string // principal посредника, "" для прямого пользователя
	SlackUserID     string
	TeamID          string
	EnterpriseID    string
}

// DirectoryIdentity — то, что директория workspace знает о пользователе.
// Результат живого lookup, а не кэша: источник правды всегда директория.
type DirectoryIdentity struct {
	SlackUserID  string
	TeamID       string
	EnterpriseID string
}
