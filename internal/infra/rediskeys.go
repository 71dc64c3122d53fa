package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "aibot"
)

// Ключи состояния
const (
	// RedisKeyImpersonationLog — sorted set "лога" импершенейшена:
	// member = "<unix_ns>_<identity>", score = unix-время записи.
	RedisKeyImpersonationLog = RedisNamespace + ":impersonation:log"

	// RedisKeyBlockedPrincipals — set принципалов с отозванным доступом.
	RedisKeyBlockedPrincipals = RedisNamespace + ":principals:blocked_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPrincipalSignal — трансляция сигналов блокировки/разблокировки
	// принципалов на все инстансы шлюза. Формат: "principal:on|off".
	RedisChanPrincipalSignal = RedisNamespace + ":principals:block-signal"
)
