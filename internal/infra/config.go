package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации шлюза.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (аудит-трейл).
// Пустой URL — допустимый режим: события аудита пишутся только в лог.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig описывает подключение к Redis (лог импершенейшена и blocklist).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IntermediaryConfig — одно правило для доверенного сервиса-посредника.
// Новый посредник — это новая запись здесь, а не новая ветка в коде.
type IntermediaryConfig struct {
	Pattern        string `mapstructure:"pattern"`         // подстрока в principal вызывающего
	VerifyAudience bool   `mapstructure:"verify_audience"` // проверять ли aud у on-behalf-of токена
	Audience       string `mapstructure:"audience"`        // ожидаемый aud (когда verify_audience)
}

// AuthConfig содержит контракт заголовков и материал для проверки подписей.
type AuthConfig struct {
	AssertionHeader     string               `mapstructure:"assertion_header"`     // периметральное утверждение
	ImpersonationHeader string               `mapstructure:"impersonation_header"` // on-behalf-of токен
	Audience            string               `mapstructure:"audience"`             // ожидаемый aud периметрального токена
	ClientID            string               `mapstructure:"client_id"`            // aud для OBO-токенов "logic"-посредника
	ClockSkew           time.Duration        `mapstructure:"clock_skew"`
	AllowedPaths        []string             `mapstructure:"allowed_paths"`
	Intermediaries      []IntermediaryConfig `mapstructure:"intermediaries"`
	PublicKeyPath       string               `mapstructure:"public_key_path"`
	PublicKey           []byte
}

// PolicyConfig — allow-листы авторизации. Все три пустые = запрещено всем.
type PolicyConfig struct {
	AllowedDomains       []string `mapstructure:"allowed_domains"`
	AllowedTeamIDs       []string `mapstructure:"allowed_team_ids"`
	AllowedEnterpriseIDs []string `mapstructure:"allowed_enterprise_ids"`
}

// LimitsConfig — скользящее окно лимита импершенейшена.
type LimitsConfig struct {
	ImpersonationWindow     time.Duration `mapstructure:"impersonation_window"`
	MaxUniqueImpersonations int           `mapstructure:"max_unique_impersonations"`
}

// SlackConfig — доступ к Slack Web API.
// BotToken — для директории (lookup по email), UserToken — для чтения
// каналов/тредов от имени поискового пользователя.
type SlackConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	BotToken  string        `mapstructure:"bot_token"`
	UserToken string        `mapstructure:"user_token"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig — внешний сервис эмбеддингов.
type EmbeddingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// IndexConfig — внешний векторный индекс.
type IndexConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	TopK    int           `mapstructure:"top_k"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuditConfig настраивает асинхронный писатель аудит-трейла.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: AUTH_AUDIENCE=... перекроет auth.audience
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ периметра: либо сам PEM в ENV (Docker/K8s), либо файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	// 7. Таблица посредников по умолчанию: logic-сервер проверяется по aud,
	// accessor — только подпись/срок
	if len(cfg.Auth.Intermediaries) == 0 {
		cfg.Auth.Intermediaries = []IntermediaryConfig{
			{Pattern: "aibot-logic", VerifyAudience: true, Audience: cfg.Auth.ClientID},
			{Pattern: "mcp-client-accessor", VerifyAudience: false},
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Viper видит ENV-переменную только для известного ему ключа, поэтому
	// секреты без значимых дефолтов тоже регистрируются, пустыми
	v.SetDefault("database.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("slack.bot_token", "")
	v.SetDefault("slack.user_token", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("index.base_url", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.assertion_header", "X-Goog-IAP-JWT-Assertion")
	v.SetDefault("auth.impersonation_header", "X-User-ID-Token")
	v.SetDefault("auth.clock_skew", 10*time.Second)
	v.SetDefault("auth.allowed_paths", []string{"/v1/search"})
	v.SetDefault("limits.impersonation_window", 60*time.Second)
	v.SetDefault("limits.max_unique_impersonations", 20)
	v.SetDefault("slack.base_url", "https://slack.com")
	v.SetDefault("slack.timeout", 10*time.Second)
	v.SetDefault("embedding.model", "text-embedding-004")
	v.SetDefault("embedding.timeout", 10*time.Second)
	v.SetDefault("index.top_k", 15)
	v.SetDefault("index.timeout", 15*time.Second)
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource читает ключевой материал из ENV или файла.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
