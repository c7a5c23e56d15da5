// Пакет config — загрузка и валидация конфигурации Auth Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Auth Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Доверять X-Forwarded-For / X-Real-IP при определении IP клиента
	TrustProxyHeaders bool
	// Валидация запросов по встроенному OpenAPI-контракту
	OpenAPIValidation bool

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT пользователей (внешний IdP) ---

	// URL JWKS endpoint IdP, которым подписаны токены пользователей
	JWTJWKSURL string
	// Ожидаемый issuer токенов пользователей (пусто — не проверяется)
	JWTIssuer string
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с IdP (опционально)
	CACertPath string
	// Таймаут проверки готовности IdP
	IdPReadinessTimeout time.Duration

	// --- Выдача токенов SA ---

	// Issuer выпускаемых токенов
	TokenIssuer string
	// Время жизни выпускаемых токенов
	TokenTTL time.Duration
	// Путь к PEM-файлу с RSA-ключом подписи (пусто — эфемерный ключ)
	TokenSigningKeyPath string
	// kid ключа подписи в JWKS
	TokenKeyID string
	// Стоимость bcrypt для хэшей секретов
	BcryptCost int

	// --- Защита token endpoint ---

	// Число подряд неудачных попыток до блокировки client_id (0 — выключено)
	LockoutThreshold int
	// Начальная длительность блокировки
	LockoutBaseDelay time.Duration
	// Максимальная длительность блокировки
	LockoutMaxDelay time.Duration
	// Максимум отслеживаемых client_id
	LockoutCacheSize int
	// Лимит запросов на token endpoint с одного IP (запросов в секунду, 0 — выключено)
	TokenRateLimit float64
	// Допустимый всплеск запросов с одного IP
	TokenRateBurst int
	// Максимум отслеживаемых IP
	TokenRateCacheSize int

	// --- topologymetrics ---

	// Группа в метриках зависимостей
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// AU_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("AU_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("AU_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AU_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AU_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AU_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("AU_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AU_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.TrustProxyHeaders, err = getEnvBool("AU_TRUST_PROXY_HEADERS", false)
	if err != nil {
		return nil, fmt.Errorf("AU_TRUST_PROXY_HEADERS: %w", err)
	}

	cfg.OpenAPIValidation, err = getEnvBool("AU_OPENAPI_VALIDATION", true)
	if err != nil {
		return nil, fmt.Errorf("AU_OPENAPI_VALIDATION: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("AU_DB_HOST")
	if err != nil {
		return nil, err
	}

	cfg.DBPort, err = getEnvInt("AU_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AU_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("AU_DB_NAME")
	if err != nil {
		return nil, err
	}

	cfg.DBUser, err = getEnvRequired("AU_DB_USER")
	if err != nil {
		return nil, err
	}

	cfg.DBPassword, err = getEnvRequired("AU_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("AU_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("AU_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- JWT пользователей ---

	// AU_JWT_JWKS_URL — обязательный, токены пользователей выпускает внешний IdP
	cfg.JWTJWKSURL, err = getEnvRequired("AU_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	if u, parseErr := url.Parse(cfg.JWTJWKSURL); parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("AU_JWT_JWKS_URL: некорректный URL %q", cfg.JWTJWKSURL)
	}

	cfg.JWTIssuer = getEnvDefault("AU_JWT_ISSUER", "")

	cfg.JWTLeeway, err = getEnvDuration("AU_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AU_JWT_LEEWAY: %w", err)
	}

	cfg.JWKSRefreshInterval, err = getEnvDuration("AU_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AU_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSClientTimeout, err = getEnvDuration("AU_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AU_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	cfg.CACertPath = getEnvDefault("AU_CA_CERT_PATH", "")

	cfg.IdPReadinessTimeout, err = getEnvDuration("AU_IDP_READINESS_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AU_IDP_READINESS_TIMEOUT: %w", err)
	}

	// --- Выдача токенов SA ---

	cfg.TokenIssuer = getEnvDefault("AU_TOKEN_ISSUER", "auth-module")

	// AU_TOKEN_TTL — время жизни токена SA (по умолчанию 15m)
	cfg.TokenTTL, err = getEnvDuration("AU_TOKEN_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AU_TOKEN_TTL: %w", err)
	}
	if cfg.TokenTTL < time.Minute || cfg.TokenTTL > 24*time.Hour {
		return nil, fmt.Errorf("AU_TOKEN_TTL: значение %s вне допустимого диапазона 1m-24h", cfg.TokenTTL)
	}

	cfg.TokenSigningKeyPath = getEnvDefault("AU_TOKEN_SIGNING_KEY_PATH", "")
	cfg.TokenKeyID = getEnvDefault("AU_TOKEN_KEY_ID", "auth-module-1")

	// AU_BCRYPT_COST — стоимость bcrypt (по умолчанию 10)
	cfg.BcryptCost, err = getEnvInt("AU_BCRYPT_COST", 10)
	if err != nil {
		return nil, fmt.Errorf("AU_BCRYPT_COST: %w", err)
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, fmt.Errorf("AU_BCRYPT_COST: значение %d вне допустимого диапазона 4-31", cfg.BcryptCost)
	}

	// --- Защита token endpoint ---

	cfg.LockoutThreshold, err = getEnvInt("AU_LOCKOUT_THRESHOLD", 5)
	if err != nil {
		return nil, fmt.Errorf("AU_LOCKOUT_THRESHOLD: %w", err)
	}
	if cfg.LockoutThreshold < 0 {
		return nil, fmt.Errorf("AU_LOCKOUT_THRESHOLD: значение %d не может быть отрицательным", cfg.LockoutThreshold)
	}

	cfg.LockoutBaseDelay, err = getEnvDuration("AU_LOCKOUT_BASE_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("AU_LOCKOUT_BASE_DELAY: %w", err)
	}

	cfg.LockoutMaxDelay, err = getEnvDuration("AU_LOCKOUT_MAX_DELAY", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AU_LOCKOUT_MAX_DELAY: %w", err)
	}
	if cfg.LockoutMaxDelay < cfg.LockoutBaseDelay {
		return nil, fmt.Errorf("AU_LOCKOUT_MAX_DELAY: %s меньше AU_LOCKOUT_BASE_DELAY %s", cfg.LockoutMaxDelay, cfg.LockoutBaseDelay)
	}

	cfg.LockoutCacheSize, err = getEnvInt("AU_LOCKOUT_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("AU_LOCKOUT_CACHE_SIZE: %w", err)
	}
	if cfg.LockoutCacheSize < 1 {
		return nil, fmt.Errorf("AU_LOCKOUT_CACHE_SIZE: значение %d должно быть положительным", cfg.LockoutCacheSize)
	}

	cfg.TokenRateLimit, err = getEnvFloat("AU_TOKEN_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("AU_TOKEN_RATE_LIMIT: %w", err)
	}
	if cfg.TokenRateLimit < 0 {
		return nil, fmt.Errorf("AU_TOKEN_RATE_LIMIT: значение %v не может быть отрицательным", cfg.TokenRateLimit)
	}

	cfg.TokenRateBurst, err = getEnvInt("AU_TOKEN_RATE_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("AU_TOKEN_RATE_BURST: %w", err)
	}
	if cfg.TokenRateBurst < 1 {
		return nil, fmt.Errorf("AU_TOKEN_RATE_BURST: значение %d должно быть положительным", cfg.TokenRateBurst)
	}

	cfg.TokenRateCacheSize, err = getEnvInt("AU_TOKEN_RATE_CACHE_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("AU_TOKEN_RATE_CACHE_SIZE: %w", err)
	}
	if cfg.TokenRateCacheSize < 1 {
		return nil, fmt.Errorf("AU_TOKEN_RATE_CACHE_SIZE: значение %d должно быть положительным", cfg.TokenRateCacheSize)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("AU_DEPHEALTH_GROUP", "artstore")

	cfg.DephealthCheckInterval, err = getEnvDuration("AU_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AU_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("AU_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AU_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL в формате postgres://.
// Используется для лейблов topologymetrics и для golang-migrate (со схемой pgx5).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvFloat возвращает дробное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q (используйте true/false)", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
