// Точка входа Auth Module — модуль сервисных аккаунтов системы Artstore.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// готовит ключ подписи токенов, создаёт сервисный слой и API handlers,
// запускает topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/auth-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/auth-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/auth-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/auth-module/internal/config"
	"github.com/bigkaa/goartstore/auth-module/internal/database"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/secret"
	"github.com/bigkaa/goartstore/auth-module/internal/repository"
	"github.com/bigkaa/goartstore/auth-module/internal/server"
	"github.com/bigkaa/goartstore/auth-module/internal/service"
	"github.com/bigkaa/goartstore/auth-module/internal/token"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Auth Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("AU_DEPHEALTH_GROUP") == "" {
		logger.Warn("AU_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	saRepo := repository.NewServiceAccountRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Секреты и ключ подписи токенов
	secrets, err := secret.NewManager(cfg.BcryptCost)
	if err != nil {
		logger.Error("Ошибка инициализации менеджера секретов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	signingKey, err := token.LoadSigningKey(cfg.TokenSigningKeyPath, logger)
	if err != nil {
		logger.Error("Ошибка загрузки ключа подписи", slog.String("error", err.Error()))
		os.Exit(1)
	}
	issuer, err := token.NewIssuer(ctx, signingKey, token.Options{
		Issuer: cfg.TokenIssuer,
		KeyID:  cfg.TokenKeyID,
		TTL:    cfg.TokenTTL,
	}, logger)
	if err != nil {
		logger.Error("Ошибка создания издателя токенов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Services
	lockout := service.NewLockoutTracker(service.LockoutConfig{
		Threshold: cfg.LockoutThreshold,
		BaseDelay: cfg.LockoutBaseDelay,
		MaxDelay:  cfg.LockoutMaxDelay,
		CacheSize: cfg.LockoutCacheSize,
	})
	serviceAcctsSvc := service.NewServiceAccountService(saRepo, txRunner, secrets, logger)
	tokenSvc := service.NewTokenService(saRepo, secrets, serviceAcctsSvc, issuer, lockout, logger)

	// 8. Readiness checkers (PostgreSQL + JWKS IdP)
	pgChecker := database.NewReadinessChecker(pool, 0) // таймаут по умолчанию
	idpChecker, err := middleware.NewIdPReadinessChecker(cfg.JWTJWKSURL, cfg.CACertPath, cfg.IdPReadinessTimeout)
	if err != nil {
		logger.Error("Ошибка создания IdP readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, idpChecker)

	// 9. API handler
	apiHandler := handlers.NewAPIHandler(healthHandler, serviceAcctsSvc, tokenSvc, issuer, logger)

	// 10. JWT middleware (токены пользователей от внешнего IdP)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 11. Валидация запросов по OpenAPI-контракту
	var validator *openapi.Validator
	if cfg.OpenAPIValidation {
		validator, err = openapi.NewValidator(ctx, logger)
		if err != nil {
			logger.Error("Ошибка загрузки OpenAPI-контракта", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("Валидация по OpenAPI-контракту отключена (AU_OPENAPI_VALIDATION=false)")
	}

	// 12. Лимит запросов token endpoint по IP
	rateLimiter := middleware.NewIPRateLimiter(cfg.TokenRateLimit, cfg.TokenRateBurst, cfg.TokenRateCacheSize, logger)
	logger.Info("Защита token endpoint",
		slog.Bool("rate_limit_enabled", rateLimiter.Enabled()),
		slog.Float64("rate_limit_rps", cfg.TokenRateLimit),
		slog.Bool("lockout_enabled", lockout.Enabled()),
		slog.Int("lockout_threshold", cfg.LockoutThreshold),
	)

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + IdP)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "auth-module",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		IdPJWKSURL:    cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
		// Сертификат IdP подписан собственным CA, недоступным HTTP-чекеру
		TLSSkipVerify: cfg.CACertPath != "",
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Deps{
		Handler:     apiHandler,
		JWTAuth:     jwtAuth,
		Validator:   validator,
		RateLimiter: rateLimiter,
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Auth Module остановлен")
}
