// Пакет server — HTTP-сервер Auth Module с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bigkaa/goartstore/auth-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/auth-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/auth-module/internal/api/openapi"
	"github.com/bigkaa/goartstore/auth-module/internal/config"
)

// Server — HTTP-сервер Auth Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Deps — компоненты, из которых собирается маршрутизатор.
type Deps struct {
	Handler *handlers.APIHandler
	// JWTAuth — проверка токенов пользователей-владельцев SA
	JWTAuth *middleware.JWTAuth
	// Validator — проверка по OpenAPI-контракту (nil — выключена)
	Validator *openapi.Validator
	// RateLimiter — лимит token endpoint по IP (nil — выключен)
	RateLimiter *middleware.IPRateLimiter
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты Auth Module.
//
// Публичные: health, metrics, JWKS и выдача токенов SA.
// Управление SA — только с токеном пользователя; токены SA отклоняются.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) http.Handler {
	router := chi.NewRouter()

	// За доверенным прокси IP клиента берётся из X-Forwarded-For / X-Real-IP
	if cfg.TrustProxyHeaders {
		router.Use(chimw.RealIP)
	}
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	// Ограничение тела до чтения его OpenAPI-валидатором
	router.Use(chimw.RequestSize(handlers.MaxBodyBytes))

	h := deps.Handler

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)
	router.Get("/.well-known/jwks.json", h.GetJWKS)

	validate := passThrough
	if deps.Validator != nil {
		validate = deps.Validator.Middleware()
	}

	// Выдача токенов: лимит по IP срабатывает до разбора тела
	router.With(deps.RateLimiter.Middleware(), validate).
		Post("/api/v1/service-accounts/token", h.IssueToken)

	router.Group(func(r chi.Router) {
		// Сначала аутентификация: без токена — 401, а не 400
		r.Use(deps.JWTAuth.Middleware())
		r.Use(middleware.RequireUser())
		r.Use(validate)

		r.Post("/api/v1/service-accounts", h.CreateServiceAccount)
		r.Get("/api/v1/service-accounts", h.ListServiceAccounts)
		r.Get("/api/v1/service-accounts/{id}", handlers.WithID(h.GetServiceAccount))
		r.Put("/api/v1/service-accounts/{id}", handlers.WithID(h.UpdateServiceAccount))
		r.Delete("/api/v1/service-accounts/{id}", handlers.WithID(h.RevokeServiceAccount))
		r.Post("/api/v1/service-accounts/{id}/rotate", handlers.WithID(h.RotateServiceAccountSecret))
	})

	return router
}

func passThrough(next http.Handler) http.Handler {
	return next
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
