// token.go — выдача токенов сервисным аккаунтам (client credentials).
// Порядок шагов фиксирован и прерывается на первой ошибке:
// блокировка → поиск по client_id → политика доступа → проверка секрета →
// сборка scopes → подпись.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/access"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/secret"
	"github.com/bigkaa/goartstore/auth-module/internal/repository"
	"github.com/bigkaa/goartstore/auth-module/internal/token"
)

// Результаты запроса токена для метрики au_token_requests_total.
const (
	tokenResultIssued  = "issued"
	tokenResultInvalid = "invalid_credentials"
	tokenResultDenied  = "denied"
	tokenResultLocked  = "locked"
	tokenResultError   = "error"
)

var tokenRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "au_token_requests_total",
		Help: "Количество запросов токена SA по результату.",
	},
	[]string{"result"},
)

// ScopeAssembler собирает scopes SA для токена.
type ScopeAssembler interface {
	AssembleScopes(ctx context.Context, id string) ([]string, error)
}

// TokenResult — выданный токен.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int
	// Scope — scopes через пробел
	Scope  string
	Scopes []string
}

// TokenService — выдача токенов SA.
type TokenService struct {
	saRepo  repository.ServiceAccountRepository
	secrets *secret.Manager
	scopes  ScopeAssembler
	issuer  *token.Issuer
	lockout *LockoutTracker
	now     func() time.Time
	logger  *slog.Logger
}

// NewTokenService создаёт сервис выдачи токенов.
// lockout может быть nil — блокировка выключена.
func NewTokenService(
	saRepo repository.ServiceAccountRepository,
	secrets *secret.Manager,
	scopes ScopeAssembler,
	issuer *token.Issuer,
	lockout *LockoutTracker,
	logger *slog.Logger,
) *TokenService {
	return &TokenService{
		saRepo:  saRepo,
		secrets: secrets,
		scopes:  scopes,
		issuer:  issuer,
		lockout: lockout,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "token_service")),
	}
}

// Issue обменивает client_id и секрет на подписанный токен.
//
// Ошибки:
//   - *LockedError (ErrLocked) — client_id заблокирован после неудачных попыток;
//   - ErrUnauthorized — неизвестный client_id или неверный секрет, не различаются;
//   - *DeniedError (ErrForbidden) — срок действия или IP не проходят политику.
//
// Отказ политики не считается неудачной попыткой: его причина не зависит от секрета.
func (s *TokenService) Issue(ctx context.Context, clientID, clientSecret, sourceIP string) (*TokenResult, error) {
	log := s.logger.With(
		slog.String("client_id", clientID),
		slog.String("source_ip", sourceIP),
	)

	if retryAfter, locked := s.lockout.Check(clientID); locked {
		tokenRequestsTotal.WithLabelValues(tokenResultLocked).Inc()
		log.Warn("Запрос токена для заблокированного client_id",
			slog.Duration("retry_after", retryAfter),
		)
		return nil, &LockedError{RetryAfter: retryAfter}
	}

	sa, err := s.saRepo.GetByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.secrets.VerifyDummy(clientSecret)
			return nil, s.failure(log, "неизвестный client_id", s.lockout.RecordUnknownFailure(clientID))
		}
		tokenRequestsTotal.WithLabelValues(tokenResultError).Inc()
		return nil, fmt.Errorf("получение SA по client_id: %w", err)
	}

	if decision := access.Evaluate(sa, s.now(), sourceIP); !decision.Allowed {
		tokenRequestsTotal.WithLabelValues(tokenResultDenied).Inc()
		log.Warn("Выдача токена запрещена политикой",
			slog.String("sa_id", sa.ID),
			slog.String("reason", string(decision.Reason)),
		)
		return nil, &DeniedError{Reason: decision.Reason}
	}

	if !s.secrets.Verify(clientSecret, sa.SecretHash) {
		return nil, s.failure(log, "неверный секрет", s.lockout.RecordFailure(clientID))
	}

	scopes, err := s.scopes.AssembleScopes(ctx, sa.ID)
	if err != nil {
		tokenRequestsTotal.WithLabelValues(tokenResultError).Inc()
		return nil, fmt.Errorf("сборка scopes: %w", err)
	}

	signed, err := s.issuer.Sign(token.Subject{
		ClientID: sa.ClientID,
		OwnerID:  sa.UserID,
		Scopes:   scopes,
	})
	if err != nil {
		tokenRequestsTotal.WithLabelValues(tokenResultError).Inc()
		return nil, err
	}

	s.lockout.Reset(clientID)
	tokenRequestsTotal.WithLabelValues(tokenResultIssued).Inc()
	log.Info("Токен выдан",
		slog.String("sa_id", sa.ID),
		slog.String("jti", signed.ID),
		slog.Int("scopes", len(scopes)),
	)

	return &TokenResult{
		AccessToken: signed.Token,
		TokenType:   token.TokenType,
		ExpiresIn:   signed.ExpiresIn,
		Scope:       scope.Join(scopes),
		Scopes:      scopes,
	}, nil
}

// failure логирует неудачную попытку и возвращает ErrUnauthorized.
// lockedFor — результат учёта попытки в LockoutTracker.
func (s *TokenService) failure(log *slog.Logger, reason string, lockedFor time.Duration) error {
	tokenRequestsTotal.WithLabelValues(tokenResultInvalid).Inc()
	if lockedFor > 0 {
		log.Warn("Неудачная попытка, client_id заблокирован",
			slog.String("reason", reason),
			slog.Duration("locked_for", lockedFor),
		)
	} else {
		log.Info("Неудачная попытка получения токена", slog.String("reason", reason))
	}
	return ErrUnauthorized
}
