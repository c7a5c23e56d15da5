// service_accounts.go — сервис управления Service Accounts.
// Создание, список, изменение, отзыв и ротация секрета SA владельцем.
// Каждая операция над конкретным SA проверяет, что вызывающий — его владелец.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/model"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/secret"
	"github.com/bigkaa/goartstore/auth-module/internal/repository"
)

// ServiceAccountService — сервис управления Service Accounts.
type ServiceAccountService struct {
	saRepo   repository.ServiceAccountRepository
	tx       repository.Transactor
	secrets  *secret.Manager
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewServiceAccountService создаёт сервис Service Accounts.
func NewServiceAccountService(
	saRepo repository.ServiceAccountRepository,
	tx repository.Transactor,
	secrets *secret.Manager,
	logger *slog.Logger,
) *ServiceAccountService {
	return &ServiceAccountService{
		saRepo:   saRepo,
		tx:       tx,
		secrets:  secrets,
		validate: newValidator(),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "sa_service")),
	}
}

// ServiceAccountWithSecret — SA с секретом (возвращается только при создании).
type ServiceAccountWithSecret struct {
	*model.ServiceAccount
	ClientSecret string
}

// CreateInput — параметры создания SA.
type CreateInput struct {
	Name string
	// ValidFrom — начало срока (nil — момент создания)
	ValidFrom *time.Time
	// ValidTo — конец срока (nil — бессрочно)
	ValidTo    *time.Time
	AllowedIPs []string
	Scopes     []ScopeInput
}

// UpdateInput — частичное изменение SA. nil — поле не меняется.
type UpdateInput struct {
	Name      *string
	ValidFrom *time.Time
	ValidTo   *time.Time
	// ClearValidTo — сделать SA бессрочным (ValidTo игнорируется)
	ClearValidTo bool
	AllowedIPs   *[]string
	// Scopes — желаемый полный набор scopes
	Scopes *[]ScopeInput
}

// Create создаёт SA с начальными scopes в одной транзакции.
// Возвращает SA с client_secret (показывается только один раз).
func (s *ServiceAccountService) Create(ctx context.Context, userID string, in CreateInput) (*ServiceAccountWithSecret, error) {
	name := strings.TrimSpace(in.Name)
	ips := normalizeIPs(in.AllowedIPs)
	scopeInputs := in.Scopes
	if err := validateFields(s.validate, accountFields{
		Name:       &name,
		AllowedIPs: &ips,
		Scopes:     &scopeInputs,
	}, in.ValidFrom, in.ValidTo); err != nil {
		return nil, err
	}
	scopes, err := parseScopes(in.Scopes)
	if err != nil {
		return nil, err
	}

	clientID, err := s.secrets.GeneratePublicID()
	if err != nil {
		return nil, fmt.Errorf("генерация client_id: %w", err)
	}
	clientSecret, err := s.secrets.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("генерация секрета: %w", err)
	}
	hash, err := s.secrets.Hash(clientSecret)
	if err != nil {
		return nil, err
	}

	validFrom := s.now().UTC()
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC()
	}
	var validTo *time.Time
	if in.ValidTo != nil {
		v := in.ValidTo.UTC()
		validTo = &v
	}

	sa := &model.ServiceAccount{
		ID:         uuid.New().String(),
		UserID:     userID,
		ClientID:   clientID,
		SecretHash: hash,
		Name:       name,
		ValidFrom:  validFrom,
		ValidTo:    validTo,
		AllowedIPs: ips,
	}

	err = s.tx.WithServiceAccounts(ctx, func(repo repository.ServiceAccountRepository) error {
		if err := repo.Create(ctx, sa); err != nil {
			return err
		}
		for _, sc := range scopes {
			if err := repo.AddScope(ctx, sa.ID, sc); err != nil {
				return fmt.Errorf("назначение scope %s: %w", sc, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("сохранение SA в БД: %w", err)
	}
	sa.Scopes = scopes

	s.logger.Info("SA создан",
		slog.String("sa_id", sa.ID),
		slog.String("client_id", clientID),
		slog.String("user_id", userID),
		slog.String("name", name),
		slog.Int("scopes", len(scopes)),
	)

	return &ServiceAccountWithSecret{
		ServiceAccount: sa,
		ClientSecret:   clientSecret,
	}, nil
}

// List возвращает SA владельца со scopes, новые первыми.
func (s *ServiceAccountService) List(ctx context.Context, userID string) ([]*model.ServiceAccount, error) {
	sas, err := s.saRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение списка SA: %w", err)
	}
	return sas, nil
}

// Get возвращает SA владельца по ID вместе со scopes.
func (s *ServiceAccountService) Get(ctx context.Context, userID, id string) (*model.ServiceAccount, error) {
	sa, err := s.getOwned(ctx, s.saRepo.GetByID, userID, id)
	if err != nil {
		return nil, err
	}
	sa.Scopes, err = s.saRepo.ListScopes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("получение scopes SA: %w", err)
	}
	return sa, nil
}

// Update изменяет поля SA и синхронизирует scopes.
// Всё выполняется в одной транзакции с блокировкой строки SA:
// параллельные изменения одного SA выполняются последовательно.
// Синхронизация scopes удаляет лишние до добавления недостающих;
// совпадающие scopes не пересоздаются.
func (s *ServiceAccountService) Update(ctx context.Context, userID, id string, in UpdateInput) (*model.ServiceAccount, error) {
	var name *string
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		name = &trimmed
	}
	var ips *[]string
	if in.AllowedIPs != nil {
		normalized := normalizeIPs(*in.AllowedIPs)
		ips = &normalized
	}
	validTo := in.ValidTo
	if in.ClearValidTo {
		validTo = nil
	}
	if err := validateFields(s.validate, accountFields{
		Name:       name,
		AllowedIPs: ips,
		Scopes:     in.Scopes,
	}, in.ValidFrom, validTo); err != nil {
		return nil, err
	}
	var desired []scope.Scope
	if in.Scopes != nil {
		var err error
		if desired, err = parseScopes(*in.Scopes); err != nil {
			return nil, err
		}
	}

	var (
		result         *model.ServiceAccount
		removed, added []scope.Scope
	)
	err := s.tx.WithServiceAccounts(ctx, func(repo repository.ServiceAccountRepository) error {
		sa, err := s.getOwned(ctx, repo.GetByIDForUpdate, userID, id)
		if err != nil {
			return err
		}

		if name != nil {
			sa.Name = *name
		}
		if in.ValidFrom != nil {
			sa.ValidFrom = in.ValidFrom.UTC()
		}
		if in.ClearValidTo {
			sa.ValidTo = nil
		} else if in.ValidTo != nil {
			v := in.ValidTo.UTC()
			sa.ValidTo = &v
		}
		if ips != nil {
			sa.AllowedIPs = *ips
		}
		// Одна из границ могла прийти без другой: сверяем с сохранённой.
		// Уже истёкшие SA без изменения сроков продолжают редактироваться.
		if (in.ValidFrom != nil || validTo != nil) && sa.ValidTo != nil && !sa.ValidTo.After(sa.ValidFrom) {
			return &ValidationError{Fields: []string{"validTo: должно быть позже validFrom"}}
		}
		if err := repo.Update(ctx, sa); err != nil {
			return mapRepoErr(err, "обновление SA")
		}

		if in.Scopes != nil {
			current, err := repo.ListScopes(ctx, id)
			if err != nil {
				return fmt.Errorf("получение scopes SA: %w", err)
			}
			removed, added = scope.Diff(current, desired)
			for _, sc := range removed {
				if err := repo.RemoveScope(ctx, id, sc); err != nil {
					return fmt.Errorf("удаление scope %s: %w", sc, err)
				}
			}
			for _, sc := range added {
				if err := repo.AddScope(ctx, id, sc); err != nil {
					return fmt.Errorf("добавление scope %s: %w", sc, err)
				}
			}
		}

		sa.Scopes, err = repo.ListScopes(ctx, id)
		if err != nil {
			return fmt.Errorf("получение scopes SA: %w", err)
		}
		result = sa
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("SA обновлён",
		slog.String("sa_id", id),
		slog.String("user_id", userID),
		slog.Int("scopes_removed", len(removed)),
		slog.Int("scopes_added", len(added)),
	)
	return result, nil
}

// Revoke удаляет SA вместе со scopes. Выданные токены действуют до истечения.
func (s *ServiceAccountService) Revoke(ctx context.Context, userID, id string) error {
	var clientID string
	err := s.tx.WithServiceAccounts(ctx, func(repo repository.ServiceAccountRepository) error {
		sa, err := s.getOwned(ctx, repo.GetByIDForUpdate, userID, id)
		if err != nil {
			return err
		}
		clientID = sa.ClientID
		return mapRepoErr(repo.Delete(ctx, id), "удаление SA")
	})
	if err != nil {
		return err
	}

	s.logger.Info("SA отозван",
		slog.String("sa_id", id),
		slog.String("client_id", clientID),
		slog.String("user_id", userID),
	)
	return nil
}

// RotateSecret генерирует новый секрет и заменяет хэш одним UPDATE.
// Старый секрет перестаёт действовать сразу. Новый возвращается один раз.
func (s *ServiceAccountService) RotateSecret(ctx context.Context, userID, id string) (string, error) {
	sa, err := s.getOwned(ctx, s.saRepo.GetByID, userID, id)
	if err != nil {
		return "", err
	}

	newSecret, err := s.secrets.GenerateSecret()
	if err != nil {
		return "", fmt.Errorf("генерация секрета: %w", err)
	}
	hash, err := s.secrets.Hash(newSecret)
	if err != nil {
		return "", err
	}

	if err := s.saRepo.UpdateSecretHash(ctx, id, hash); err != nil {
		return "", mapRepoErr(err, "обновление секрета SA")
	}

	s.logger.Info("Секрет SA ротирован",
		slog.String("sa_id", id),
		slog.String("client_id", sa.ClientID),
		slog.String("user_id", userID),
	)
	return newSecret, nil
}

// AssembleScopes возвращает scopes SA в виде отсортированного списка
// "<target>:<permission>" в нижнем регистре.
func (s *ServiceAccountService) AssembleScopes(ctx context.Context, id string) ([]string, error) {
	scopes, err := s.saRepo.ListScopes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("получение scopes SA: %w", err)
	}
	return scope.Render(scopes), nil
}

// getOwned читает SA и проверяет владельца. Чужой SA неотличим от отсутствующего.
func (s *ServiceAccountService) getOwned(
	ctx context.Context,
	get func(ctx context.Context, id string) (*model.ServiceAccount, error),
	userID, id string,
) (*model.ServiceAccount, error) {
	sa, err := get(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "получение SA")
	}
	if sa.UserID != userID {
		s.logger.Warn("Обращение к чужому SA",
			slog.String("sa_id", id),
			slog.String("user_id", userID),
		)
		return nil, ErrNotFound
	}
	return sa, nil
}

// mapRepoErr переводит ошибки репозитория в ошибки сервисного слоя.
func mapRepoErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
