package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/auth-module/internal/domain/model"
	"github.com/bigkaa/goartstore/auth-module/internal/domain/scope"
)

// ServiceAccountRepository — хранилище сервисных аккаунтов и их scopes.
// Выборки одиночного аккаунта не заполняют Scopes: права читаются через ListScopes.
type ServiceAccountRepository interface {
	// Create создаёт SA. Scopes не сохраняются, для них — AddScope.
	Create(ctx context.Context, sa *model.ServiceAccount) error
	// GetByID возвращает SA по UUID.
	GetByID(ctx context.Context, id string) (*model.ServiceAccount, error)
	// GetByIDForUpdate возвращает SA по UUID с блокировкой строки до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.ServiceAccount, error)
	// GetByClientID возвращает SA по публичному client_id.
	GetByClientID(ctx context.Context, clientID string) (*model.ServiceAccount, error)
	// ListByUser возвращает SA владельца со scopes, новые первыми.
	ListByUser(ctx context.Context, userID string) ([]*model.ServiceAccount, error)
	// Update обновляет имя, срок действия и список IP.
	Update(ctx context.Context, sa *model.ServiceAccount) error
	// UpdateSecretHash заменяет хэш секрета одним UPDATE.
	UpdateSecretHash(ctx context.Context, id, secretHash string) error
	// Delete удаляет SA, scopes удаляются каскадно.
	Delete(ctx context.Context, id string) error
	// ListScopes возвращает scopes SA, упорядоченные по (target, permission).
	ListScopes(ctx context.Context, id string) ([]scope.Scope, error)
	// AddScope добавляет scope к SA.
	AddScope(ctx context.Context, id string, s scope.Scope) error
	// RemoveScope удаляет scope у SA.
	RemoveScope(ctx context.Context, id string, s scope.Scope) error
}

// serviceAccountRepo — реализация ServiceAccountRepository.
type serviceAccountRepo struct {
	db DBTX
}

// NewServiceAccountRepository создаёт репозиторий Service Accounts.
func NewServiceAccountRepository(db DBTX) ServiceAccountRepository {
	return &serviceAccountRepo{db: db}
}

// scanServiceAccount сканирует строку результата в модель ServiceAccount.
func scanServiceAccount(row pgx.Row) (*model.ServiceAccount, error) {
	sa := &model.ServiceAccount{}
	err := row.Scan(
		&sa.ID, &sa.UserID, &sa.ClientID, &sa.SecretHash, &sa.Name,
		&sa.ValidFrom, &sa.ValidTo, &sa.AllowedIPs,
		&sa.CreatedAt, &sa.UpdatedAt,
	)
	if sa.AllowedIPs == nil {
		sa.AllowedIPs = []string{}
	}
	return sa, err
}

const saColumns = `id, user_id, client_id, secret_hash, name,
	valid_from, valid_to, allowed_ips, created_at, updated_at`

func (r *serviceAccountRepo) Create(ctx context.Context, sa *model.ServiceAccount) error {
	query := `
		INSERT INTO service_accounts (id, user_id, client_id, secret_hash, name,
			valid_from, valid_to, allowed_ips)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	allowed := sa.AllowedIPs
	if allowed == nil {
		allowed = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		sa.ID, sa.UserID, sa.ClientID, sa.SecretHash, sa.Name,
		sa.ValidFrom, sa.ValidTo, allowed,
	).Scan(&sa.CreatedAt, &sa.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client_id уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания SA: %w", err)
	}
	return nil
}

func (r *serviceAccountRepo) GetByID(ctx context.Context, id string) (*model.ServiceAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_accounts WHERE id = $1`, saColumns)
	return r.getOne(ctx, query, id, "ошибка получения SA")
}

func (r *serviceAccountRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.ServiceAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_accounts WHERE id = $1 FOR UPDATE`, saColumns)
	return r.getOne(ctx, query, id, "ошибка блокировки SA")
}

func (r *serviceAccountRepo) GetByClientID(ctx context.Context, clientID string) (*model.ServiceAccount, error) {
	query := fmt.Sprintf(`SELECT %s FROM service_accounts WHERE client_id = $1`, saColumns)
	return r.getOne(ctx, query, clientID, "ошибка получения SA по client_id")
}

// getOne выполняет выборку одной строки и переводит pgx.ErrNoRows в ErrNotFound.
func (r *serviceAccountRepo) getOne(ctx context.Context, query, arg, errMsg string) (*model.ServiceAccount, error) {
	sa, err := scanServiceAccount(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	return sa, nil
}

func (r *serviceAccountRepo) ListByUser(ctx context.Context, userID string) ([]*model.ServiceAccount, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM service_accounts
		WHERE user_id = $1
		ORDER BY created_at DESC, id`, saColumns)

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка SA: %w", err)
	}
	defer rows.Close()

	result := []*model.ServiceAccount{}
	byID := make(map[string]*model.ServiceAccount)
	ids := []string{}
	for rows.Next() {
		sa, err := scanServiceAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования SA: %w", err)
		}
		sa.Scopes = []scope.Scope{}
		result = append(result, sa)
		byID[sa.ID] = sa
		ids = append(ids, sa.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка SA: %w", err)
	}
	if len(ids) == 0 {
		return result, nil
	}

	// Scopes всех аккаунтов одним запросом
	scopeRows, err := r.db.Query(ctx, `
		SELECT service_account_id, target, permission
		FROM service_account_scopes
		WHERE service_account_id = ANY($1::text[]::uuid[])
		ORDER BY service_account_id, target, permission`, ids)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения scopes: %w", err)
	}
	defer scopeRows.Close()

	for scopeRows.Next() {
		var accountID, target, permission string
		if err := scopeRows.Scan(&accountID, &target, &permission); err != nil {
			return nil, fmt.Errorf("ошибка сканирования scope: %w", err)
		}
		s, err := scope.New(target, permission)
		if err != nil {
			return nil, fmt.Errorf("некорректный scope в БД: %w", err)
		}
		if sa, ok := byID[accountID]; ok {
			sa.Scopes = append(sa.Scopes, s)
		}
	}
	if err := scopeRows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения scopes: %w", err)
	}
	return result, nil
}

func (r *serviceAccountRepo) Update(ctx context.Context, sa *model.ServiceAccount) error {
	query := `
		UPDATE service_accounts
		SET name = $2, valid_from = $3, valid_to = $4, allowed_ips = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	allowed := sa.AllowedIPs
	if allowed == nil {
		allowed = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		sa.ID, sa.Name, sa.ValidFrom, sa.ValidTo, allowed,
	).Scan(&sa.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления SA: %w", err)
	}
	return nil
}

func (r *serviceAccountRepo) UpdateSecretHash(ctx context.Context, id, secretHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE service_accounts SET secret_hash = $2, updated_at = now() WHERE id = $1`,
		id, secretHash)
	if err != nil {
		return fmt.Errorf("ошибка обновления секрета SA: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *serviceAccountRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM service_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления SA: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *serviceAccountRepo) ListScopes(ctx context.Context, id string) ([]scope.Scope, error) {
	rows, err := r.db.Query(ctx, `
		SELECT target, permission
		FROM service_account_scopes
		WHERE service_account_id = $1
		ORDER BY target, permission`, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения scopes SA: %w", err)
	}
	defer rows.Close()

	result := []scope.Scope{}
	for rows.Next() {
		var target, permission string
		if err := rows.Scan(&target, &permission); err != nil {
			return nil, fmt.Errorf("ошибка сканирования scope: %w", err)
		}
		s, err := scope.New(target, permission)
		if err != nil {
			return nil, fmt.Errorf("некорректный scope в БД: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *serviceAccountRepo) AddScope(ctx context.Context, id string, s scope.Scope) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO service_account_scopes (service_account_id, target, permission)
		VALUES ($1, $2, $3)`,
		id, string(s.Target), string(s.Permission))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: scope %s уже назначен", ErrConflict, s)
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка добавления scope: %w", err)
	}
	return nil
}

func (r *serviceAccountRepo) RemoveScope(ctx context.Context, id string, s scope.Scope) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM service_account_scopes
		WHERE service_account_id = $1 AND target = $2 AND permission = $3`,
		id, string(s.Target), string(s.Permission))
	if err != nil {
		return fmt.Errorf("ошибка удаления scope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
